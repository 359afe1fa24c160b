// termwatch is the CLI for the adaptive session monitor daemon.
package main

import (
	"os"

	"github.com/zhangifonly/termwatch/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
