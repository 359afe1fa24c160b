// Package cmd provides CLI commands for the termwatch tool.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version is the CLI version, overridable at build time via -ldflags.
var Version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:     "termwatch",
	Short:   "Adaptive monitor for AI assistant terminal sessions",
	Version: Version,
	Long: `termwatch watches AI coding assistant terminal sessions and keeps them
moving: it answers interactive menus, backs off while the assistant is
busy, repairs corrupted session transcripts, and fails over to an
alternate provider when the current one is rate-limited.`,
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		// Errors are already printed by cobra
		return 1
	}
	return 0
}

func init() {
	cobra.EnablePrefixMatching = true
}

// stateDir resolves the directory holding the config, pidfile, and log.
// TERMWATCH_DIR overrides the default ~/.termwatch.
func stateDir() (string, error) {
	if dir := os.Getenv("TERMWATCH_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".termwatch"), nil
}
