package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhangifonly/termwatch/internal/daemon"
	"github.com/zhangifonly/termwatch/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine and analysis backend health",
	Long: `Show the monitor engine snapshot the daemon last persisted: analysis
backend health, network state, error counters, and session count.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(dir)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		fmt.Println(ui.Label("daemon not running"))
		fmt.Println()
		fmt.Printf("  Start with: termwatch daemon start\n")
		return nil
	}

	st, err := daemon.ReadStatus(dir)
	if err != nil {
		return fmt.Errorf("reading daemon status: %w", err)
	}

	fmt.Println(ui.Header(fmt.Sprintf("termwatch (PID %d, v%s)", pid, Version)))
	fmt.Printf("  %s  %s\n", ui.Label("Health:  "), ui.Health(st.Health))
	fmt.Printf("  %s  %s\n", ui.Label("Network: "), ui.Value(st.Network))
	fmt.Printf("  %s  %s\n", ui.Label("Sessions:"), ui.Value(fmt.Sprintf("%d", st.Sessions)))
	if st.ConsecutiveErrors > 0 || st.ConsecutiveNetworkErrors > 0 {
		fmt.Printf("  %s  %s\n", ui.Label("Errors:  "),
			ui.Value(fmt.Sprintf("%d api, %d network", st.ConsecutiveErrors, st.ConsecutiveNetworkErrors)))
	}
	if st.LastError != "" {
		fmt.Printf("  %s  %s\n", ui.Label("Last err:"), ui.Value(st.LastError))
	}
	if !st.LastSuccessAt.IsZero() {
		fmt.Printf("  %s  %s ago\n", ui.Label("Last ok: "), ui.Value(time.Since(st.LastSuccessAt).Round(time.Second).String()))
	}
	fmt.Printf("  %s  %s ago\n", ui.Label("Updated: "), ui.Value(time.Since(st.UpdatedAt).Round(time.Second).String()))
	return nil
}
