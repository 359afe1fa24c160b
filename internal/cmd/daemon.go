package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhangifonly/termwatch/internal/config"
	"github.com/zhangifonly/termwatch/internal/daemon"
	"github.com/zhangifonly/termwatch/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the termwatch daemon",
	Long: `Manage the termwatch background daemon.

The daemon polls registered assistant sessions on an adaptive schedule,
classifies what they are showing, and executes unblocking actions:
answering menus, repairing corrupted transcripts, switching providers.`,
	RunE: requireSubcommand,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runDaemonStatus,
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon logs",
	RunE:  runDaemonLogs,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run daemon in foreground (internal)",
	Hidden: true,
	RunE:   runDaemonRun,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the daemon",
	Long:  `Stop and start the daemon. Useful after upgrading termwatch.`,
	RunE:  runDaemonRestart,
}

var (
	daemonLogLines  int
	daemonLogFollow bool
)

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonLogsCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonRunCmd)

	daemonLogsCmd.Flags().IntVarP(&daemonLogLines, "lines", "n", 50, "Number of lines to show")
	daemonLogsCmd.Flags().BoolVarP(&daemonLogFollow, "follow", "f", false, "Follow log output")

	rootCmd.AddCommand(daemonCmd)
}

// requireSubcommand is the RunE for parent commands that need a subcommand.
// Without this, cobra silently shows help and exits 0 for unknown
// subcommands, masking errors.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("requires a subcommand\n\nRun '%s --help' for usage", cmd.CommandPath())
	}
	return fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath())
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(dir)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("daemon already running (PID %d)", pid)
	}

	pid, err = spawnDaemon(dir)
	if err != nil {
		return err
	}

	fmt.Printf("Daemon started (PID %d, v%s)\n", pid, Version)
	return nil
}

// spawnDaemon launches 'termwatch daemon run' detached and verifies it
// came up. Returns the PID of whichever process holds the lock, so a lost
// start race still reports the winner.
func spawnDaemon(dir string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("finding executable: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating state dir: %w", err)
	}

	proc := exec.Command(exe, "daemon", "run")
	proc.Dir = dir
	proc.Stdin = nil
	proc.Stdout = nil
	proc.Stderr = nil

	if err := proc.Start(); err != nil {
		return 0, fmt.Errorf("starting daemon: %w", err)
	}

	// Give it a moment to acquire the lock and write the pidfile.
	time.Sleep(200 * time.Millisecond)

	running, pid, err := daemon.IsRunning(dir)
	if err != nil {
		return 0, fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return 0, fmt.Errorf("daemon failed to start (check 'termwatch daemon logs')")
	}
	return pid, nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(dir)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	if err := daemon.StopDaemon(dir); err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}

	fmt.Printf("Daemon stopped (was PID %d)\n", pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(dir)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	if running {
		fmt.Printf("%s (PID %d, v%s)\n", ui.Value("daemon running"), pid, Version)
		if st, err := daemon.ReadStatus(dir); err == nil {
			fmt.Printf("  %s  %s\n", ui.Label("Health:   "), ui.Health(st.Health))
		}
	} else {
		fmt.Printf("%s\n", ui.Label("daemon not running"))
	}
	fmt.Println()
	fmt.Printf("  %s  %s\n", ui.Label("State dir:"), ui.Value(dir))
	fmt.Printf("  %s  %s\n", ui.Label("Log:      "), ui.Value(daemon.LogPath(dir, cfg)))
	fmt.Printf("  %s  %s\n", ui.Label("Tick:     "), ui.Value(cfg.Daemon.Tick().String()))
	if !running {
		fmt.Println()
		fmt.Printf("  Start with: termwatch daemon start\n")
	}
	return nil
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	logFile := daemon.LogPath(dir, cfg)
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return fmt.Errorf("no log file found at %s", logFile)
	}

	if daemonLogFollow {
		tail := exec.Command("tail", "-f", logFile)
		tail.Stdout = os.Stdout
		tail.Stderr = os.Stderr
		return tail.Run()
	}

	tail := exec.Command("tail", "-n", fmt.Sprintf("%d", daemonLogLines), logFile)
	tail.Stdout = os.Stdout
	tail.Stderr = os.Stderr
	return tail.Run()
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	d, err := daemon.New(dir, cfg, nil, nil)
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}
	return d.Run()
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}

	running, oldPid, err := daemon.IsRunning(dir)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if running {
		fmt.Printf("Stopping daemon (PID %d)...\n", oldPid)
		if err := daemon.StopDaemon(dir); err != nil {
			return fmt.Errorf("stopping daemon: %w", err)
		}
		time.Sleep(200 * time.Millisecond)
	}

	pid, err := spawnDaemon(dir)
	if err != nil {
		return err
	}

	if oldPid > 0 {
		fmt.Printf("Daemon restarted (PID %d -> %d, v%s)\n", oldPid, pid, Version)
	} else {
		fmt.Printf("Daemon started (PID %d, v%s)\n", pid, Version)
	}
	return nil
}
