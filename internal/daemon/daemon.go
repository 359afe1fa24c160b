// Package daemon runs the monitor engine as a background service. The daemon
// owns the log file, the pidfile and its lock, the fixed-cadence tick driver,
// and config hot-reload; all supervision logic lives in internal/monitor.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/zhangifonly/termwatch/internal/classify"
	"github.com/zhangifonly/termwatch/internal/config"
	"github.com/zhangifonly/termwatch/internal/cooldown"
	"github.com/zhangifonly/termwatch/internal/events"
	"github.com/zhangifonly/termwatch/internal/failover"
	"github.com/zhangifonly/termwatch/internal/health"
	"github.com/zhangifonly/termwatch/internal/monitor"
	"github.com/zhangifonly/termwatch/internal/recovery"
	"github.com/zhangifonly/termwatch/internal/session"
)

const (
	pidFileName    = "daemon.pid"
	lockFileName   = "daemon.lock"
	logFileName    = "daemon.log"
	statusFileName = "status.json"

	// stopGraceDelay is how long StopDaemon waits after SIGTERM before
	// escalating to SIGKILL.
	stopGraceDelay = 2 * time.Second
)

// Daemon ties the engine together and drives it on a fixed cadence.
type Daemon struct {
	dir    string
	cfg    *config.Config
	logger *log.Logger

	registry *session.Registry
	bus      *events.Bus
	tracker  *health.Tracker
	monitor  *monitor.Monitor

	ctx    context.Context
	cancel context.CancelFunc
}

// New assembles a daemon rooted at dir. The classifier and provider switcher
// are pluggable; nil selects the built-in cheap classifier and an
// advisory-only failover.
func New(dir string, cfg *config.Config, classifier classify.Classifier, switcher session.Switcher) (*Daemon, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating daemon directory: %w", err)
	}

	logPath := cfg.Daemon.LogFile
	if logPath == "" {
		logPath = filepath.Join(dir, logFileName)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	logger := log.New(logFile, "", log.LstdFlags)

	if classifier == nil {
		classifier = classify.NewCheapClassifier()
	}

	bus := events.NewBus()
	registry := session.NewRegistry()
	tracker := health.NewTracker(cfg.Health)

	selector := failover.NewSelector(cfg.Providers)
	recov := recovery.NewManager(cfg.Recovery, bus, logger.Printf)
	actions := cooldown.NewCache(cfg.Cooldown)

	mon := monitor.New(monitor.Options{
		Config:     cfg.Monitor,
		Registry:   registry,
		Classifier: classifier,
		Health:     tracker,
		Actions:    actions,
		Recovery:   recov,
		Selector:   selector,
		Switcher:   switcher,
		Bus:        bus,
		Logf:       logger.Printf,
	})

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		dir:      dir,
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		bus:      bus,
		tracker:  tracker,
		monitor:  mon,
		ctx:      ctx,
		cancel:   cancel,
	}

	tracker.OnChange(func(snap health.Snapshot) {
		logger.Printf("health %s (network %s): %s", snap.Status, snap.NetworkStatus, snap.LastError)
		bus.Publish(events.Event{
			Type: events.TypeHealthChanged,
			Data: events.HealthChange{
				Status:        string(snap.Status),
				NetworkStatus: string(snap.NetworkStatus),
				LastError:     snap.LastError,
			},
		})
		d.writeStatus()
	})

	return d, nil
}

// Registry exposes the session registry so the transport layer can add and
// remove sessions.
func (d *Daemon) Registry() *session.Registry { return d.registry }

// Bus exposes the notification bus for the transport layer.
func (d *Daemon) Bus() *events.Bus { return d.bus }

// Health returns the current breaker snapshot.
func (d *Daemon) Health() health.Snapshot { return d.tracker.Snapshot() }

// AddSession registers a session and starts monitoring it.
func (d *Daemon) AddSession(s session.Session) *session.Record {
	rec := d.registry.Add(s)
	d.monitor.Track(rec)
	d.writeStatus()
	return rec
}

// RemoveSession stops monitoring and drops all per-session state.
func (d *Daemon) RemoveSession(id string) {
	d.registry.Remove(id)
	d.monitor.Untrack(id)
	d.writeStatus()
}

// Status is the engine snapshot the daemon persists so the CLI can report
// breaker and session state without talking to the process.
type Status struct {
	PID                      int       `json:"pid"`
	Health                   string    `json:"health"`
	Network                  string    `json:"network"`
	ConsecutiveErrors        int       `json:"consecutive_errors"`
	ConsecutiveNetworkErrors int       `json:"consecutive_network_errors"`
	LastError                string    `json:"last_error,omitempty"`
	LastSuccessAt            time.Time `json:"last_success_at,omitempty"`
	Sessions                 int       `json:"sessions"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// writeStatus persists the current snapshot. Best effort: a failed write is
// logged and the daemon carries on.
func (d *Daemon) writeStatus() {
	snap := d.tracker.Snapshot()
	st := Status{
		PID:                      os.Getpid(),
		Health:                   string(snap.Status),
		Network:                  string(snap.NetworkStatus),
		ConsecutiveErrors:        snap.ConsecutiveErrors,
		ConsecutiveNetworkErrors: snap.ConsecutiveNetworkErrors,
		LastError:                snap.LastError,
		LastSuccessAt:            snap.LastSuccessAt,
		Sessions:                 d.registry.Len(),
		UpdatedAt:                time.Now(),
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		d.logger.Printf("marshaling status: %v", err)
		return
	}
	path := filepath.Join(d.dir, statusFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		d.logger.Printf("writing status file: %v", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		d.logger.Printf("replacing status file: %v", err)
	}
}

// ReadStatus loads the snapshot a running daemon last persisted.
func ReadStatus(dir string) (*Status, error) {
	data, err := os.ReadFile(filepath.Join(dir, statusFileName))
	if err != nil {
		return nil, err
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing status file: %w", err)
	}
	return &st, nil
}

// Run executes the daemon main loop until a signal or Stop.
func (d *Daemon) Run() error {
	d.logger.Printf("daemon starting (PID %d)", os.Getpid())

	// Exclusive lock first: concurrent starts must not race past the
	// IsRunning check and both write the pidfile.
	fileLock := flock.New(filepath.Join(d.dir, lockFileName))
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("daemon already running (lock held by another process)")
	}
	defer func() { _ = fileLock.Unlock() }()

	pidFile := filepath.Join(d.dir, pidFileName)
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() { _ = os.Remove(pidFile) }()

	d.writeStatus()
	defer func() { _ = os.Remove(filepath.Join(d.dir, statusFileName)) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Config hot-reload: priority lists can change under a running daemon.
	go func() {
		err := config.Watch(d.ctx, d.dir, d.logger.Printf, func(cfg *config.Config) {
			d.applyConfig(cfg)
		})
		if err != nil && d.ctx.Err() == nil {
			d.logger.Printf("config watcher stopped: %v", err)
		}
	}()

	ticker := time.NewTicker(d.cfg.Daemon.Tick())
	defer ticker.Stop()

	d.logger.Printf("daemon running, tick %v", d.cfg.Daemon.Tick())

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Printf("daemon context canceled, shutting down")
			return d.shutdown()

		case sig := <-sigChan:
			d.logger.Printf("received signal %v, shutting down", sig)
			return d.shutdown()

		case now := <-ticker.C:
			d.monitor.Tick(now)
		}
	}
}

// applyConfig swaps in reloadable config: currently the provider priority
// lists. Interval and threshold changes take effect on daemon restart.
func (d *Daemon) applyConfig(cfg *config.Config) {
	d.monitor.ReplacePriorities(cfg.Providers)
	d.logger.Printf("provider priorities replaced (%d assistant types)", len(cfg.Providers))
}

// Stop cancels the daemon's context.
func (d *Daemon) Stop() {
	d.cancel()
}

func (d *Daemon) shutdown() error {
	d.bus.Close()
	d.logger.Printf("daemon stopped")
	return nil
}

// IsRunning checks whether a daemon is alive for the given directory by
// reading the pidfile and probing the process. The file lock in Run is the
// authoritative duplicate guard; this is for status checks and cleanup.
func IsRunning(dir string) (bool, int, error) {
	pidFile := filepath.Join(dir, pidFileName)
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("reading PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return false, 0, fmt.Errorf("invalid PID in file %q: %w", pidStr, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0, nil
	}
	// On Unix FindProcess always succeeds; signal 0 probes liveness.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		if err := os.Remove(pidFile); err == nil {
			return false, 0, fmt.Errorf("removed stale PID file (process %d not found)", pid)
		}
		return false, 0, nil
	}

	// Guard against PID reuse by another process.
	if !isTermwatchDaemon(pid) {
		if err := os.Remove(pidFile); err == nil {
			return false, 0, fmt.Errorf("removed stale PID file (PID %d is not termwatch)", pid)
		}
		return false, 0, nil
	}

	return true, pid, nil
}

// isTermwatchDaemon checks that a PID belongs to a termwatch daemon run
// process, via ps for Linux/macOS portability.
func isTermwatchDaemon(pid int) bool {
	cmd := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "command=")
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	cmdline := strings.TrimSpace(string(output))
	return strings.Contains(cmdline, "termwatch") && strings.Contains(cmdline, "daemon") && strings.Contains(cmdline, "run")
}

// StopDaemon terminates the daemon for the given directory: SIGTERM, a grace
// period, then SIGKILL.
func StopDaemon(dir string) error {
	running, pid, err := IsRunning(dir)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	time.Sleep(stopGraceDelay)
	if err := process.Signal(syscall.Signal(0)); err == nil {
		_ = process.Signal(syscall.SIGKILL)
	}

	_ = os.Remove(filepath.Join(dir, pidFileName))
	return nil
}

// LogPath returns the daemon log path for a directory.
func LogPath(dir string, cfg *config.Config) string {
	if cfg != nil && cfg.Daemon.LogFile != "" {
		return cfg.Daemon.LogFile
	}
	return filepath.Join(dir, logFileName)
}
