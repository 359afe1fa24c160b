package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/zhangifonly/termwatch/internal/config"
	"github.com/zhangifonly/termwatch/internal/session"
)

func TestNew_AssemblesEngine(t *testing.T) {
	dir := t.TempDir()
	d, err := New(dir, config.Default(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := d.AddSession(session.NewDouble("s1", "/work", "claude"))
	if rec == nil {
		t.Fatal("AddSession returned nil")
	}
	if d.Registry().Len() != 1 {
		t.Errorf("registry len = %d, want 1", d.Registry().Len())
	}

	snap := d.Health()
	if snap.Status != "healthy" {
		t.Errorf("initial health = %s, want healthy", snap.Status)
	}

	d.RemoveSession("s1")
	if d.Registry().Len() != 0 {
		t.Errorf("registry len = %d after remove, want 0", d.Registry().Len())
	}

	// The log file exists once the daemon is assembled.
	if _, err := os.Stat(filepath.Join(dir, logFileName)); err != nil {
		t.Errorf("log file missing: %v", err)
	}
}

func TestIsRunning_NoPidfile(t *testing.T) {
	running, pid, err := IsRunning(t.TempDir())
	if err != nil {
		t.Fatalf("IsRunning: %v", err)
	}
	if running || pid != 0 {
		t.Errorf("IsRunning = %v/%d on empty dir, want false/0", running, pid)
	}
}

func TestIsRunning_StalePidfileCleanedUp(t *testing.T) {
	dir := t.TempDir()

	// A PID that cannot exist keeps the probe deterministic.
	pidFile := filepath.Join(dir, pidFileName)
	if err := os.WriteFile(pidFile, []byte("4194399"), 0644); err != nil {
		t.Fatal(err)
	}

	running, _, _ := IsRunning(dir)
	if running {
		t.Error("stale pidfile reported as running")
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("stale pidfile not removed")
	}
}

func TestIsRunning_ForeignProcessPid(t *testing.T) {
	dir := t.TempDir()

	// Our own test process is alive but is not a termwatch daemon.
	pidFile := filepath.Join(dir, pidFileName)
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		t.Fatal(err)
	}

	running, _, _ := IsRunning(dir)
	if running {
		t.Error("foreign PID reported as a running daemon")
	}
}

func TestIsRunning_InvalidPidfile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, pidFileName), []byte("not-a-pid"), 0644); err != nil {
		t.Fatal(err)
	}

	_, _, err := IsRunning(dir)
	if err == nil {
		t.Error("invalid pidfile accepted")
	}
}

func TestDaemon_RunStops(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Daemon.TickMillis = 10

	d, err := New(dir, cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.AddSession(session.NewDouble("s1", "/work", "claude"))

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	// Let a few ticks pass, then stop.
	time.Sleep(100 * time.Millisecond)
	d.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}

	// The pidfile is cleaned up on exit.
	if _, err := os.Stat(filepath.Join(dir, pidFileName)); !os.IsNotExist(err) {
		t.Error("pidfile left behind after shutdown")
	}
}

func TestLogPath(t *testing.T) {
	cfg := config.Default()
	if got := LogPath("/d", cfg); got != filepath.Join("/d", logFileName) {
		t.Errorf("LogPath = %s", got)
	}
	cfg.Daemon.LogFile = "/var/log/tw.log"
	if got := LogPath("/d", cfg); got != "/var/log/tw.log" {
		t.Errorf("LogPath override = %s", got)
	}
}

func TestStatusFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	d, err := New(dir, config.Default(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// AddSession persists a fresh snapshot.
	d.AddSession(session.NewDouble("s1", "/work", "claude"))

	st, err := ReadStatus(dir)
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if st.Health != "healthy" {
		t.Errorf("Health = %q, want healthy", st.Health)
	}
	if st.Network != "online" {
		t.Errorf("Network = %q, want online", st.Network)
	}
	if st.Sessions != 1 {
		t.Errorf("Sessions = %d, want 1", st.Sessions)
	}
	if st.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", st.PID, os.Getpid())
	}
	if st.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	d.RemoveSession("s1")
	st, err = ReadStatus(dir)
	if err != nil {
		t.Fatalf("ReadStatus after remove: %v", err)
	}
	if st.Sessions != 0 {
		t.Errorf("Sessions = %d after remove, want 0", st.Sessions)
	}
}

func TestStatusFile_ReflectsBreakerTransitions(t *testing.T) {
	dir := t.TempDir()
	d, err := New(dir, config.Default(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	now := time.Now()
	for i := 0; i < 3; i++ {
		d.tracker.RecordOutcome(now, errors.New("model returned 500"))
	}

	st, err := ReadStatus(dir)
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if st.Health != "failed" {
		t.Errorf("Health = %q after three failures, want failed", st.Health)
	}
	if st.ConsecutiveErrors != 3 {
		t.Errorf("ConsecutiveErrors = %d, want 3", st.ConsecutiveErrors)
	}
	if st.LastError == "" {
		t.Error("LastError empty after failures")
	}
}
