package recovery

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/zhangifonly/termwatch/internal/config"
	"github.com/zhangifonly/termwatch/internal/events"
	"github.com/zhangifonly/termwatch/internal/session"
)

const shellScreen = "user@host:~/work$"
const readyScreen = "│ > │\n? for shortcuts"
const busyScreen = "✻ Pondering… (esc to interrupt)"

func testConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		TimeoutSeconds:         120,
		BaseCooldownMinutes:    5,
		ExtendedStepMinutes:    30,
		ExtendedCapMinutes:     120,
		SettleSeconds:          3,
		ResetAttemptsAfterWait: true,
	}
}

func newTestManager(t *testing.T) (*Manager, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	m := NewManager(testConfig(), bus, t.Logf)
	m.Dispatch = func(fn func()) { fn() }
	return m, bus
}

// setupSession wires a session double with one corrupt transcript behind it.
func setupSession(t *testing.T) (*session.Record, *session.Double) {
	t.Helper()
	d := session.NewDouble("s1", "/work", "claude")
	writeTranscript(t, "/work", "sess.jsonl", corruptLine+"\n"+cleanLine+"\n")
	return session.NewRecord(d), d
}

func TestManager_FullWorkflow(t *testing.T) {
	m, bus := newTestManager(t)
	rec, d := setupSession(t)
	ch, unsub := bus.Subscribe()
	defer unsub()

	t0 := time.Now()
	if err := m.Start(rec, t0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !m.Active("s1") {
		t.Fatal("workflow not active after Start")
	}
	if !rec.Flags().FixingError {
		t.Error("FixingError not set")
	}
	if got := d.Writes(); len(got) != 1 || got[0] != "/exit\r" {
		t.Fatalf("quit write = %v, want [/exit\\r]", got)
	}

	// Still mid-quit: a busy screen does not advance.
	d.SetScreen(busyScreen)
	m.Advance(rec, t0.Add(time.Second))
	if ctx, _ := m.Context("s1"); ctx.Step != StepQuitting {
		t.Fatalf("Step = %s, want quitting", ctx.Step)
	}

	// Shell prompt: repair runs and the restart command goes out.
	d.SetScreen(shellScreen)
	m.Advance(rec, t0.Add(2*time.Second))
	ctx, ok := m.Context("s1")
	if !ok || ctx.Step != StepRestarting {
		t.Fatalf("Step = %s, want restarting", ctx.Step)
	}
	if ctx.RemovedSegments != 1 {
		t.Errorf("RemovedSegments = %d, want 1", ctx.RemovedSegments)
	}
	if got := d.Writes(); len(got) != 2 || got[1] != "claude --continue\r" {
		t.Fatalf("resume write = %v", got)
	}

	// Assistant back at its prompt: schedule the settle delay.
	d.SetScreen(readyScreen)
	m.Advance(rec, t0.Add(10*time.Second))
	if ctx, _ := m.Context("s1"); ctx.Step != StepResuming {
		t.Fatalf("Step = %s, want resuming", ctx.Step)
	}

	// Before the settle delay nothing is sent.
	m.Advance(rec, t0.Add(11*time.Second))
	if got := d.Writes(); len(got) != 2 {
		t.Fatalf("continue sent before settle delay: %v", got)
	}

	finishAt := t0.Add(14 * time.Second)
	m.Advance(rec, finishAt)
	if got := d.Writes(); len(got) != 3 || got[2] != "continue\r" {
		t.Fatalf("continue write = %v", got)
	}
	if m.Active("s1") {
		t.Error("workflow still active after finish")
	}

	flags := rec.Flags()
	if flags.FixingError {
		t.Error("FixingError still set after finish")
	}
	if flags.FixAttempts != 1 {
		t.Errorf("FixAttempts = %d, want 1", flags.FixAttempts)
	}
	if !flags.LastFixTime.Equal(finishAt) {
		t.Errorf("LastFixTime = %v, want %v", flags.LastFixTime, finishAt)
	}

	// Event stream: started, restarting, finished.
	var types []events.Type
	for len(types) < 3 {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("event stream stalled after %v", types)
		}
	}
	want := []events.Type{events.TypeRecoveryStarted, events.TypeRecoveryStarted, events.TypeRecoveryFinished}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestManager_TimeoutClearsContext(t *testing.T) {
	m, bus := newTestManager(t)
	rec, d := setupSession(t)
	ch, unsub := bus.Subscribe()
	defer unsub()

	t0 := time.Now()
	if err := m.Start(rec, t0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-ch // started

	// Stuck at quitting; the attempt is bounded by the timeout.
	d.SetScreen(busyScreen)
	m.Advance(rec, t0.Add(121*time.Second))

	if m.Active("s1") {
		t.Error("workflow still active after timeout")
	}
	flags := rec.Flags()
	if flags.FixingError {
		t.Error("FixingError still set after timeout")
	}
	if flags.FixAttempts != 0 {
		t.Errorf("timeout bumped FixAttempts to %d", flags.FixAttempts)
	}

	select {
	case ev := <-ch:
		if ev.Type != events.TypeRecoveryFailed {
			t.Errorf("event = %s, want recovery_failed", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no failure event published")
	}
}

func TestManager_StartWhileActive(t *testing.T) {
	m, _ := newTestManager(t)
	rec, _ := setupSession(t)

	t0 := time.Now()
	if err := m.Start(rec, t0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(rec, t0.Add(time.Second)); !errors.Is(err, ErrActive) {
		t.Errorf("second Start err = %v, want ErrActive", err)
	}
}

func TestManager_AttemptCooldownSchedule(t *testing.T) {
	m, _ := newTestManager(t)

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 5 * time.Minute},
		{1, 10 * time.Minute},
		{2, 20 * time.Minute},
		{3, 40 * time.Minute},
		{4, 60 * time.Minute},  // extended takes over: 30m * 2
		{5, 90 * time.Minute},  // 30m * 3
		{6, 120 * time.Minute}, // 30m * 4
		{9, 120 * time.Minute}, // capped
	}
	for _, tc := range cases {
		if got := m.AttemptCooldown(tc.attempts); got != tc.want {
			t.Errorf("AttemptCooldown(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestManager_StartHonorsCooldown(t *testing.T) {
	m, _ := newTestManager(t)
	rec, _ := setupSession(t)

	last := time.Now()
	rec.Update(func(f *session.Flags) {
		f.FixAttempts = 1
		f.LastFixTime = last
	})

	// 10 minute wait after one attempt.
	err := m.Start(rec, last.Add(5*time.Minute))
	if !errors.Is(err, ErrCoolingDown) {
		t.Fatalf("Start inside cooldown: err = %v, want ErrCoolingDown", err)
	}
	if m.Active("s1") {
		t.Error("workflow active despite cooldown")
	}

	if err := m.Start(rec, last.Add(11*time.Minute)); err != nil {
		t.Errorf("Start after cooldown: %v", err)
	}
}

func TestManager_ResetAttemptsAfterExtendedWait(t *testing.T) {
	m, _ := newTestManager(t)
	rec, _ := setupSession(t)

	last := time.Now()
	rec.Update(func(f *session.Flags) {
		f.FixAttempts = 4
		f.LastFixTime = last
	})

	// AttemptCooldown(4) is 60 minutes; once it passes, the counter resets.
	if err := m.Start(rec, last.Add(61*time.Minute)); err != nil {
		t.Fatalf("Start after extended wait: %v", err)
	}
	if got := rec.Flags().FixAttempts; got != 0 {
		t.Errorf("FixAttempts = %d, want 0 after reset", got)
	}
}

func TestManager_NoResetWhenPolicyDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.ResetAttemptsAfterWait = false
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	m := NewManager(cfg, bus, t.Logf)
	rec, _ := setupSession(t)

	last := time.Now()
	rec.Update(func(f *session.Flags) {
		f.FixAttempts = 4
		f.LastFixTime = last
	})

	if err := m.Start(rec, last.Add(61*time.Minute)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := rec.Flags().FixAttempts; got != 4 {
		t.Errorf("FixAttempts = %d, want 4 (policy disabled)", got)
	}
}

func TestManager_MissingTranscriptAbandons(t *testing.T) {
	m, bus := newTestManager(t)
	ch, unsub := bus.Subscribe()
	defer unsub()

	// Session whose working dir has no transcripts at all.
	t.Setenv("TERMWATCH_TRANSCRIPTS", t.TempDir())
	d := session.NewDouble("s1", "/elsewhere", "claude")
	rec := session.NewRecord(d)

	t0 := time.Now()
	if err := m.Start(rec, t0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-ch // started

	d.SetScreen(shellScreen)
	m.Advance(rec, t0.Add(time.Second))

	if m.Active("s1") {
		t.Error("workflow still active after missing-transcript failure")
	}
	if rec.Flags().FixingError {
		t.Error("FixingError still set")
	}

	select {
	case ev := <-ch:
		if ev.Type != events.TypeRecoveryFailed {
			t.Errorf("event = %s, want recovery_failed", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no failure event published")
	}
}

func TestManager_QuitWriteFailureAbandons(t *testing.T) {
	m, _ := newTestManager(t)
	rec, d := setupSession(t)
	d.SetWriteErr(io.ErrClosedPipe)

	if err := m.Start(rec, time.Now()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.Active("s1") {
		t.Error("workflow active despite quit write failure")
	}
	if rec.Flags().FixingError {
		t.Error("FixingError still set")
	}
}

func TestManager_RepairRunsOffTickGoroutine(t *testing.T) {
	m, _ := newTestManager(t)
	var pending []func()
	m.Dispatch = func(fn func()) { pending = append(pending, fn) }
	rec, d := setupSession(t)

	t0 := time.Now()
	if err := m.Start(rec, t0); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Shell prompt hands the rewrite to Dispatch; Advance returns without
	// touching the transcript.
	d.SetScreen(shellScreen)
	m.Advance(rec, t0.Add(time.Second))
	if len(pending) != 1 {
		t.Fatalf("dispatched repairs = %d, want 1", len(pending))
	}
	if ctx, _ := m.Context("s1"); ctx.Step != StepRepairing {
		t.Fatalf("Step = %s, want repairing", ctx.Step)
	}
	if got := d.Writes(); len(got) != 1 {
		t.Fatalf("resume sent before repair landed: %v", got)
	}

	// Further ticks while the rewrite is in flight do not re-dispatch.
	m.Advance(rec, t0.Add(2*time.Second))
	if len(pending) != 1 {
		t.Fatalf("repair dispatched again, pending = %d", len(pending))
	}

	pending[0]()
	ctx, ok := m.Context("s1")
	if !ok || ctx.Step != StepRestarting {
		t.Fatalf("Step = %s, want restarting", ctx.Step)
	}
	if got := d.Writes(); len(got) != 2 || got[1] != "claude --continue\r" {
		t.Fatalf("resume write = %v", got)
	}
}

func TestManager_TimeoutDuringRepairDiscardsResult(t *testing.T) {
	m, _ := newTestManager(t)
	var pending []func()
	m.Dispatch = func(fn func()) { pending = append(pending, fn) }
	rec, d := setupSession(t)

	t0 := time.Now()
	if err := m.Start(rec, t0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.SetScreen(shellScreen)
	m.Advance(rec, t0.Add(time.Second))
	if len(pending) != 1 {
		t.Fatalf("dispatched repairs = %d, want 1", len(pending))
	}

	// The attempt times out before the rewrite lands.
	m.Advance(rec, t0.Add(121*time.Second))
	if m.Active("s1") {
		t.Fatal("workflow still active after timeout")
	}

	// The stale rewrite must not resurrect the workflow or send keystrokes.
	pending[0]()
	if m.Active("s1") {
		t.Error("stale repair resurrected the workflow")
	}
	if got := d.Writes(); len(got) != 1 {
		t.Errorf("stale repair sent writes: %v", got)
	}
	if attempts := rec.Flags().FixAttempts; attempts != 0 {
		t.Errorf("FixAttempts = %d, want 0", attempts)
	}
}

func TestCommandsFor_UnknownAssistantUsesDefault(t *testing.T) {
	c := commandsFor("aider")
	if c.quit != defaultCommands.quit {
		t.Errorf("quit = %q, want default %q", c.quit, defaultCommands.quit)
	}
	if got := commandsFor("codex"); got.resume != "codex resume --last\r" {
		t.Errorf("codex resume = %q", got.resume)
	}
}
