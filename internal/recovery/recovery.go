// Package recovery drives the multi-step workflow that un-wedges an
// assistant whose persisted conversation state has gone bad: quit the
// process, repair the transcript, restart, and resume. One workflow may be
// active per session at a time, and the whole attempt is bounded by a fixed
// timeout.
package recovery

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/zhangifonly/termwatch/internal/config"
	"github.com/zhangifonly/termwatch/internal/events"
	"github.com/zhangifonly/termwatch/internal/session"
)

// Step is a recovery workflow state.
type Step string

const (
	StepQuitting   Step = "quitting"
	StepRepairing  Step = "repairing"
	StepRestarting Step = "restarting"
	StepResuming   Step = "resuming"
)

var (
	// ErrActive means a recovery workflow is already running for the session.
	ErrActive = errors.New("recovery already active for session")

	// ErrCoolingDown means the per-session attempt cooldown has not elapsed.
	ErrCoolingDown = errors.New("recovery cooling down")
)

// Context is the per-session state of an active recovery attempt.
type Context struct {
	WorkingDir      string
	StartedAt       time.Time
	Step            Step
	RemovedSegments int

	// resumeAt delays the final continue instruction so the restarted
	// process can settle.
	resumeAt time.Time
}

// Screen patterns for step transitions.
var (
	// shellPromptPattern matches a trailing shell prompt glyph.
	shellPromptPattern = regexp.MustCompile(`(?m)[$%#❯]\s*$`)

	// busyPattern marks the assistant as mid-turn.
	busyPattern = regexp.MustCompile(`(?i)(esc to interrupt|ctrl\+c to stop)`)

	// readyPattern marks the assistant as idle at its prompt.
	readyPattern = regexp.MustCompile(`(?i)(\? for shortcuts|│\s*>\s*│)`)
)

// commands are the per-assistant keystroke sequences used by the workflow.
type commands struct {
	quit   string
	resume string
	cont   string
}

var assistantCommands = map[string]commands{
	"claude": {quit: "/exit\r", resume: "claude --continue\r", cont: "continue\r"},
	"codex":  {quit: "/quit\r", resume: "codex resume --last\r", cont: "continue\r"},
}

// defaultCommands is used for assistant types without a dedicated entry.
var defaultCommands = commands{quit: "/exit\r", resume: "claude --continue\r", cont: "continue\r"}

func commandsFor(assistantType string) commands {
	if c, ok := assistantCommands[assistantType]; ok {
		return c
	}
	return defaultCommands
}

// Manager runs recovery workflows. At most one Context exists per session;
// it is cleared on success, on explicit failure, or when the attempt times
// out, whichever comes first.
type Manager struct {
	cfg  config.RecoveryConfig
	bus  *events.Bus
	logf func(format string, args ...interface{})

	// Dispatch runs the repairing step's transcript rewrite off the
	// caller's goroutine, so one session's file surgery cannot stall the
	// tick for the others. Tests replace it to control when the repair
	// lands.
	Dispatch func(fn func())

	mu     sync.Mutex
	active map[string]*Context
}

// NewManager creates a recovery manager.
func NewManager(cfg config.RecoveryConfig, bus *events.Bus, logf func(format string, args ...interface{})) *Manager {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Manager{
		cfg:      cfg,
		bus:      bus,
		logf:     logf,
		Dispatch: func(fn func()) { go fn() },
		active:   make(map[string]*Context),
	}
}

// Active reports whether a recovery workflow is running for the session.
func (m *Manager) Active(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[sessionID]
	return ok
}

// Context returns a copy of the active context, if any.
func (m *Manager) Context(sessionID string) (Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.active[sessionID]
	if !ok {
		return Context{}, false
	}
	return *ctx, true
}

// AttemptCooldown returns how long after the last attempt a session must
// wait before a new recovery is considered: the staged exponential cooldown
// plus, after three attempts, the extended wait.
func (m *Manager) AttemptCooldown(attempts int) time.Duration {
	staged := attempts
	if staged > 3 {
		staged = 3
	}
	wait := m.cfg.BaseCooldown() * time.Duration(1<<staged)

	if attempts >= 3 {
		extended := m.cfg.ExtendedStep() * time.Duration(attempts-2)
		if limit := m.cfg.ExtendedCap(); extended > limit {
			extended = limit
		}
		if extended > wait {
			wait = extended
		}
	}
	return wait
}

// Start begins a recovery workflow for the session. It enforces the
// per-session attempt cooldown and, when the configured policy says so,
// resets the attempt counter after the extended cooldown has elapsed.
func (m *Manager) Start(rec *session.Record, now time.Time) error {
	sess := rec.Session
	id := sess.ID()

	flags := rec.Flags()
	if !flags.LastFixTime.IsZero() {
		wait := m.AttemptCooldown(flags.FixAttempts)
		elapsed := now.Sub(flags.LastFixTime)
		if elapsed < wait {
			return fmt.Errorf("%w: %s of %s elapsed", ErrCoolingDown, elapsed.Round(time.Second), wait)
		}
		// Enough time has passed to try again from scratch.
		if m.cfg.ResetAttemptsAfterWait && flags.FixAttempts >= 3 {
			rec.Update(func(f *session.Flags) { f.FixAttempts = 0 })
		}
	}

	m.mu.Lock()
	if _, ok := m.active[id]; ok {
		m.mu.Unlock()
		return ErrActive
	}
	ctx := &Context{
		WorkingDir: sess.WorkingDir(),
		StartedAt:  now,
		Step:       StepQuitting,
	}
	m.active[id] = ctx
	m.mu.Unlock()

	rec.Update(func(f *session.Flags) { f.FixingError = true })

	cmds := commandsFor(sess.AssistantType())
	if err := sess.Write([]byte(cmds.quit)); err != nil {
		m.fail(rec, ctx, fmt.Errorf("sending quit command: %w", err))
		return nil
	}

	m.logf("recovery started for %s (attempt %d)", id, flags.FixAttempts+1)
	m.bus.Publish(events.Event{
		Type:      events.TypeRecoveryStarted,
		SessionID: id,
		Data:      events.RecoveryUpdate{Step: string(StepQuitting)},
	})
	return nil
}

// Advance moves the session's workflow forward based on the current screen.
// Called from the monitor tick; a session with no active workflow is a no-op.
func (m *Manager) Advance(rec *session.Record, now time.Time) {
	sess := rec.Session
	id := sess.ID()

	m.mu.Lock()
	ctx, ok := m.active[id]
	var step Step
	var resumeAt time.Time
	if ok {
		step = ctx.Step
		resumeAt = ctx.resumeAt
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if now.Sub(ctx.StartedAt) > m.cfg.Timeout() {
		// Timed out: clear the context, leave the attempt counter unchanged,
		// flag the session for manual inspection via the failure event. An
		// in-flight repair notices the cleared context and discards its
		// result.
		m.logf("recovery timed out for %s at step %s", id, step)
		m.clear(rec, id, ctx)
		m.bus.Publish(events.Event{
			Type:      events.TypeRecoveryFailed,
			SessionID: id,
			Data:      events.RecoveryUpdate{Step: string(step), Error: "timed out"},
		})
		return
	}

	screen, err := sess.ScreenContent()
	if err != nil {
		m.logf("recovery screen read failed for %s: %v", id, err)
		return
	}

	switch step {
	case StepQuitting:
		if !atShellPrompt(screen) {
			return
		}
		m.setStep(ctx, StepRepairing)
		m.Dispatch(func() { m.repair(rec, ctx, now) })

	case StepRepairing:
		// Transcript rewrite in flight on another goroutine; nothing to do
		// until it lands.

	case StepRestarting:
		if !busyPattern.MatchString(screen) && !readyPattern.MatchString(screen) {
			return
		}
		m.mu.Lock()
		ctx.Step = StepResuming
		ctx.resumeAt = now.Add(m.cfg.Settle())
		m.mu.Unlock()

	case StepResuming:
		if now.Before(resumeAt) {
			return
		}
		cmds := commandsFor(sess.AssistantType())
		if err := sess.Write([]byte(cmds.cont)); err != nil {
			m.fail(rec, ctx, fmt.Errorf("sending continue: %w", err))
			return
		}
		m.finish(rec, ctx, now)
	}
}

// repair runs the transcript repair step and, on success, restarts the
// assistant. It runs on its own goroutine via Dispatch; a workflow that was
// cleared while the rewrite ran (timeout, session removal) discards the
// result instead of advancing.
func (m *Manager) repair(rec *session.Record, ctx *Context, now time.Time) {
	sess := rec.Session
	id := sess.ID()

	path, err := FindTranscript(ctx.WorkingDir)
	if err != nil {
		// Missing transcript is a data problem; retrying cannot fix it.
		m.fail(rec, ctx, err)
		return
	}

	removed, err := Repair(path)
	if err != nil {
		m.fail(rec, ctx, err)
		return
	}

	m.mu.Lock()
	if m.active[id] != ctx {
		m.mu.Unlock()
		m.logf("recovery for %s abandoned during repair, discarding result", id)
		return
	}
	ctx.RemovedSegments = removed
	m.mu.Unlock()
	m.logf("repaired %s: removed %d thinking segments", path, removed)

	cmds := commandsFor(sess.AssistantType())
	if err := sess.Write([]byte(cmds.resume)); err != nil {
		m.fail(rec, ctx, fmt.Errorf("sending resume command: %w", err))
		return
	}
	m.setStep(ctx, StepRestarting)

	m.bus.Publish(events.Event{
		Type:      events.TypeRecoveryStarted,
		SessionID: id,
		Data:      events.RecoveryUpdate{Step: string(StepRestarting), RemovedSegments: removed},
	})
}

// finish completes the workflow: clear the context, bump the attempt
// counter, stamp the fix time.
func (m *Manager) finish(rec *session.Record, ctx *Context, now time.Time) {
	id := rec.Session.ID()
	m.clear(rec, id, ctx)
	rec.Update(func(f *session.Flags) {
		f.FixAttempts++
		f.LastFixTime = now
	})
	m.logf("recovery finished for %s (removed %d segments)", id, ctx.RemovedSegments)
	m.bus.Publish(events.Event{
		Type:      events.TypeRecoveryFinished,
		SessionID: id,
		Data:      events.RecoveryUpdate{RemovedSegments: ctx.RemovedSegments},
	})
}

// fail abandons the workflow with a reported, non-fatal failure. A workflow
// already cleared by a concurrent timeout discards the failure quietly.
func (m *Manager) fail(rec *session.Record, ctx *Context, err error) {
	id := rec.Session.ID()
	if !m.clear(rec, id, ctx) {
		m.logf("recovery for %s already cleared, dropping failure: %v", id, err)
		return
	}

	tag := "error"
	if errors.Is(err, os.ErrNotExist) {
		tag = "not found"
	}
	m.logf("recovery failed for %s at step %s (%s): %v", id, ctx.Step, tag, err)
	m.bus.Publish(events.Event{
		Type:      events.TypeRecoveryFailed,
		SessionID: id,
		Data:      events.RecoveryUpdate{Step: string(ctx.Step), Error: err.Error()},
	})
}

func (m *Manager) setStep(ctx *Context, s Step) {
	m.mu.Lock()
	ctx.Step = s
	m.mu.Unlock()
}

// clear removes the workflow if ctx is still the active one. The ctx match
// makes teardown race-free between the tick goroutine (timeout) and the
// repair goroutine (failure): exactly one of them wins.
func (m *Manager) clear(rec *session.Record, id string, ctx *Context) bool {
	m.mu.Lock()
	if m.active[id] != ctx {
		m.mu.Unlock()
		return false
	}
	delete(m.active, id)
	m.mu.Unlock()
	rec.Update(func(f *session.Flags) { f.FixingError = false })
	return true
}

// atShellPrompt reports whether the screen shows a plain shell prompt with
// no busy markers.
func atShellPrompt(screen string) bool {
	trimmed := strings.TrimRight(screen, " \n\t")
	return shellPromptPattern.MatchString(trimmed) && !busyPattern.MatchString(screen) && !readyPattern.MatchString(screen)
}
