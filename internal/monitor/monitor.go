// Package monitor is the engine's control loop. A fixed-cadence Tick walks
// every registered session, decides per session whether it is due for
// analysis, runs the cheap classifier inline and the external classifier
// asynchronously, and routes verdicts to the action executor, the failover
// selector, or the recovery workflow. All timing flows through the now
// argument so tests drive the loop with a virtual clock.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/zhangifonly/termwatch/internal/classify"
	"github.com/zhangifonly/termwatch/internal/config"
	"github.com/zhangifonly/termwatch/internal/cooldown"
	"github.com/zhangifonly/termwatch/internal/events"
	"github.com/zhangifonly/termwatch/internal/failover"
	"github.com/zhangifonly/termwatch/internal/health"
	"github.com/zhangifonly/termwatch/internal/recovery"
	"github.com/zhangifonly/termwatch/internal/session"
)

// signalQueueSize bounds the bell/content signal queue. Signals beyond the
// bound are dropped; the next scheduled check still covers the session.
const signalQueueSize = 256

// signal is an out-of-band request for an immediate re-check.
type signal struct {
	sessionID string
}

// Monitor supervises all sessions in a registry.
type Monitor struct {
	cfg      config.MonitorConfig
	registry *session.Registry

	classifier classify.Classifier
	health     *health.Tracker
	actions    *cooldown.Cache
	recovery   *recovery.Manager
	selector   *failover.Selector
	switcher   session.Switcher
	bus        *events.Bus
	logf       func(format string, args ...interface{})

	mu             sync.Mutex
	states         map[string]*schedState
	lastClassifyAt time.Time

	signals chan signal

	// dispatch runs external classifier work. Defaults to a goroutine;
	// tests substitute an inline runner for determinism.
	dispatch func(fn func())
}

// Options wires the monitor's collaborators.
type Options struct {
	Config     config.MonitorConfig
	Registry   *session.Registry
	Classifier classify.Classifier
	Health     *health.Tracker
	Actions    *cooldown.Cache
	Recovery   *recovery.Manager
	Selector   *failover.Selector
	Switcher   session.Switcher // optional; nil means failovers are advisory events only
	Bus        *events.Bus
	Logf       func(format string, args ...interface{})
}

// New creates a monitor.
func New(opts Options) *Monitor {
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Monitor{
		cfg:        opts.Config,
		registry:   opts.Registry,
		classifier: opts.Classifier,
		health:     opts.Health,
		actions:    opts.Actions,
		recovery:   opts.Recovery,
		selector:   opts.Selector,
		switcher:   opts.Switcher,
		bus:        opts.Bus,
		logf:       logf,
		states:     make(map[string]*schedState),
		signals:    make(chan signal, signalQueueSize),
		dispatch:   func(fn func()) { go fn() },
	}
}

// Track registers the monitor's bell handler on a session. Call once when
// the transport adds the session.
func (m *Monitor) Track(rec *session.Record) {
	id := rec.Session.ID()
	rec.Session.OnBell(func() { m.NotifyBell(id) })
}

// Untrack drops per-session monitor state. Call when the session is removed.
func (m *Monitor) Untrack(sessionID string) {
	m.mu.Lock()
	delete(m.states, sessionID)
	m.mu.Unlock()
	m.actions.Forget(sessionID)
}

// ReplacePriorities swaps in new provider priority lists (config reload).
func (m *Monitor) ReplacePriorities(priorities map[string][]string) {
	m.selector.Replace(priorities)
}

// NotifyBell requests an immediate re-check for a session. Safe to call
// concurrently with a tick in progress: the signal queue is drained at the
// top of the next tick, so the request is never lost mid-pass.
func (m *Monitor) NotifyBell(sessionID string) {
	select {
	case m.signals <- signal{sessionID: sessionID}:
	default:
		// Queue full; the session's schedule still covers it.
	}
}

// Tick runs one pass over all sessions. It is idempotent for a given now and
// never blocks on one session's external call: remote classification is
// dispatched asynchronously and its result applied when it lands.
func (m *Monitor) Tick(now time.Time) {
	m.drainSignals(now)

	for _, rec := range m.registry.List() {
		m.tickSession(rec, now)
	}
}

// drainSignals applies queued bell signals, forcing the next check.
func (m *Monitor) drainSignals(now time.Time) {
	for {
		select {
		case sig := <-m.signals:
			m.mu.Lock()
			if st, ok := m.states[sig.sessionID]; ok {
				st.nextCheckAt = now
			} else if _, err := m.registry.Get(sig.sessionID); err == nil {
				st := newSchedState(m.cfg)
				st.nextCheckAt = now
				m.states[sig.sessionID] = st
			}
			m.mu.Unlock()
		default:
			return
		}
	}
}

// state returns the session's schedule, creating it on first sight.
func (m *Monitor) state(sessionID string) *schedState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[sessionID]
	if !ok {
		st = newSchedState(m.cfg)
		m.states[sessionID] = st
	}
	return st
}

// tickSession evaluates one session. Any error is absorbed into logs and
// schedule state; a single bad session never stops the pass.
func (m *Monitor) tickSession(rec *session.Record, now time.Time) {
	sess := rec.Session
	id := sess.ID()

	flags := rec.Flags()
	if !flags.AutoActionEnabled || flags.AutoActioning {
		return
	}
	if m.recovery.Active(id) {
		m.recovery.Advance(rec, now)
		return
	}

	st := m.state(id)

	// Change detection runs every tick: new output resets the idle streak
	// and forces a prompt re-check.
	screen, err := sess.ScreenContent()
	if err != nil {
		m.logf("screen read failed for %s: %v", id, err)
		return
	}
	fp := Fingerprint(screen, m.cfg.FingerprintWindow)

	m.mu.Lock()
	if !st.hasFingerprint || fp != st.lastFingerprint {
		if st.hasFingerprint {
			st.noActionStreak = 0
			st.nextCheckAt = now
		}
		st.lastFingerprint = fp
		st.hasFingerprint = true
	}
	due := !now.Before(st.effectiveNext())
	if due {
		st.lastCheckAt = now
		st.nextCheckAt = time.Time{}
	}
	m.mu.Unlock()

	if !due {
		return
	}

	if !rec.TryBeginAutoAction() {
		return
	}

	// Cheap local classification first: the dominant path, no external call.
	cctx := classify.Context{
		WorkingDir: sess.WorkingDir(),
		Provider:   sess.Provider(sess.AssistantType()),
	}
	if v := m.classifier.Cheap(screen, sess.AssistantType(), cctx); v != nil {
		hadAction := m.act(rec, st, v, fp, now)
		m.finishCheck(rec, st, hadAction, now)
		return
	}

	// Breaker gate: while failed, skip without touching the interval.
	if !m.health.MayCall(now) {
		rec.EndAutoAction()
		return
	}

	// Cross-session classifier rate limit: retry on a later tick.
	m.mu.Lock()
	if !m.lastClassifyAt.IsZero() && now.Sub(m.lastClassifyAt) < m.cfg.ClassifyGap() {
		st.nextCheckAt = now
		m.mu.Unlock()
		rec.EndAutoAction()
		return
	}
	m.lastClassifyAt = now
	m.mu.Unlock()

	m.dispatch(func() {
		v, err := m.classifier.Classify(context.Background(), screen, sess.AssistantType(), id, cctx)
		m.health.RecordOutcome(now, err)
		if err != nil {
			m.logf("classify failed for %s: %v", id, err)
			m.finishCheck(rec, st, false, now)
			return
		}
		// A session that entered recovery while the call was in flight
		// keeps its result unapplied.
		if m.recovery.Active(id) {
			m.finishCheck(rec, st, false, now)
			return
		}
		hadAction := m.act(rec, st, v, fp, now)
		m.finishCheck(rec, st, hadAction, now)
	})
}

// finishCheck updates the adaptive schedule and clears the re-entrancy guard.
func (m *Monitor) finishCheck(rec *session.Record, st *schedState, hadAction bool, now time.Time) {
	m.mu.Lock()
	st.update(m.cfg, hadAction, now)
	m.mu.Unlock()
	rec.EndAutoAction()
}
