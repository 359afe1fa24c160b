// Package session defines the boundary between the monitor engine and the
// terminal transport. The engine never owns a process: it reads screen text,
// writes keystrokes, and listens for bell events through the Session
// interface, and the transport (pty, multiplexer, IPC) lives elsewhere.
package session

import (
	"sync"
	"time"
)

// Session is the transport-side contract the engine consumes.
type Session interface {
	// ID returns the stable session identifier.
	ID() string

	// ScreenContent returns a snapshot of the current screen text.
	ScreenContent() (string, error)

	// Write sends raw bytes (keystrokes) to the session.
	Write(data []byte) error

	// Resize changes the terminal dimensions.
	Resize(cols, rows int) error

	// OnBell registers a callback for the terminal bell. Multiple callbacks
	// may be registered; all fire on each bell.
	OnBell(fn func())

	// WorkingDir returns the session's working directory.
	WorkingDir() string

	// AssistantType identifies the hosted assistant (e.g. "claude").
	AssistantType() string

	// Provider returns the current provider descriptor for the given
	// assistant type, or "" if none is set.
	Provider(assistantType string) string
}

// Switcher applies a provider change to a session. The failover selector is
// advisory; the transport implements the actual switch.
type Switcher interface {
	SwitchProvider(s Session, provider, reason string) error
}

// Flags are the mutable monitor flags attached to each session record.
// They are owned by the record, not the transport; the engine reads and
// updates them under the record's lock.
type Flags struct {
	// AutoActionEnabled gates automatic actions for the session.
	AutoActionEnabled bool

	// AutoActioning is the re-entrancy guard, set while an analysis pass is
	// in flight for this session.
	AutoActioning bool

	// FixingError is set while a recovery workflow is active.
	FixingError bool

	// FixAttempts counts completed recovery attempts.
	FixAttempts int

	// LastFixTime is when the last recovery attempt finished.
	LastFixTime time.Time

	// LastInputAt is the last human keystroke, used for the typing
	// suppression window.
	LastInputAt time.Time
}

// Record pairs a Session with its monitor flags.
type Record struct {
	Session Session

	mu    sync.Mutex
	flags Flags
}

// NewRecord wraps a session with auto-action enabled.
func NewRecord(s Session) *Record {
	return &Record{
		Session: s,
		flags:   Flags{AutoActionEnabled: true},
	}
}

// Flags returns a copy of the current flags.
func (r *Record) Flags() Flags {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flags
}

// Update applies fn to the flags under the record's lock.
func (r *Record) Update(fn func(*Flags)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.flags)
}

// TryBeginAutoAction sets the re-entrancy guard. Returns false if an analysis
// pass is already in flight or auto-action is disabled.
func (r *Record) TryBeginAutoAction() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flags.AutoActioning || !r.flags.AutoActionEnabled {
		return false
	}
	r.flags.AutoActioning = true
	return true
}

// EndAutoAction clears the re-entrancy guard.
func (r *Record) EndAutoAction() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags.AutoActioning = false
}

// NoteInput records a human keystroke for the typing suppression window.
func (r *Record) NoteInput(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags.LastInputAt = t
}
