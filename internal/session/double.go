package session

import (
	"sync"
)

// Double is a FAKE with SPY capabilities for the Session interface: a working
// in-memory session (no real pty) that records writes and resizes for
// verification. Tests drive the screen by calling SetScreen and fire bells
// with RingBell.
type Double struct {
	mu        sync.Mutex
	id        string
	screen    string
	workDir   string
	assistant string
	providers map[string]string
	writeLog  [][]byte
	resizeLog [][2]int
	bellFns   []func()
	screenErr error
	writeErr  error
}

// NewDouble creates an in-memory session double.
func NewDouble(id, workDir, assistant string) *Double {
	return &Double{
		id:        id,
		workDir:   workDir,
		assistant: assistant,
		providers: make(map[string]string),
	}
}

var _ Session = (*Double)(nil)

func (d *Double) ID() string { return d.id }

func (d *Double) ScreenContent() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.screenErr != nil {
		return "", d.screenErr
	}
	return d.screen, nil
}

func (d *Double) Write(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeErr != nil {
		return d.writeErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	d.writeLog = append(d.writeLog, buf)
	return nil
}

func (d *Double) Resize(cols, rows int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resizeLog = append(d.resizeLog, [2]int{cols, rows})
	return nil
}

func (d *Double) OnBell(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bellFns = append(d.bellFns, fn)
}

func (d *Double) WorkingDir() string    { return d.workDir }
func (d *Double) AssistantType() string { return d.assistant }

func (d *Double) Provider(assistantType string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.providers[assistantType]
}

// --- Test controls ---

// SetScreen replaces the screen content.
func (d *Double) SetScreen(text string) {
	d.mu.Lock()
	d.screen = text
	d.mu.Unlock()
}

// SetProvider sets the provider descriptor for an assistant type.
func (d *Double) SetProvider(assistantType, provider string) {
	d.mu.Lock()
	d.providers[assistantType] = provider
	d.mu.Unlock()
}

// SetScreenErr injects an error into ScreenContent.
func (d *Double) SetScreenErr(err error) {
	d.mu.Lock()
	d.screenErr = err
	d.mu.Unlock()
}

// SetWriteErr injects an error into Write.
func (d *Double) SetWriteErr(err error) {
	d.mu.Lock()
	d.writeErr = err
	d.mu.Unlock()
}

// RingBell fires all registered bell callbacks.
func (d *Double) RingBell() {
	d.mu.Lock()
	fns := make([]func(), len(d.bellFns))
	copy(fns, d.bellFns)
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Writes returns the write log as strings.
func (d *Double) Writes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.writeLog))
	for i, w := range d.writeLog {
		out[i] = string(w)
	}
	return out
}

// Resizes returns the resize log.
func (d *Double) Resizes() [][2]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][2]int, len(d.resizeLog))
	copy(out, d.resizeLog)
	return out
}
