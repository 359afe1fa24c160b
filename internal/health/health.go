// Package health tracks the availability of the upstream analysis backend
// and gates classifier calls behind a circuit breaker. There is one Tracker
// per engine; every classifier outcome feeds it, and once it trips, sessions
// stop calling out until the recovery window elapses.
package health

import (
	"regexp"
	"sync"
	"time"

	"github.com/zhangifonly/termwatch/internal/config"
)

// Status is the breaker state.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// NetworkStatus reports upstream reachability.
type NetworkStatus string

const (
	NetworkOnline  NetworkStatus = "online"
	NetworkOffline NetworkStatus = "offline"
)

// networkErrorPattern matches network-class failures: these indicate the
// backend is unreachable rather than rejecting requests.
var networkErrorPattern = regexp.MustCompile(`(?i)(connection.?refused|connection.?reset|unreachable|timeout|timed.?out|no.?such.?host|dns|ENOTFOUND|ECONNREFUSED|ETIMEDOUT|fetch.?failed|dial.?tcp)`)

// IsNetworkError reports whether err looks like a network-class failure.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	return networkErrorPattern.MatchString(err.Error())
}

// Snapshot is a point-in-time copy of the tracker state.
type Snapshot struct {
	Status                   Status
	NetworkStatus            NetworkStatus
	ConsecutiveErrors        int
	ConsecutiveNetworkErrors int
	LastError                string
	LastSuccessAt            time.Time
	NextRecoveryCheckAt      time.Time
}

// Tracker is the process-wide circuit breaker. All methods are safe for
// concurrent use; updates are serialized by the internal mutex.
type Tracker struct {
	mu  sync.Mutex
	cfg config.HealthConfig

	status        Status
	networkStatus NetworkStatus

	consecutiveErrors        int
	consecutiveNetworkErrors int
	lastError                error
	lastSuccessAt            time.Time
	nextRecoveryCheckAt      time.Time

	// onChange, if set, is called (outside the lock) whenever status or
	// network status changes.
	onChange func(Snapshot)
}

// NewTracker creates a healthy tracker.
func NewTracker(cfg config.HealthConfig) *Tracker {
	return &Tracker{
		cfg:           cfg,
		status:        StatusHealthy,
		networkStatus: NetworkOnline,
	}
}

// OnChange registers a status-transition callback. Must be called before the
// tracker is shared.
func (t *Tracker) OnChange(fn func(Snapshot)) {
	t.onChange = fn
}

// RecordOutcome feeds one classifier call result into the breaker.
func (t *Tracker) RecordOutcome(now time.Time, err error) {
	t.mu.Lock()
	prevStatus, prevNet := t.status, t.networkStatus

	if err == nil {
		t.status = StatusHealthy
		t.networkStatus = NetworkOnline
		t.consecutiveErrors = 0
		t.consecutiveNetworkErrors = 0
		t.lastError = nil
		t.lastSuccessAt = now
		t.nextRecoveryCheckAt = time.Time{}
	} else {
		t.lastError = err
		if IsNetworkError(err) {
			t.consecutiveNetworkErrors++
			if t.consecutiveNetworkErrors >= t.cfg.NetworkErrorThreshold {
				t.networkStatus = NetworkOffline
				t.status = StatusFailed
				t.nextRecoveryCheckAt = now.Add(t.cfg.NetworkRecoveryCheck())
			}
		} else {
			t.consecutiveErrors++
			t.consecutiveNetworkErrors = 0
			if t.consecutiveErrors >= t.cfg.ErrorThreshold {
				t.status = StatusFailed
				t.nextRecoveryCheckAt = now.Add(t.cfg.RecoveryCheck())
			} else {
				t.status = StatusDegraded
			}
		}
	}

	changed := t.status != prevStatus || t.networkStatus != prevNet
	snap := t.snapshotLocked()
	t.mu.Unlock()

	if changed && t.onChange != nil {
		t.onChange(snap)
	}
}

// MayCall reports whether a classifier call is currently allowed. Crossing
// the recovery boundary consumes the probe: the window is re-armed before the
// caller's request completes, so a slow or failing probe cannot be retried
// concurrently.
func (t *Tracker) MayCall(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusFailed {
		return true
	}
	if now.Before(t.nextRecoveryCheckAt) {
		return false
	}

	// Probe attempt: re-arm the window so only this caller probes.
	if t.networkStatus == NetworkOffline {
		t.nextRecoveryCheckAt = now.Add(t.cfg.NetworkRecoveryCheck())
	} else {
		t.nextRecoveryCheckAt = now.Add(t.cfg.RecoveryCheck())
	}
	return true
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:                   t.status,
		NetworkStatus:            t.networkStatus,
		ConsecutiveErrors:        t.consecutiveErrors,
		ConsecutiveNetworkErrors: t.consecutiveNetworkErrors,
		LastSuccessAt:            t.lastSuccessAt,
		NextRecoveryCheckAt:      t.nextRecoveryCheckAt,
	}
	if t.lastError != nil {
		snap.LastError = t.lastError.Error()
	}
	return snap
}
