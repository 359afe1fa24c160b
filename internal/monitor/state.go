package monitor

import (
	"time"

	"github.com/zhangifonly/termwatch/internal/config"
)

// schedState is the per-session adaptive schedule. Created lazily on the
// session's first tick and dropped when the session is removed.
type schedState struct {
	interval        time.Duration
	lastCheckAt     time.Time
	nextCheckAt     time.Time // zero unless an immediate re-check is forced
	noActionStreak  int
	burstRemaining  int
	lastFingerprint uint64
	hasFingerprint  bool
	lastActionTime  time.Time
}

func newSchedState(cfg config.MonitorConfig) *schedState {
	return &schedState{interval: cfg.Default()}
}

// effectiveNext returns the time the session is next due: the forced
// re-check if one is set, otherwise the last check plus the current interval.
func (s *schedState) effectiveNext() time.Time {
	if !s.nextCheckAt.IsZero() {
		return s.nextCheckAt
	}
	return s.lastCheckAt.Add(s.interval)
}

// update applies the adaptive-interval algorithm after an analysis pass.
// An action resets the schedule into burst mode; inactivity walks the
// interval through fast, min, and exponential doubling of the default,
// capped at max.
func (s *schedState) update(cfg config.MonitorConfig, hadAction bool, now time.Time) {
	switch {
	case hadAction:
		s.burstRemaining = cfg.BurstCount
		s.interval = cfg.Burst()
		s.noActionStreak = 0
		s.lastActionTime = now

	case s.burstRemaining > 0:
		s.burstRemaining--
		if s.burstRemaining > 0 {
			s.interval = cfg.Burst()
		} else {
			s.interval = cfg.Default()
		}

	default:
		s.noActionStreak++
		sinceAction := now.Sub(s.lastActionTime)
		switch {
		case !s.lastActionTime.IsZero() && sinceAction < time.Minute:
			s.interval = cfg.Fast()
		case !s.lastActionTime.IsZero() && sinceAction < 5*time.Minute:
			s.interval = cfg.Min()
		default:
			// Exponential backoff while idle, doubling from the default.
			next := s.interval * 2
			if s.interval < cfg.Default() {
				next = cfg.Default()
			}
			if next > cfg.Max() {
				next = cfg.Max()
			}
			s.interval = next
		}
	}
}
