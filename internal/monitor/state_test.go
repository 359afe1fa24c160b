package monitor

import (
	"testing"
	"time"

	"github.com/zhangifonly/termwatch/internal/config"
)

func monitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		BurstSeconds:          3,
		FastSeconds:           8,
		MinSeconds:            15,
		DefaultSeconds:        30,
		MaxMinutes:            30,
		BurstCount:            3,
		ClassifyGapMillis:     2000,
		TypingSuppressSeconds: 5,
		FingerprintWindow:     2000,
	}
}

func TestSchedState_ActionEntersBurstMode(t *testing.T) {
	cfg := monitorConfig()
	st := newSchedState(cfg)
	now := time.Now()

	st.update(cfg, true, now)
	if st.interval != cfg.Burst() {
		t.Errorf("interval = %v, want burst %v", st.interval, cfg.Burst())
	}
	if st.burstRemaining != cfg.BurstCount {
		t.Errorf("burstRemaining = %d, want %d", st.burstRemaining, cfg.BurstCount)
	}
	if st.noActionStreak != 0 {
		t.Errorf("noActionStreak = %d, want 0", st.noActionStreak)
	}
}

func TestSchedState_BurstDrainsBackToDefault(t *testing.T) {
	cfg := monitorConfig()
	st := newSchedState(cfg)
	now := time.Now()

	st.update(cfg, true, now)
	for i := 0; i < cfg.BurstCount-1; i++ {
		st.update(cfg, false, now)
		if st.interval != cfg.Burst() {
			t.Fatalf("burst check %d: interval = %v, want %v", i, st.interval, cfg.Burst())
		}
	}
	st.update(cfg, false, now)
	if st.interval != cfg.Default() {
		t.Errorf("after burst drained: interval = %v, want default %v", st.interval, cfg.Default())
	}
}

func TestSchedState_RecentActionKeepsFastInterval(t *testing.T) {
	cfg := monitorConfig()
	st := newSchedState(cfg)
	t0 := time.Now()

	st.update(cfg, true, t0)
	for i := 0; i < cfg.BurstCount; i++ {
		st.update(cfg, false, t0)
	}

	// Under a minute since the action: fast cadence.
	st.update(cfg, false, t0.Add(30*time.Second))
	if st.interval != cfg.Fast() {
		t.Errorf("30s after action: interval = %v, want fast %v", st.interval, cfg.Fast())
	}

	// Under five minutes: min cadence.
	st.update(cfg, false, t0.Add(3*time.Minute))
	if st.interval != cfg.Min() {
		t.Errorf("3m after action: interval = %v, want min %v", st.interval, cfg.Min())
	}
}

func TestSchedState_IdleDoublingCapsAtMax(t *testing.T) {
	cfg := monitorConfig()
	st := newSchedState(cfg)
	now := time.Now()

	// No action has ever happened: pure idle doubling from the default.
	want := []time.Duration{
		60 * time.Second,
		2 * time.Minute,
		4 * time.Minute,
		8 * time.Minute,
		16 * time.Minute,
		30 * time.Minute, // capped, not 32
		30 * time.Minute,
	}
	for i, w := range want {
		st.update(cfg, false, now)
		if st.interval != w {
			t.Errorf("idle pass %d: interval = %v, want %v", i, st.interval, w)
		}
	}
	if st.noActionStreak != len(want) {
		t.Errorf("noActionStreak = %d, want %d", st.noActionStreak, len(want))
	}
}

func TestSchedState_DoublingJumpsUpFromSubDefault(t *testing.T) {
	cfg := monitorConfig()
	st := newSchedState(cfg)
	st.interval = cfg.Fast()
	st.lastActionTime = time.Now().Add(-10 * time.Minute)

	st.update(cfg, false, time.Now())
	if st.interval != cfg.Default() {
		t.Errorf("interval = %v, want default %v", st.interval, cfg.Default())
	}
}

func TestSchedState_IntervalAlwaysInRange(t *testing.T) {
	cfg := monitorConfig()
	st := newSchedState(cfg)
	now := time.Now()

	// Drive an arbitrary mix of outcomes; the interval must stay within
	// [burst, max] at every step.
	for i := 0; i < 200; i++ {
		hadAction := i%17 == 0
		st.update(cfg, hadAction, now.Add(time.Duration(i)*cfg.Default()))
		if st.interval < cfg.Burst() || st.interval > cfg.Max() {
			t.Fatalf("step %d: interval %v outside [%v, %v]", i, st.interval, cfg.Burst(), cfg.Max())
		}
	}
}

func TestSchedState_EffectiveNext(t *testing.T) {
	cfg := monitorConfig()
	st := newSchedState(cfg)
	now := time.Now()

	st.lastCheckAt = now
	if got := st.effectiveNext(); !got.Equal(now.Add(cfg.Default())) {
		t.Errorf("effectiveNext = %v, want %v", got, now.Add(cfg.Default()))
	}

	forced := now.Add(time.Second)
	st.nextCheckAt = forced
	if got := st.effectiveNext(); !got.Equal(forced) {
		t.Errorf("forced effectiveNext = %v, want %v", got, forced)
	}
}

func TestFingerprint(t *testing.T) {
	if Fingerprint("hello", 2000) != Fingerprint("hello", 2000) {
		t.Error("identical input produced different fingerprints")
	}
	if Fingerprint("hello", 2000) == Fingerprint("world", 2000) {
		t.Error("different input produced identical fingerprints")
	}

	// Only the trailing window matters.
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'a'
	}
	a := "prefix-one-" + string(long)
	b := "prefix-two-" + string(long)
	if Fingerprint(a, 2000) != Fingerprint(b, 2000) {
		t.Error("scrollback outside the window changed the fingerprint")
	}
	if Fingerprint(a, 0) == Fingerprint(b, 0) {
		t.Error("window 0 should hash the whole text")
	}
}
