// Package cooldown suppresses repeated automatic actions. Records are keyed
// by session and scoped to a content fingerprint: a genuinely new prompt
// bypasses the cooldown immediately, while an unchanged screen after a
// repeated send indicates no progress and is throttled.
package cooldown

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/zhangifonly/termwatch/internal/classify"
	"github.com/zhangifonly/termwatch/internal/config"
)

// cacheSize bounds the number of tracked sessions. The retention TTL evicts
// stale entries; the size cap is a guard against unbounded session churn.
const cacheSize = 4096

// Record is the last executed action for a session.
type Record struct {
	Action      string
	Kind        classify.ActionKind
	Fingerprint uint64
	Time        time.Time
}

// Cache remembers the last action per session. Entries older than the
// retention window are evicted automatically; absence of an entry means no
// cooldown is in effect.
type Cache struct {
	cfg config.CooldownConfig
	lru *expirable.LRU[string, Record]
}

// NewCache creates a cache with the configured retention window.
func NewCache(cfg config.CooldownConfig) *Cache {
	return &Cache{
		cfg: cfg,
		lru: expirable.NewLRU[string, Record](cacheSize, nil, cfg.Retention()),
	}
}

// window returns the cooldown for an action kind. Selection actions get a
// short window: an unsuccessful keypress usually leaves the menu unchanged
// and must be retried quickly.
func (c *Cache) window(kind classify.ActionKind) time.Duration {
	if kind == classify.KindSelect {
		return c.cfg.Select()
	}
	return c.cfg.Default()
}

// ShouldSuppress reports whether the action repeats the session's last action
// against unchanged content within the kind's cooldown window.
func (c *Cache) ShouldSuppress(sessionID, action string, fingerprint uint64, now time.Time, kind classify.ActionKind) bool {
	rec, ok := c.lru.Get(sessionID)
	if !ok {
		return false
	}
	if rec.Action != action || rec.Fingerprint != fingerprint {
		return false
	}
	return now.Sub(rec.Time) < c.window(kind)
}

// Note records an executed action, overwriting the session's previous record.
func (c *Cache) Note(sessionID, action string, fingerprint uint64, now time.Time, kind classify.ActionKind) {
	c.lru.Add(sessionID, Record{
		Action:      action,
		Kind:        kind,
		Fingerprint: fingerprint,
		Time:        now,
	})
}

// Forget drops the record for a session (on session removal).
func (c *Cache) Forget(sessionID string) {
	c.lru.Remove(sessionID)
}

// Len returns the number of live records.
func (c *Cache) Len() int {
	return c.lru.Len()
}
