package monitor

import (
	"strings"
	"time"

	"github.com/zhangifonly/termwatch/internal/classify"
	"github.com/zhangifonly/termwatch/internal/events"
	"github.com/zhangifonly/termwatch/internal/session"
)

// waitRetryDelay is the fixed re-check delay for a rate-limited "wait"
// action: slow down, the backend is not broken.
const waitRetryDelay = 30 * time.Second

// act applies a verdict to a session. Returns whether an action was taken
// (used by the adaptive schedule to enter burst mode).
func (m *Monitor) act(rec *session.Record, st *schedState, v *classify.Verdict, fp uint64, now time.Time) bool {
	sess := rec.Session
	id := sess.ID()

	if v.DetectedAssistantType != "" && v.DetectedAssistantType != sess.AssistantType() {
		m.logf("session %s assistant detected as %q (configured %q)", id, v.DetectedAssistantType, sess.AssistantType())
	}

	if v.NeedsRecovery {
		if err := m.recovery.Start(rec, now); err != nil {
			m.logf("recovery not started for %s: %v", id, err)
			return false
		}
		return true
	}

	hadAction := false

	if v.ShouldFailover {
		if m.failOver(rec, v, now) {
			hadAction = true
		}
	}

	if v.NeedsAction {
		if m.execute(rec, st, v, fp, now) {
			hadAction = true
		}
	}

	return hadAction
}

// failOver consults the selector and applies the switch through the
// transport. Selection alone mutates nothing; only a successful switch
// counts as an action.
func (m *Monitor) failOver(rec *session.Record, v *classify.Verdict, now time.Time) bool {
	sess := rec.Session
	id := sess.ID()
	assistant := sess.AssistantType()
	current := sess.Provider(assistant)

	providers := m.selector.Priority(assistant)
	if current != "" && !contains(providers, current) {
		providers = append(providers, current)
	}

	next, err := m.selector.SelectNext(assistant, providers, current)
	if err != nil {
		m.logf("failover for %s: %v", id, err)
		return false
	}

	if m.switcher != nil {
		if err := m.switcher.SwitchProvider(sess, next, string(v.FailoverReason)); err != nil {
			m.logf("provider switch failed for %s: %v", id, err)
			return false
		}
	}

	m.logf("session %s provider failover %s -> %s (%s)", id, current, next, v.FailoverReason)
	m.bus.Publish(events.Event{
		Type:      events.TypeProviderSwitched,
		SessionID: id,
		Data: events.ProviderSwitch{
			From:   current,
			To:     next,
			Reason: string(v.FailoverReason),
		},
	})
	return true
}

// execute sends a plain action to the session, gated by the typing
// suppression window and the cooldown cache.
func (m *Monitor) execute(rec *session.Record, st *schedState, v *classify.Verdict, fp uint64, now time.Time) bool {
	sess := rec.Session
	id := sess.ID()

	// A human typed recently: hold automatic actions, keep the bookkeeping.
	if input := rec.Flags().LastInputAt; !input.IsZero() && now.Sub(input) < m.cfg.TypingSuppress() {
		return false
	}

	// The special "wait" action only reschedules.
	if v.ActionKind == classify.KindSpecial && v.Action == "wait" {
		m.mu.Lock()
		st.nextCheckAt = now.Add(waitRetryDelay)
		m.mu.Unlock()
		return false
	}

	if m.actions.ShouldSuppress(id, v.Action, fp, now, v.ActionKind) {
		return false
	}

	if err := sess.Write(encodeAction(v)); err != nil {
		m.logf("action write failed for %s: %v", id, err)
		return false
	}

	m.actions.Note(id, v.Action, fp, now, v.ActionKind)
	m.logf("session %s action %q (%s): %s", id, v.Action, v.ActionKind, v.ActionReason)
	m.bus.Publish(events.Event{
		Type:      events.TypeActionExecuted,
		SessionID: id,
		Data: events.ActionExecuted{
			Action: v.Action,
			Kind:   string(v.ActionKind),
			Reason: v.ActionReason,
		},
	})
	return true
}

// encodeAction turns a verdict into keystrokes: selections are bare keys,
// text gets a trailing Enter.
func encodeAction(v *classify.Verdict) []byte {
	switch v.ActionKind {
	case classify.KindSelect:
		return []byte(v.Action)
	default:
		if strings.HasSuffix(v.Action, "\r") {
			return []byte(v.Action)
		}
		return []byte(v.Action + "\r")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
