package classify

import (
	"context"
	"regexp"
	"strings"
)

// Screen patterns for the local classifier. These cover the states the
// assistants render often enough that a remote call would be wasted on them.
var (
	// Busy markers: the assistant is mid-turn.
	patternBusy = regexp.MustCompile(`(?i)(esc to interrupt|ctrl\+c to stop|thinking…|\(\d+s\s*·)`)

	// Permission / selection menus.
	patternMenu       = regexp.MustCompile(`(?im)^\s*[❯>]\s*1\.\s`)
	patternMenuPrompt = regexp.MustCompile(`(?i)(do you want to|would you like to|allow this|proceed\?)`)

	// Trust prompts always get option 1 ("yes"); destructive confirmations
	// are left for the remote classifier to judge.
	patternDestructive = regexp.MustCompile(`(?i)(delete|remove|overwrite|force.?push|rm -rf)`)

	// Corrupted conversation state: invalid signed thinking segments.
	patternCorrupted = regexp.MustCompile(`(?i)(invalid.{0,20}signature|thinking.{0,20}block|signature.{0,20}thinking|API Error.{0,80}invalid_request_error.{0,80}thinking)`)

	// Rate limits.
	patternRateLimit = regexp.MustCompile(`(?i)(429|rate.?limit(ed)?|too.?many.?requests|quota.?exceeded|overloaded|at.?capacity)`)

	// Auth failures worth a provider failover.
	patternAuth = regexp.MustCompile(`(?i)(401|403|invalid.?api.?key|authentication.?fail|credit.?balance.?too.?low)`)

	// Idle prompt box with no pending question.
	patternIdle = regexp.MustCompile(`(?i)(\? for shortcuts|│\s*>\s*│)`)

	// Network trouble surfaced on screen.
	patternNetwork = regexp.MustCompile(`(?i)(connection.?(refused|reset|error)|network.?error|ETIMEDOUT|ENOTFOUND|fetch.?failed|offline)`)

	// Missing artifacts.
	patternNotFound = regexp.MustCompile(`(?i)(not found|no such file|missing)`)
)

// Assistant banners for type detection.
var assistantBanners = []struct {
	pattern *regexp.Regexp
	name    string
}{
	{regexp.MustCompile(`(?i)claude code`), "claude"},
	{regexp.MustCompile(`(?i)\bcodex\b`), "codex"},
	{regexp.MustCompile(`(?i)gemini( cli)?\b`), "gemini"},
	{regexp.MustCompile(`(?i)\baider\b`), "aider"},
}

// CheapClassifier is the default local classifier. It is synchronous, does no
// I/O, and covers the dominant steady-state screens so the external
// classifier is only consulted for ambiguous content.
type CheapClassifier struct{}

// NewCheapClassifier returns the default local classifier.
func NewCheapClassifier() *CheapClassifier {
	return &CheapClassifier{}
}

var _ Classifier = (*CheapClassifier)(nil)

// Cheap classifies the screen locally. Returns nil when inconclusive.
func (c *CheapClassifier) Cheap(text, assistantType string, cctx Context) *Verdict {
	detected := detectAssistant(text)

	// Corrupted conversation state beats everything else: the assistant is
	// wedged and only the recovery workflow helps.
	if patternCorrupted.MatchString(text) {
		return &Verdict{
			NeedsRecovery:         true,
			ActionReason:          "corrupted conversation state on screen",
			DetectedAssistantType: detected,
		}
	}

	if patternAuth.MatchString(text) {
		return &Verdict{
			ShouldFailover:        true,
			FailoverReason:        FailoverAuthFailure,
			ActionReason:          "authentication failure on screen",
			DetectedAssistantType: detected,
		}
	}

	if patternRateLimit.MatchString(text) {
		return &Verdict{
			NeedsAction:           true,
			ActionKind:            KindSpecial,
			Action:                "wait",
			ActionReason:          "rate limited; wait and retry",
			ShouldFailover:        true,
			FailoverReason:        FailoverRateLimit,
			DetectedAssistantType: detected,
		}
	}

	// Mid-turn: conclusive, nothing to do.
	if patternBusy.MatchString(text) {
		return &Verdict{DetectedAssistantType: detected}
	}

	// Selection menu awaiting a choice.
	if patternMenu.MatchString(text) && patternMenuPrompt.MatchString(text) {
		if patternDestructive.MatchString(tailLines(text, 12)) {
			// Ambiguous: let the remote classifier weigh the destructive
			// confirmation.
			return nil
		}
		return &Verdict{
			NeedsAction:           true,
			ActionKind:            KindSelect,
			Action:                "1",
			ActionReason:          "confirm pending permission prompt",
			DetectedAssistantType: detected,
		}
	}

	// Plain idle prompt: conclusive, nothing to do.
	if patternIdle.MatchString(text) && !patternMenuPrompt.MatchString(text) {
		return &Verdict{DetectedAssistantType: detected}
	}

	return nil
}

// Classify falls back to the cheap path; the CheapClassifier has no remote
// backend. Deployments wanting LLM classification wrap or replace it.
func (c *CheapClassifier) Classify(ctx context.Context, text, assistantType, sessionID string, cctx Context) (*Verdict, error) {
	if v := c.Cheap(text, assistantType, cctx); v != nil {
		return v, nil
	}
	return &Verdict{}, nil
}

// ClassifyError maps raw error text onto the engine's error taxonomy.
func (c *CheapClassifier) ClassifyError(ctx context.Context, errorText string) (*ErrorVerdict, error) {
	switch {
	case patternCorrupted.MatchString(errorText):
		return &ErrorVerdict{
			Kind:   ErrorCorruptedState,
			Action: "recover",
			Reason: "conversation transcript contains invalid thinking segments",
		}, nil
	case patternRateLimit.MatchString(errorText):
		return &ErrorVerdict{
			Kind:   ErrorRateLimit,
			Action: "wait",
			Reason: "upstream rate limit",
		}, nil
	case patternNetwork.MatchString(errorText):
		return &ErrorVerdict{
			Kind:   ErrorTransientNetwork,
			Reason: "network-class failure",
		}, nil
	case patternNotFound.MatchString(errorText):
		return &ErrorVerdict{
			Kind:   ErrorNotFound,
			Reason: "referenced artifact missing",
		}, nil
	default:
		return &ErrorVerdict{
			Kind:   ErrorUpstreamAPI,
			Reason: "unclassified upstream failure",
		}, nil
	}
}

// detectAssistant scans for assistant banners.
func detectAssistant(text string) string {
	for _, b := range assistantBanners {
		if b.pattern.MatchString(text) {
			return b.name
		}
	}
	return ""
}

// tailLines returns the last n lines of text.
func tailLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
