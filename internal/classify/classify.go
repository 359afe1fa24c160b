// Package classify defines the verdict contract between the monitor engine
// and the screen classifier. The engine consumes the Classifier interface;
// the default implementation is the cheap pattern-based classifier in this
// package, and an external (LLM-backed) classifier can be plugged in behind
// the same interface.
package classify

import (
	"context"
)

// ActionKind describes how an action string is delivered to the session.
type ActionKind string

const (
	// KindSelect is a menu selection: a single key (digit, arrow) with no Enter.
	KindSelect ActionKind = "select"

	// KindText is free text followed by Enter.
	KindText ActionKind = "text"

	// KindSpecial is an engine-interpreted action such as "wait".
	KindSpecial ActionKind = "special"
)

// FailoverReason explains why a provider failover was requested.
type FailoverReason string

const (
	FailoverRateLimit   FailoverReason = "rate_limit"
	FailoverAuthFailure FailoverReason = "auth_failure"
	FailoverAPIError    FailoverReason = "api_error"
)

// ErrorKind is the engine's error taxonomy.
type ErrorKind string

const (
	ErrorTransientNetwork ErrorKind = "transient_network"
	ErrorUpstreamAPI      ErrorKind = "upstream_api"
	ErrorCorruptedState   ErrorKind = "corrupted_state"
	ErrorRateLimit        ErrorKind = "rate_limit"
	ErrorNotFound         ErrorKind = "not_found"
)

// Verdict is the structured classification of a screen snapshot.
type Verdict struct {
	// NeedsAction is true when the assistant is waiting on input the engine
	// should supply.
	NeedsAction bool

	// ActionKind describes delivery of Action.
	ActionKind ActionKind

	// Action is the keystroke or text to send.
	Action string

	// ActionReason is a short human-readable explanation.
	ActionReason string

	// ShouldFailover requests a provider switch.
	ShouldFailover bool

	// FailoverReason explains the failover request.
	FailoverReason FailoverReason

	// NeedsRecovery reports a corrupted-conversation condition that the
	// recovery workflow must handle.
	NeedsRecovery bool

	// DetectedAssistantType is set when the screen identifies the hosted
	// assistant ("" when undetermined).
	DetectedAssistantType string
}

// ErrorVerdict is the result of classifying raw error text.
type ErrorVerdict struct {
	Kind   ErrorKind
	Action string
	Reason string
}

// Context carries optional per-call classification context.
type Context struct {
	// WorkingDir is the session's working directory.
	WorkingDir string

	// Provider is the session's current provider descriptor.
	Provider string
}

// Classifier turns screen text into verdicts. Cheap must be synchronous and
// perform no I/O; Classify may call out over the network and respects ctx.
type Classifier interface {
	// Cheap attempts a purely local classification. A nil verdict means
	// inconclusive and the caller should fall through to Classify.
	Cheap(text, assistantType string, cctx Context) *Verdict

	// Classify performs the full (possibly remote) classification.
	Classify(ctx context.Context, text, assistantType, sessionID string, cctx Context) (*Verdict, error)

	// ClassifyError classifies raw error text from the assistant.
	ClassifyError(ctx context.Context, errorText string) (*ErrorVerdict, error)
}
