// Package reuseverdict defines the Reuse Verdict tagged value (spec §3,
// §4.5): the Reuse Judge's decision on whether a session's cached
// retrieval artifacts answer the new turn without a fresh retrieval.
package reuseverdict

// Reason explains why a Verdict was reached. It is carried for
// diagnostics/logging only; the Execution Pipeline branches on Action
// alone.
type Reason string

const (
	ReasonNoHistory     Reason = "no_history"
	ReasonTemporalShift Reason = "temporal_shift"
	ReasonParseFallback Reason = "parse_fallback"
	ReasonFollowUp      Reason = "follow_up"
	ReasonNewTopic      Reason = "new_topic"
)

// Action is the two-valued decision the Gateway's plan_reuse operation
// is constrained to emit.
type Action string

const (
	ActionReuse   Action = "reuse"
	ActionRefresh Action = "refresh"
)

// Verdict pairs the decision with the reason it was reached.
type Verdict struct {
	Action Action
	Reason Reason
}

// Reuse constructs a Reuse{reason} verdict.
func Reuse(reason Reason) Verdict { return Verdict{Action: ActionReuse, Reason: reason} }

// Refresh constructs a Refresh{reason} verdict.
func Refresh(reason Reason) Verdict { return Verdict{Action: ActionRefresh, Reason: reason} }

// ShouldReuse reports whether the verdict permits answering from cache.
func (v Verdict) ShouldReuse() bool { return v.Action == ActionReuse }

// ParseAction converts a raw two-token Gateway output into an Action.
// Any other output is not a valid Action; the Reuse Judge's policy
// (spec §4.5) treats that as Refresh{ParseFallback} rather than erroring.
func ParseAction(token string) (Action, bool) {
	switch Action(token) {
	case ActionReuse:
		return ActionReuse, true
	case ActionRefresh:
		return ActionRefresh, true
	default:
		return "", false
	}
}
