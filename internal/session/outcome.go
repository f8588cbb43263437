package session

import (
	"github.com/claude-collab/backend/internal/driver"
	"github.com/claude-collab/backend/internal/wire"
)

// OutcomeKind tags how a turn ended.
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeCancelled
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the terminal state of one turn.
type Outcome struct {
	Kind OutcomeKind

	// Result is set for Completed; it is empty when the stream ended without a result.
	Result driver.Result

	// Err is set for Failed.
	Err string
}

// decideOutcome picks the terminal state. A result always wins over a
// concurrent cancellation; cancellation wins over the error it causes.
func decideOutcome(result *driver.Result, cancelled bool, err error) Outcome {
	switch {
	case result != nil:
		return Outcome{Kind: OutcomeCompleted, Result: *result}
	case cancelled:
		return Outcome{Kind: OutcomeCancelled}
	case err != nil:
		return Outcome{Kind: OutcomeFailed, Err: err.Error()}
	default:
		return Outcome{Kind: OutcomeCompleted}
	}
}

// Event returns the terminal wire event for the outcome.
func (o Outcome) Event(taskID string) wire.Event {
	switch o.Kind {
	case OutcomeCancelled:
		return wire.AgentInterrupted(taskID)
	case OutcomeFailed:
		return wire.AgentError(o.Err, taskID)
	default:
		return wire.AgentDone(wire.DoneMeta{
			Cost:     o.Result.CostUSD,
			Duration: o.Result.DurationMS,
			Turns:    o.Result.NumTurns,
			Subtype:  o.Result.Subtype,
		}, taskID)
	}
}
