package types

import (
	"fmt"
	"time"
)

// Outcome of evaluating an event against the showcase rule
type Outcome string

const (
	OutcomePass      Outcome = "pass"
	OutcomeViolation Outcome = "violation"
)

// Violation reasons. The check order is fixed (cooldown, link, description)
// so the same input always yields the same reason.
type Reason string

const (
	ReasonCooldownActive     Reason = "cooldown_active"
	ReasonMissingLink        Reason = "missing_link"
	ReasonMissingDescription Reason = "missing_description"
)

// Actions the executor records against a decision
const (
	ActionNone            = "none"
	ActionDeleted         = "deleted"
	ActionWarned          = "warned"
	ActionEscalated       = "escalated"
	ActionCooldownCleared = "cooldown_cleared"
	ActionFailedPermanent = "failed_permanent"
)

// Decision is the evaluator's verdict for a single event. At most one
// decision is ever finalized per event ID; enforcement is idempotent under
// platform redelivery.
type Decision struct {
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	ChannelID   string    `json:"channel_id"`
	Outcome     Outcome   `json:"outcome"`
	Reason      Reason    `json:"reason,omitempty"`
	ActionTaken string    `json:"action_taken,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate ensures the decision has required fields
func (d *Decision) Validate() error {
	if d.EventID == "" {
		return fmt.Errorf("decision event ID cannot be empty")
	}
	if d.UserID == "" {
		return fmt.Errorf("decision user ID cannot be empty")
	}
	if d.Outcome != OutcomePass && d.Outcome != OutcomeViolation {
		return fmt.Errorf("unknown decision outcome %q", d.Outcome)
	}
	if d.Outcome == OutcomeViolation && d.Reason == "" {
		return fmt.Errorf("violation decision requires a reason")
	}
	return nil
}

// IsViolation reports whether the decision requires enforcement
func (d *Decision) IsViolation() bool {
	return d.Outcome == OutcomeViolation
}
