package executor

import (
	"time"

	"github.com/mkarls/showcased/types"
)

// Status tracks the lifecycle of enforcing a single decision
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Result contains the outcome of enforcing one decision
type Result struct {
	Decision     types.Decision  `json:"decision"`
	Status       Status          `json:"status"`
	ActionTaken  string          `json:"action_taken"`
	Escalated    bool            `json:"escalated,omitempty"`
	StateApplied bool            `json:"state_applied"`
	State        types.UserState `json:"state"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	Duration     time.Duration   `json:"duration"`
	Error        string          `json:"error,omitempty"`
	SkipReason   string          `json:"skip_reason,omitempty"`
}

// Options configure executor behavior
type Options struct {
	// DryRun evaluates and records decisions without touching the platform
	DryRun bool
	// Timeout bounds each platform call
	Timeout time.Duration
}
