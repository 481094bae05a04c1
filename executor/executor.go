// Package executor turns finalized decisions into platform actions and
// state updates. Actions are idempotent: deleting an already-deleted
// message counts as satisfied, and the state update keyed by event ID is
// the final step, so a crash mid-enforcement never leaves a half-applied
// record.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mkarls/showcased/config"
	"github.com/mkarls/showcased/platform"
	"github.com/mkarls/showcased/storage"
	"github.com/mkarls/showcased/telemetry"
	"github.com/mkarls/showcased/types"
	"github.com/mkarls/showcased/wal"
)

// Engine enforces decisions against the chat platform
type Engine struct {
	client  platform.Client
	store   *storage.StateStore
	wal     *wal.WAL
	logger  *telemetry.Logger
	rule    config.Rule
	options Options
}

// NewEngine creates an executor engine
func NewEngine(
	client platform.Client,
	store *storage.StateStore,
	walInstance *wal.WAL,
	logger *telemetry.Logger,
	rule config.Rule,
	options Options,
) *Engine {
	return &Engine{
		client:  client,
		store:   store,
		wal:     walInstance,
		logger:  logger,
		rule:    rule,
		options: options,
	}
}

// Execute enforces a single decision for its triggering event
func (e *Engine) Execute(ctx context.Context, decision types.Decision, evt *types.Event) (*Result, error) {
	startTime := time.Now()

	result := &Result{
		Decision:  decision,
		Status:    StatusPending,
		StartTime: startTime,
	}

	if err := decision.Validate(); err != nil {
		return e.failResult(result, "invalid decision", err), nil
	}

	result.Status = StatusExecuting

	if err := e.wal.Append(wal.EntryEnforcing, decision.EventID, decision.UserID, decision); err != nil {
		return e.failResult(result, "failed to log enforcement start", err), nil
	}

	var err error
	switch {
	case evt.Type == types.EventDeleted:
		err = e.handleAuthorDelete(ctx, result, evt)
	case decision.IsViolation():
		err = e.enforceViolation(ctx, result, evt)
	default:
		err = e.recordPass(ctx, result, evt)
	}
	if err != nil {
		if walErr := e.wal.AppendError(wal.EntryFailed, decision.EventID, decision.UserID, decision, err); walErr != nil {
			return e.failResult(result, "enforcement failed and WAL error", fmt.Errorf("enforcement: %w, wal: %w", err, walErr)), nil
		}
		return e.failResult(result, "enforcement failed", err), nil
	}

	if result.Status == StatusExecuting {
		result.Status = StatusSuccess
	}
	result.Decision.ActionTaken = result.ActionTaken
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	if result.Status == StatusSuccess {
		telemetry.EnforcementActions.Add(ctx, 1,
			metric.WithAttributes(attribute.String("action", result.ActionTaken)))
		e.logger.LogEnforcement(ctx, decision.EventID, result.ActionTaken)
	}

	if err := e.wal.Append(wal.EntryEnforced, decision.EventID, decision.UserID, result); err != nil {
		// enforcement is done; a WAL failure only costs audit detail
		e.logger.Error().Err(err).Str("event_id", decision.EventID).Msg("enforcement succeeded but WAL logging failed")
	}

	return result, nil
}

// recordPass refreshes the user's cooldown window and retires any
// standing warning, since the user is now compliant.
func (e *Engine) recordPass(ctx context.Context, result *Result, evt *types.Event) error {
	prior, err := e.store.Get(evt.AuthorID)
	if err != nil {
		return err
	}

	if prior.LastWarningMessageID != "" && !e.options.DryRun {
		if err := e.client.DeleteMessage(ctx, evt.ChannelID, prior.LastWarningMessageID); err != nil && !platform.IsNotFound(err) {
			// the stale warning lingering is not worth failing the pass
			e.logger.Warn().Err(err).Str("user_id", evt.AuthorID).Msg("could not remove stale warning")
		}
	}

	state, applied, err := e.store.Apply(evt.AuthorID, evt.ID, func(s *types.UserState) {
		s.RecordValidPost(evt.Timestamp, e.rule.Cooldown)
		s.LastWarningMessageID = ""
	})
	if err != nil {
		return err
	}

	result.State = state
	result.StateApplied = applied
	result.ActionTaken = types.ActionNone
	if !applied {
		result.Status = StatusSkipped
		result.SkipReason = "event already applied"
	}
	return nil
}

// enforceViolation deletes the offending post, warns the author, accrues
// a strike and escalates when the strike threshold is crossed. The delete
// always comes first; escalation is a separate side effect that never
// blocks it.
func (e *Engine) enforceViolation(ctx context.Context, result *Result, evt *types.Event) error {
	// dedup before touching the platform: a redelivered violation must
	// not delete or warn twice
	if was, err := e.store.WasApplied(evt.ID); err != nil {
		return err
	} else if was {
		state, getErr := e.store.Get(evt.AuthorID)
		if getErr != nil {
			return getErr
		}
		result.State = state
		result.ActionTaken = types.ActionNone
		result.Status = StatusSkipped
		result.SkipReason = "event already applied"
		return nil
	}

	prior, err := e.store.Get(evt.AuthorID)
	if err != nil {
		return err
	}

	action := types.ActionDeleted
	if !e.options.DryRun {
		if err := e.deleteMessage(ctx, evt); err != nil {
			if !platform.IsPermanent(err) && !platform.IsTransient(err) {
				return err
			}
			// the post survives, but the strike must still accrue so
			// repeat offenders are limited even under partial failure
			e.logger.LogEnforcementFailed(ctx, evt.ID, types.ActionDeleted, err)
			telemetry.EnforcementFailed.Add(ctx, 1)
			action = types.ActionFailedPermanent
		}
	}

	warnID := ""
	if !e.options.DryRun && action == types.ActionDeleted {
		warnID = e.sendWarning(ctx, evt, e.warnContent(prior))
		if warnID != "" {
			action = types.ActionWarned
		}
	}

	state, applied, err := e.store.Apply(evt.AuthorID, evt.ID, func(s *types.UserState) {
		s.AddStrike()
		if warnID != "" {
			s.LastWarningMessageID = warnID
		}
	})
	if err != nil {
		return err
	}

	result.State = state
	result.StateApplied = applied
	result.ActionTaken = action

	if applied && state.StrikeCount == e.rule.MaxStrikes {
		e.escalate(ctx, evt, state)
		result.Escalated = true
		result.ActionTaken = types.ActionEscalated
	}

	return nil
}

// handleAuthorDelete reacts to the user removing their own post: any
// cooldown from a transient evaluation is cleared, strikes never go down.
func (e *Engine) handleAuthorDelete(ctx context.Context, result *Result, evt *types.Event) error {
	state, applied, err := e.store.Apply(evt.AuthorID, evt.ID, func(s *types.UserState) {
		s.ClearCooldown()
	})
	if err != nil {
		return err
	}

	result.State = state
	result.StateApplied = applied
	result.ActionTaken = types.ActionCooldownCleared
	if !applied {
		result.Status = StatusSkipped
		result.SkipReason = "event already applied"
	}
	return nil
}

// deleteMessage removes the offending post. A message that is already
// gone counts as deleted.
func (e *Engine) deleteMessage(ctx context.Context, evt *types.Event) error {
	ctx, cancel := e.callContext(ctx)
	defer cancel()

	err := e.client.DeleteMessage(ctx, evt.ChannelID, evt.MessageID)
	if err == nil || platform.IsNotFound(err) {
		return nil
	}
	return err
}

// warnContent picks the reply body: first offense gets the warning text,
// repeat offenses get the removal text.
func (e *Engine) warnContent(prior types.UserState) string {
	if prior.StrikeCount > 0 && e.rule.RemoveMessage != "" {
		return e.rule.RemoveMessage
	}
	return e.rule.WarnMessage
}

// sendWarning posts the warning reply. Warning failures are logged but
// never block enforcement.
func (e *Engine) sendWarning(ctx context.Context, evt *types.Event, body string) string {
	if body == "" {
		return ""
	}

	ctx, cancel := e.callContext(ctx)
	defer cancel()

	content := fmt.Sprintf("<@%s> %s", evt.AuthorID, body)
	id, err := e.client.SendMessage(ctx, evt.ChannelID, content)
	if err != nil {
		e.logger.Warn().Err(err).Str("user_id", evt.AuthorID).Msg("could not post warning")
		return ""
	}
	return id
}

// escalate notifies moderators that a user crossed the strike threshold
func (e *Engine) escalate(ctx context.Context, evt *types.Event, state types.UserState) {
	telemetry.EscalationsTotal.Add(ctx, 1)
	e.logger.LogEscalation(ctx, evt.AuthorID, state.StrikeCount)

	if e.rule.EscalationChannel == "" || e.options.DryRun {
		return
	}

	ctx, cancel := e.callContext(ctx)
	defer cancel()

	content := fmt.Sprintf("user <@%s> reached %d showcase strikes", evt.AuthorID, state.StrikeCount)
	if _, err := e.client.SendMessage(ctx, e.rule.EscalationChannel, content); err != nil {
		e.logger.Error().Err(err).Str("user_id", evt.AuthorID).Msg("escalation notification failed")
	}
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.options.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.options.Timeout)
}

func (e *Engine) failResult(result *Result, msg string, err error) *Result {
	result.Status = StatusFailed
	result.Error = fmt.Sprintf("%s: %v", msg, err)
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	return result
}
