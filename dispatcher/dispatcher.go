// Package dispatcher connects the gateway to the enforcement pipeline.
// It normalizes raw frames, fans events out across workers with per-user
// ordering, and drives each event through evaluate and execute exactly
// once.
package dispatcher

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mkarls/showcased/executor"
	"github.com/mkarls/showcased/normalizer"
	"github.com/mkarls/showcased/platform"
	"github.com/mkarls/showcased/rules"
	"github.com/mkarls/showcased/storage"
	"github.com/mkarls/showcased/telemetry"
	"github.com/mkarls/showcased/types"
	"github.com/mkarls/showcased/wal"
)

// Dispatcher routes inbound events through the enforcement pipeline
type Dispatcher struct {
	normalizer *normalizer.Normalizer
	evaluator  *rules.Evaluator
	engine     *executor.Engine
	store      *storage.StateStore
	wal        *wal.WAL
	logger     *telemetry.Logger

	// seen short-circuits redelivered events before they cost a worker
	// slot; the store's applied-marks remain the durable dedup record
	seen *lru.Cache[string, struct{}]

	sched *scheduler
}

// Config sizes the dispatcher's worker pool and caches
type Config struct {
	Workers   int
	QueueSize int
	DedupSize int
}

// New creates a dispatcher and starts its worker pool
func New(
	cfg Config,
	norm *normalizer.Normalizer,
	evaluator *rules.Evaluator,
	engine *executor.Engine,
	store *storage.StateStore,
	walInstance *wal.WAL,
	logger *telemetry.Logger,
) (*Dispatcher, error) {
	seen, err := lru.New[string, struct{}](cfg.DedupSize)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		normalizer: norm,
		evaluator:  evaluator,
		engine:     engine,
		store:      store,
		wal:        walInstance,
		logger:     logger,
		seen:       seen,
	}
	d.sched = newScheduler(cfg.Workers, cfg.QueueSize, logger, d.process)

	return d, nil
}

// HandleRaw is the gateway callback for every inbound frame
func (d *Dispatcher) HandleRaw(ctx context.Context, raw *platform.RawEvent) error {
	telemetry.EventsReceived.Add(ctx, 1)

	evt, err := d.normalizer.Normalize(raw)
	if err != nil {
		var malformed *normalizer.MalformedEventError
		if errors.As(err, &malformed) {
			telemetry.EventsDropped.Add(ctx, 1,
				metric.WithAttributes(attribute.String("why", "malformed")))
			d.logger.LogMalformedEvent(ctx, raw.Type, err)
			return nil
		}
		return err
	}
	if evt == nil {
		telemetry.EventsDropped.Add(ctx, 1,
			metric.WithAttributes(attribute.String("why", "out_of_scope")))
		return nil
	}

	// deletes without an author give us nothing to act on
	if evt.AuthorID == "" {
		telemetry.EventsDropped.Add(ctx, 1,
			metric.WithAttributes(attribute.String("why", "no_author")))
		d.logger.LogEventDropped(ctx, evt.ID, "no author")
		return nil
	}

	if d.seen.Contains(evt.ID) {
		telemetry.EventsDuplicate.Add(ctx, 1)
		d.logger.LogEventDropped(ctx, evt.ID, "duplicate")
		return d.wal.Append(wal.EntrySkipped, evt.ID, evt.AuthorID, nil)
	}

	return d.sched.addWork(ctx, evt.AuthorID, evt)
}

// process drives one event through the pipeline on a worker. The state
// update inside Execute is the committing step, so any failure before it
// leaves the event fully retryable.
func (d *Dispatcher) process(ctx context.Context, evt *types.Event) {
	start := time.Now()

	if err := d.wal.Append(wal.EntryReceived, evt.ID, evt.AuthorID, evt); err != nil {
		d.logger.LogStoreError(ctx, "wal received", err)
	}

	decision, err := d.decide(evt)
	if err != nil {
		d.logger.LogStoreError(ctx, "state read", err)
		return
	}

	d.logger.LogDecision(ctx, &decision)
	telemetry.DecisionsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", string(decision.Outcome))))
	if err := d.wal.Append(wal.EntryDecided, evt.ID, evt.AuthorID, decision); err != nil {
		d.logger.LogStoreError(ctx, "wal decided", err)
	}

	result, err := d.engine.Execute(ctx, decision, evt)
	if err != nil {
		d.logger.LogEnforcementFailed(ctx, evt.ID, decision.ActionTaken, err)
		return
	}
	if result.Status == executor.StatusFailed {
		d.logger.Error().
			Str("event_id", evt.ID).
			Str("error", result.Error).
			Msg("enforcement did not complete")
		return
	}

	d.seen.Add(evt.ID, struct{}{})
	telemetry.PipelineDuration.Record(ctx, time.Since(start).Seconds())
	telemetry.StoreRevision.Record(ctx, d.store.CurrentRevision())
	telemetry.UsersTracked.Record(ctx, int64(d.store.UserCount()))
}

// decide produces the decision for an event. Author deletions skip rule
// evaluation; they only trigger cooldown cleanup in the executor.
func (d *Dispatcher) decide(evt *types.Event) (types.Decision, error) {
	if !evt.NeedsEvaluation() {
		return types.Decision{
			EventID:   evt.ID,
			UserID:    evt.AuthorID,
			ChannelID: evt.ChannelID,
			Outcome:   types.OutcomePass,
			CreatedAt: evt.Timestamp,
		}, nil
	}

	state, err := d.store.Get(evt.AuthorID)
	if err != nil {
		return types.Decision{}, err
	}
	return d.evaluator.Evaluate(evt, state), nil
}

// Shutdown drains the worker pool. In-flight lanes finish first.
func (d *Dispatcher) Shutdown() {
	d.sched.shutdown()
}
