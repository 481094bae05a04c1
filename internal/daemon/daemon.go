// Package daemon owns the long-running concerns of the bot process:
// periodic housekeeping of the state store and audit log, health
// reporting, and the metrics HTTP endpoint.
package daemon

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mkarls/showcased/storage"
	"github.com/mkarls/showcased/telemetry"
	"github.com/mkarls/showcased/wal"
)

// Config holds daemon configuration
type Config struct {
	// Interval between housekeeping runs
	Interval time.Duration
	// KeepRevisions bounds how many recent store revisions keep their
	// applied-event marks during compaction
	KeepRevisions int64
	// WALDir is the audit log directory to prune
	WALDir    string
	WALConfig wal.Config
}

// Daemon runs periodic housekeeping and reports process health
type Daemon struct {
	instanceID string
	interval   time.Duration
	keep       int64
	walDir     string
	walConfig  wal.Config

	store  *storage.StateStore
	logger *telemetry.Logger

	startTime      time.Time
	ready          atomic.Bool
	housekeepCount atomic.Int64
}

// NewDaemon creates a daemon instance with a fresh instance ID
func NewDaemon(config Config, store *storage.StateStore, logger *telemetry.Logger) (*Daemon, error) {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.KeepRevisions <= 0 {
		config.KeepRevisions = 10000
	}

	return &Daemon{
		instanceID: uuid.NewString(),
		interval:   config.Interval,
		keep:       config.KeepRevisions,
		walDir:     config.WALDir,
		walConfig:  config.WALConfig,
		store:      store,
		logger:     logger,
		startTime:  time.Now(),
	}, nil
}

// InstanceID returns this process's unique identifier
func (d *Daemon) InstanceID() string {
	return d.instanceID
}

// SetReady flips the readiness probe once the gateway is consuming
func (d *Daemon) SetReady(ready bool) {
	d.ready.Store(ready)
}

// Start begins the housekeeping loop. Blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.runHousekeeping(ctx)
		}
	}
}

func (d *Daemon) runHousekeeping(ctx context.Context) {
	d.housekeepCount.Add(1)

	deleted, err := d.store.Compact(d.keep)
	if err != nil {
		d.logger.LogStoreError(ctx, "compact", err)
	} else if deleted > 0 {
		d.logger.Info().Int("marks_deleted", deleted).Msg("compacted applied-event marks")
	}

	if d.walDir != "" {
		if err := wal.Cleanup(d.walDir, d.walConfig); err != nil {
			d.logger.LogStoreError(ctx, "wal cleanup", err)
		}
	}

	telemetry.StoreRevision.Record(ctx, d.store.CurrentRevision())
	telemetry.UsersTracked.Record(ctx, int64(d.store.UserCount()))
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status:     "healthy",
		InstanceID: d.instanceID,
		Uptime:     int64(time.Since(d.startTime).Seconds()),
		Ready:      d.ready.Load(),
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status     string `json:"status"`
	InstanceID string `json:"instance_id"`
	Uptime     int64  `json:"uptime_seconds"`
	Ready      bool   `json:"ready"`
}

// HousekeepingCount returns total housekeeping runs
func (d *Daemon) HousekeepingCount() int64 {
	return d.housekeepCount.Load()
}
