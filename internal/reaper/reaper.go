// Package reaper implements the stall-recovery and orphaned-reservation
// maintenance job (§4.G "Stall recovery", §9's reaper ownership note): a
// periodic sweep that forces stuck `processing` entries back to `retry`
// and reclaims reservations left behind by jobs that never reached a
// terminal state, without ever touching status/worker_id/blog_slots_reserved
// outside of the Queue Store and Publisher Ledger's own atomic primitives.
package reaper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/fyi-network/blog-pipeline/internal/ledger"
	"github.com/fyi-network/blog-pipeline/internal/queue"
)

// Config controls the reaper's stall threshold and run cadence.
type Config struct {
	// Schedule is a standard 5-field cron expression for the sweep cadence.
	Schedule string
	// StallMultiple is k in "heartbeat_at older than heartbeat_interval_seconds * k".
	StallMultiple int
	// DefaultHeartbeatIntervalSeconds is used when an entry's own interval is 0.
	DefaultHeartbeatIntervalSeconds int
	// ReservationTTL is a hard ceiling on how long a publisher's reservation
	// may stay outstanding once an entry has gone stalled at least once,
	// independent of its remaining retry budget.
	ReservationTTL time.Duration
}

// Reaper periodically recovers stalled queue entries.
type Reaper struct {
	cfg         Config
	queueStore  queue.Store
	ledgerStore ledger.Store
	log         *logrus.Entry
	cron        *cron.Cron
}

// New constructs a Reaper over the Queue Store and Publisher Ledger.
func New(cfg Config, queueStore queue.Store, ledgerStore ledger.Store) *Reaper {
	if cfg.StallMultiple < 3 {
		cfg.StallMultiple = 3
	}
	if cfg.DefaultHeartbeatIntervalSeconds <= 0 {
		cfg.DefaultHeartbeatIntervalSeconds = 15
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	return &Reaper{
		cfg:         cfg,
		queueStore:  queueStore,
		ledgerStore: ledgerStore,
		log:         logrus.WithField("component", "reaper"),
		cron:        cron.New(),
	}
}

// Start schedules the sweep on the configured cadence and runs it once
// immediately so a freshly-deployed reaper does not wait a full period
// before its first pass.
func (r *Reaper) Start(ctx context.Context) error {
	r.sweep(ctx)
	if _, err := r.cron.AddFunc(r.cfg.Schedule, func() { r.sweep(ctx) }); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight sweep to finish.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

// sweep lists stalled processing entries and forces each back to retry via
// the Queue Store's own compare-and-set primitive. Stall recovery never
// touches blog_slots_reserved directly: the reservation stays intact
// because the job is still expected to complete, not abandoned.
func (r *Reaper) sweep(ctx context.Context) {
	cutoff := time.Duration(r.cfg.DefaultHeartbeatIntervalSeconds*r.cfg.StallMultiple) * time.Second
	stalled, err := r.queueStore.ListStalled(ctx, cutoff)
	if err != nil {
		r.log.WithError(err).Error("list stalled entries")
		return
	}
	if len(stalled) == 0 {
		return
	}
	r.log.WithField("count", len(stalled)).Info("recovering stalled entries")

	for _, entry := range stalled {
		log := r.log.WithField("url", entry.URL)
		if _, err := r.queueStore.AtomicUpdateStatus(ctx, entry.URL, queue.StatusProcessing, queue.StatusRetry, map[string]interface{}{
			"worker_id":    nil,
			"heartbeat_at": nil,
		}); err != nil {
			log.WithError(err).Warn("force stalled entry to retry")
			continue
		}
		log.Info("stalled entry reset to retry")
	}

	r.reclaimOrphanedReservations(ctx, stalled)
}

// reclaimOrphanedReservations releases a publisher's reservation for any
// entry that fell back to retry but has either exhausted its retry budget
// or sat reserved longer than cfg.ReservationTTL, since those entries will
// never reach a terminal state that would otherwise trigger
// release_blog_slot.
func (r *Reaper) reclaimOrphanedReservations(ctx context.Context, stalled []*queue.Entry) {
	for _, entry := range stalled {
		exhausted := entry.AttemptCount >= entry.MaxRetries
		expired := r.cfg.ReservationTTL > 0 && entry.StartedAt != nil && time.Since(*entry.StartedAt) > r.cfg.ReservationTTL
		if !exhausted && !expired {
			continue
		}
		log := r.log.WithField("url", entry.URL)
		updated, err := r.queueStore.AtomicUpdateStatus(ctx, entry.URL, queue.StatusRetry, queue.StatusFailed, nil)
		if err != nil {
			log.WithError(err).Warn("mark exhausted stalled entry as failed")
			continue
		}
		if err := r.ledgerStore.ReleaseBlogSlot(ctx, updated.PublisherID, false, 0); err != nil {
			log.WithError(err).Warn("release orphaned reservation")
		}
	}
}
