package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a lookup finds no matching entry.
var ErrNotFound = errors.New("queue: entry not found")

// ErrStatusMismatch is returned by compare-and-set operations when the
// entry's current status does not match the expected "from" status.
var ErrStatusMismatch = errors.New("queue: status did not match expected value")

// Store is the Queue Store's storage contract (component B). It exposes a
// pure data-access surface with no domain knowledge of publishers or blog
// content.
type Store interface {
	GetByURL(ctx context.Context, url string) (*Entry, error)
	AtomicGetOrCreate(ctx context.Context, url, publisherID string) (entry *Entry, isNew bool, err error)
	AtomicUpdateStatus(ctx context.Context, url string, from, to Status, updates map[string]interface{}) (*Entry, error)
	AtomicRequeueFailed(ctx context.Context, url string, resetAttempts bool) (*Entry, error)
	AtomicWorkerPickJob(ctx context.Context, workerID string) (*Entry, error)
	AtomicBatchPickSequential(ctx context.Context, workerID string, batchSize int) ([]*Entry, error)
	UpdateHeartbeat(ctx context.Context, workerID string, url string) error
	DeleteByURL(ctx context.Context, url string) error
	GetStats(ctx context.Context) (*Stats, error)
	ListStalled(ctx context.Context, olderThan time.Duration) ([]*Entry, error)
}

// SQLStore implements Store over sqlx, following the teacher's generic
// CRUD convention but hand-writing the atomic-pick transaction, grounded
// on the Publisher Ledger's own row-locking precedent.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore constructs a SQLStore over an already-open *sql.DB.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: sqlx.NewDb(db, "postgres")}
}

const entryColumns = `id, publisher_id, url, status, attempts, max_retries, reprocessed_count,
	last_error, failure_kind, worker_id, heartbeat_at, heartbeat_interval_seconds,
	started_at, completed_at, last_reprocessed_at, processed, created_at, updated_at`

func (s *SQLStore) GetByURL(ctx context.Context, url string) (*Entry, error) {
	var e Entry
	err := s.db.GetContext(ctx, &e, `SELECT `+entryColumns+` FROM blog_processing_queue WHERE url = $1`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// AtomicGetOrCreate relies on the unique index on url: a racing insert
// loses the conflict and re-reads the winning row, so is_new=true is
// emitted exactly once per URL across all racing callers.
func (s *SQLStore) AtomicGetOrCreate(ctx context.Context, url, publisherID string) (*Entry, bool, error) {
	var e Entry
	err := s.db.GetContext(ctx, &e, `
		INSERT INTO blog_processing_queue (publisher_id, url, status)
		VALUES ($1, $2, 'queued')
		ON CONFLICT (url) DO NOTHING
		RETURNING `+entryColumns, publisherID, url)
	if err == nil {
		return &e, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	existing, err := s.GetByURL(ctx, url)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// AtomicUpdateStatus is the sole primitive for any state transition
// outside of worker pick-up: a compare-and-set on status.
func (s *SQLStore) AtomicUpdateStatus(ctx context.Context, url string, from, to Status, updates map[string]interface{}) (*Entry, error) {
	setClauses := "status = $1, updated_at = now()"
	args := []interface{}{to}
	i := 2
	for col, val := range updates {
		setClauses += fmt.Sprintf(", %s = $%d", col, i)
		args = append(args, val)
		i++
	}
	args = append(args, url, from)

	query := fmt.Sprintf(`UPDATE blog_processing_queue SET %s WHERE url = $%d AND status = $%d RETURNING %s`,
		setClauses, i, i+1, entryColumns)

	var e Entry
	err := s.db.GetContext(ctx, &e, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStatusMismatch
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// AtomicRequeueFailed compare-and-sets from failed to queued, clearing
// worker and error fields.
func (s *SQLStore) AtomicRequeueFailed(ctx context.Context, url string, resetAttempts bool) (*Entry, error) {
	query := `
		UPDATE blog_processing_queue
		SET status = 'queued', worker_id = NULL, last_error = NULL, failure_kind = NULL,
		    heartbeat_at = NULL, started_at = NULL,
		    reprocessed_count = reprocessed_count + 1, last_reprocessed_at = now(), updated_at = now()`
	if resetAttempts {
		query += `, attempts = 0`
	}
	query += ` WHERE url = $1 AND status = 'failed' RETURNING ` + entryColumns

	var e Entry
	err := s.db.GetContext(ctx, &e, query, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStatusMismatch
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// AtomicWorkerPickJob finds the oldest entry whose status is queued or
// retry, FIFO by created_at, and locks it with FOR UPDATE SKIP LOCKED so
// concurrent worker pollers never contend for the same row.
func (s *SQLStore) AtomicWorkerPickJob(ctx context.Context, workerID string) (*Entry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.GetContext(ctx, &id, `
		SELECT id FROM blog_processing_queue
		WHERE status IN ('queued', 'retry')
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var e Entry
	err = tx.GetContext(ctx, &e, `
		UPDATE blog_processing_queue
		SET status = 'processing', worker_id = $1, started_at = now(), heartbeat_at = now(),
		    attempts = attempts + 1, updated_at = now()
		WHERE id = $2
		RETURNING `+entryColumns, workerID, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &e, nil
}

// AtomicBatchPickSequential repeats the atomic pick up to batchSize times,
// never falling back to a non-atomic find-then-update.
func (s *SQLStore) AtomicBatchPickSequential(ctx context.Context, workerID string, batchSize int) ([]*Entry, error) {
	var out []*Entry
	for i := 0; i < batchSize; i++ {
		e, err := s.AtomicWorkerPickJob(ctx, workerID)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

// UpdateHeartbeat touches heartbeat_at for the matching in-progress entry.
func (s *SQLStore) UpdateHeartbeat(ctx context.Context, workerID string, url string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE blog_processing_queue SET heartbeat_at = now(), updated_at = now()
		WHERE worker_id = $1 AND url = $2 AND status = 'processing'
	`, workerID, url)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByURL removes the entry, used for compensating rollback.
func (s *SQLStore) DeleteByURL(ctx context.Context, url string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blog_processing_queue WHERE url = $1`, url)
	return err
}

// GetStats returns counts by status.
func (s *SQLStore) GetStats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM blog_processing_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch Status(status) {
		case StatusQueued:
			stats.Queued = count
		case StatusProcessing:
			stats.Processing = count
		case StatusRetry:
			stats.Retry = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// ListStalled returns processing entries whose heartbeat is older than
// olderThan, for the reaper's stall-recovery scan.
func (s *SQLStore) ListStalled(ctx context.Context, olderThan time.Duration) ([]*Entry, error) {
	var entries []*Entry
	cutoff := time.Now().UTC().Add(-olderThan)
	err := s.db.SelectContext(ctx, &entries, `
		SELECT `+entryColumns+` FROM blog_processing_queue
		WHERE status = 'processing' AND heartbeat_at < $1
	`, cutoff)
	return entries, err
}
