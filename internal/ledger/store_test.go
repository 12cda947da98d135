package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveBlogSlotSucceedsUnderCap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg, _ := json.Marshal(PublisherConfig{MaxTotalBlogs: intPtr(10)})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT config, blog_slots_reserved, total_blogs_processed\s+FROM publishers WHERE id = \$1 FOR UPDATE`).
		WithArgs("pub-1").
		WillReturnRows(sqlmock.NewRows([]string{"config", "blog_slots_reserved", "total_blogs_processed"}).
			AddRow(cfg, 2, int64(3)))
	mock.ExpectExec(`UPDATE publishers SET blog_slots_reserved = blog_slots_reserved \+ 1`).
		WithArgs("pub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := NewPostgresLedger(db)
	err = s.ReserveBlogSlot(context.Background(), "pub-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveBlogSlotFailsAtCap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg, _ := json.Marshal(PublisherConfig{MaxTotalBlogs: intPtr(5)})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT config, blog_slots_reserved, total_blogs_processed`).
		WithArgs("pub-1").
		WillReturnRows(sqlmock.NewRows([]string{"config", "blog_slots_reserved", "total_blogs_processed"}).
			AddRow(cfg, 2, int64(3)))
	mock.ExpectRollback()

	s := NewPostgresLedger(db)
	err = s.ReserveBlogSlot(context.Background(), "pub-1")
	assert.Error(t, err)
}

func TestReserveBlogSlotUnboundedWhenNoCap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg, _ := json.Marshal(PublisherConfig{})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT config, blog_slots_reserved, total_blogs_processed`).
		WithArgs("pub-1").
		WillReturnRows(sqlmock.NewRows([]string{"config", "blog_slots_reserved", "total_blogs_processed"}).
			AddRow(cfg, 0, int64(0)))
	mock.ExpectExec(`UPDATE publishers SET blog_slots_reserved`).
		WithArgs("pub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := NewPostgresLedger(db)
	err = s.ReserveBlogSlot(context.Background(), "pub-1")
	require.NoError(t, err)
}

func TestReserveBlogSlotFailsAtDailyLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg, _ := json.Marshal(PublisherConfig{DailyBlogLimit: intPtr(2)})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT config, blog_slots_reserved, total_blogs_processed`).
		WithArgs("pub-1").
		WillReturnRows(sqlmock.NewRows([]string{"config", "blog_slots_reserved", "total_blogs_processed"}).
			AddRow(cfg, 0, int64(0)))
	mock.ExpectQuery(`SELECT count\(\*\) FROM blog_processing_queue`).
		WithArgs("pub-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	s := NewPostgresLedger(db)
	err = s.ReserveBlogSlot(context.Background(), "pub-1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseBlogSlotProcessedUpdatesCountersAtomically(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE publishers\s+SET blog_slots_reserved = GREATEST\(blog_slots_reserved - 1, 0\),\s+total_blogs_processed = total_blogs_processed \+ 1,\s+total_questions_generated = total_questions_generated \+ \$1`).
		WithArgs(3, "pub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgresLedger(db)
	err = s.ReleaseBlogSlot(context.Background(), "pub-1", true, 3)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseBlogSlotUnprocessedOnlyDecrements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE publishers\s+SET blog_slots_reserved = GREATEST\(blog_slots_reserved - 1, 0\),\s+updated_at = now\(\)`).
		WithArgs("pub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgresLedger(db)
	err = s.ReleaseBlogSlot(context.Background(), "pub-1", false, 0)
	require.NoError(t, err)
}

func TestReleaseBlogSlotNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE publishers`).WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewPostgresLedger(db)
	err = s.ReleaseBlogSlot(context.Background(), "missing", false, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func intPtr(v int) *int { return &v }
