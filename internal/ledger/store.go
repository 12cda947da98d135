package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/fyi-network/blog-pipeline/pkg/apierrors"
)

// ErrNotFound is returned when a lookup finds no matching publisher.
var ErrNotFound = errors.New("ledger: publisher not found")

// Store is the Publisher Ledger's storage contract (component A).
type Store interface {
	Create(ctx context.Context, p *Publisher) error
	GetByID(ctx context.Context, id string) (*Publisher, error)
	GetByDomain(ctx context.Context, domain string, allowSuffix bool) (*Publisher, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*Publisher, error)
	Update(ctx context.Context, p *Publisher) error
	RegenerateAPIKey(ctx context.Context, id, newAPIKey string) (*Publisher, error)
	List(ctx context.Context, status Status, page, pageSize int) ([]*Publisher, int, error)
	ReserveBlogSlot(ctx context.Context, publisherID string) error
	ReleaseBlogSlot(ctx context.Context, publisherID string, processed bool, questionsGenerated int) error
}

// PostgresLedger implements Store directly over database/sql + lib/pq: the
// reserve/release contract needs hand-written row locking, so the generic
// sqlx convenience layer used by the Queue store is not used here.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger constructs a PostgresLedger over an already-open pool.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (s *PostgresLedger) Create(ctx context.Context, p *Publisher) error {
	cfg, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	widget, err := json.Marshal(p.Widget)
	if err != nil {
		return fmt.Errorf("marshal widget: %w", err)
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.Plan == "" {
		p.Plan = "free"
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO publishers (name, api_key, domains, plan, usage_limit, daily_limit, config, widget, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING id, created_at, updated_at
	`, p.Name, p.APIKey, pq.Array(p.Domains), p.Plan, 0, 0, cfg, widget, string(p.Status))
	return row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (s *PostgresLedger) GetByID(ctx context.Context, id string) (*Publisher, error) {
	return s.scanOne(ctx, `SELECT id, name, api_key, domains, plan, blog_slots_reserved, total_blogs_processed, total_questions_generated, config, widget, status, created_at, updated_at FROM publishers WHERE id = $1`, id)
}

func (s *PostgresLedger) GetByAPIKey(ctx context.Context, apiKey string) (*Publisher, error) {
	p, err := s.scanOne(ctx, `SELECT id, name, api_key, domains, plan, blog_slots_reserved, total_blogs_processed, total_questions_generated, config, widget, status, created_at, updated_at FROM publishers WHERE api_key = $1`, apiKey)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `UPDATE publishers SET last_active_at = $1 WHERE id = $2`, now, p.ID); err != nil {
		return nil, err
	}
	p.LastActiveAt = &now
	return p, nil
}

// GetByDomain locates a publisher by exact domain match, or, if
// allowSuffix is true, by longest-suffix match among its registered
// domains (§3: the shortest registered domain among valid suffixes wins).
func (s *PostgresLedger) GetByDomain(ctx context.Context, domain string, allowSuffix bool) (*Publisher, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, api_key, domains, plan, blog_slots_reserved, total_blogs_processed, total_questions_generated, config, widget, status, created_at, updated_at FROM publishers WHERE status = $1`, string(StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var best *Publisher
	bestLen := -1
	for rows.Next() {
		p, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		idx := BestSuffixMatch(p.Domains, domain)
		if idx < 0 {
			continue
		}
		if !allowSuffix && NormalizeDomain(p.Domains[idx]) != NormalizeDomain(domain) {
			continue
		}
		n := len(NormalizeDomain(p.Domains[idx]))
		if best == nil || n < bestLen {
			best = p
			bestLen = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (s *PostgresLedger) Update(ctx context.Context, p *Publisher) error {
	cfg, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	widget, err := json.Marshal(p.Widget)
	if err != nil {
		return fmt.Errorf("marshal widget: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE publishers
		SET name = $1, domains = $2, plan = $3, config = $4, widget = $5, status = $6, updated_at = now()
		WHERE id = $7
	`, p.Name, pq.Array(p.Domains), p.Plan, cfg, widget, string(p.Status), p.ID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *PostgresLedger) RegenerateAPIKey(ctx context.Context, id, newAPIKey string) (*Publisher, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE publishers SET api_key = $1, updated_at = now() WHERE id = $2`, newAPIKey, id)
	if err != nil {
		return nil, err
	}
	if err := checkRowsAffected(res); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *PostgresLedger) List(ctx context.Context, status Status, page, pageSize int) ([]*Publisher, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	var total int
	var countArgs []interface{}
	countQuery := `SELECT count(*) FROM publishers`
	listQuery := `SELECT id, name, api_key, domains, plan, blog_slots_reserved, total_blogs_processed, total_questions_generated, config, widget, status, created_at, updated_at FROM publishers`
	if status != "" {
		countQuery += ` WHERE status = $1`
		listQuery += ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		countArgs = []interface{}{string(status)}
	} else {
		listQuery += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	}

	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.QueryContext(ctx, listQuery, string(status), pageSize, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, listQuery, pageSize, offset)
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Publisher
	for rows.Next() {
		p, err := scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// ReserveBlogSlot implements the §4.A slot reservation contract under a
// row-level exclusive lock: if the publisher has a lifetime cap
// (max_total_blogs), it fails once total_blogs_processed +
// blog_slots_reserved reaches the cap; if it has a daily cap, it fails once
// today's completed jobs reach it. Otherwise it increments
// blog_slots_reserved, also for a publisher with no caps at all.
func (s *PostgresLedger) ReserveBlogSlot(ctx context.Context, publisherID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var cfgRaw []byte
	var reserved int
	var processed int64
	row := tx.QueryRowContext(ctx, `
		SELECT config, blog_slots_reserved, total_blogs_processed
		FROM publishers WHERE id = $1 FOR UPDATE
	`, publisherID)
	if err := row.Scan(&cfgRaw, &reserved, &processed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	var cfg PublisherConfig
	if err := json.Unmarshal(cfgRaw, &cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.MaxTotalBlogs != nil {
		if processed+int64(reserved) >= int64(*cfg.MaxTotalBlogs) {
			return apierrors.UsageLimitExceeded(*cfg.MaxTotalBlogs)
		}
	}

	if cfg.DailyBlogLimit != nil {
		var completedToday int
		row := tx.QueryRowContext(ctx, `
			SELECT count(*) FROM blog_processing_queue
			WHERE publisher_id = $1 AND status = 'completed'
			  AND completed_at >= date_trunc('day', now() AT TIME ZONE 'utc')
		`, publisherID)
		if err := row.Scan(&completedToday); err != nil {
			return err
		}
		if completedToday >= *cfg.DailyBlogLimit {
			return apierrors.DailyLimitExceeded(*cfg.DailyBlogLimit)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE publishers SET blog_slots_reserved = blog_slots_reserved + 1, updated_at = now() WHERE id = $1`, publisherID); err != nil {
		return err
	}
	return tx.Commit()
}

// ReleaseBlogSlot performs the atomic single-statement update required by
// §9's open-question resolution: never a read-modify-write.
func (s *PostgresLedger) ReleaseBlogSlot(ctx context.Context, publisherID string, processed bool, questionsGenerated int) error {
	var res sql.Result
	var err error
	if processed {
		res, err = s.db.ExecContext(ctx, `
			UPDATE publishers
			SET blog_slots_reserved = GREATEST(blog_slots_reserved - 1, 0),
			    total_blogs_processed = total_blogs_processed + 1,
			    total_questions_generated = total_questions_generated + $1,
			    updated_at = now()
			WHERE id = $2
		`, questionsGenerated, publisherID)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE publishers
			SET blog_slots_reserved = GREATEST(blog_slots_reserved - 1, 0),
			    updated_at = now()
			WHERE id = $1
		`, publisherID)
	}
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *PostgresLedger) scanOne(ctx context.Context, query string, args ...interface{}) (*Publisher, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	var p Publisher
	var domains pq.StringArray
	var cfgRaw, widgetRaw []byte
	var status string
	if err := row.Scan(&p.ID, &p.Name, &p.APIKey, &domains, &p.Plan, &p.BlogSlotsReserved, &p.TotalBlogsProcessed, &p.TotalQuestionsGenerated, &cfgRaw, &widgetRaw, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Domains = domains
	p.Status = Status(status)
	if err := json.Unmarshal(cfgRaw, &p.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	_ = json.Unmarshal(widgetRaw, &p.Widget)
	return &p, nil
}

func scanRow(rows *sql.Rows) (*Publisher, error) {
	var p Publisher
	var domains pq.StringArray
	var cfgRaw, widgetRaw []byte
	var status string
	if err := rows.Scan(&p.ID, &p.Name, &p.APIKey, &domains, &p.Plan, &p.BlogSlotsReserved, &p.TotalBlogsProcessed, &p.TotalQuestionsGenerated, &cfgRaw, &widgetRaw, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Domains = domains
	p.Status = Status(status)
	if err := json.Unmarshal(cfgRaw, &p.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	_ = json.Unmarshal(widgetRaw, &p.Widget)
	return &p, nil
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
