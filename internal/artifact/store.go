package artifact

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a lookup finds no matching document.
var ErrNotFound = errors.New("artifact: not found")

// Store is the Artifact Store's storage contract (component C).
type Store interface {
	SaveBlogContent(ctx context.Context, b *BlogContent) error
	SaveSummary(ctx context.Context, s *Summary) error
	SaveQuestions(ctx context.Context, blogID, blogURL string, questions []*Question) error
	GetBlogByURL(ctx context.Context, url string) (*BlogContent, error)
	GetBlogsByURLs(ctx context.Context, urls []string) (map[string]*BlogContent, error)
	GetQuestionsByURL(ctx context.Context, blogURL string) ([]*Question, error)
	GetQuestionByID(ctx context.Context, id string) (*Question, error)
	IncrementQuestionClickCount(ctx context.Context, id string) error
	DeleteBlog(ctx context.Context, blogID string) error
	IncrementTriggeredCount(ctx context.Context, url string) (int, error)
	GetSummaryByBlogID(ctx context.Context, blogID string) (*Summary, error)
	SearchSimilarNative(ctx context.Context, embedding []float64, domainSuffix string, limit int) ([]SimilarBlog, error)
	SearchSimilarFallback(ctx context.Context, embedding []float64, domainSuffix string, limit int) ([]SimilarBlog, error)
}

// PostgresStore implements Store over database/sql + lib/pq, following the
// Publisher Ledger's pattern of raw SQL with explicit row scanning.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SaveBlogContent upserts on URL.
func (s *PostgresStore) SaveBlogContent(ctx context.Context, b *BlogContent) error {
	metadata, err := json.Marshal(b.Metadata)
	if err != nil {
		return fmt.Errorf("artifact: marshal metadata: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO raw_blog_content (publisher_id, url, title, content, language, content_hash, word_count, metadata, crawled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (url) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			language = EXCLUDED.language,
			content_hash = EXCLUDED.content_hash,
			word_count = EXCLUDED.word_count,
			metadata = EXCLUDED.metadata,
			crawled_at = now(),
			updated_at = now()
		RETURNING id, triggered_no_of_times, created_at, updated_at
	`, b.PublisherID, b.URL, b.Title, b.Content, b.Language, b.ContentHash, b.WordCount, metadata)

	return row.Scan(&b.ID, &b.TriggeredCount, &b.CreatedAt, &b.UpdatedAt)
}

// SaveSummary upserts on blog_id.
func (s *PostgresStore) SaveSummary(ctx context.Context, sm *Summary) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO blog_summaries (blog_id, blog_url, publisher_id, title, summary, key_points, embedding, model)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (blog_id) DO UPDATE SET
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			key_points = EXCLUDED.key_points,
			embedding = EXCLUDED.embedding,
			model = EXCLUDED.model,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`, sm.BlogID, sm.BlogURL, sm.PublisherID, sm.Title, sm.Summary,
		pq.Array(sm.KeyPoints), pq.Array(sm.Embedding), sm.Model)

	return row.Scan(&sm.ID, &sm.CreatedAt, &sm.UpdatedAt)
}

// SaveQuestions replaces the full set of questions for a blog inside one
// transaction: delete prior questions for the URL, then insert the new
// batch. Never a partial state between the two.
func (s *PostgresStore) SaveQuestions(ctx context.Context, blogID, blogURL string, questions []*Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM processed_questions WHERE blog_url = $1`, blogURL); err != nil {
		return err
	}

	for _, q := range questions {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO processed_questions (blog_id, blog_url, publisher_id, question, answer, keyword_anchor, probability, embedding, model)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at
		`, blogID, blogURL, q.PublisherID, q.Question, q.Answer, q.KeywordAnchor, q.Probability,
			pq.Array(q.Embedding), q.Model)
		if err := row.Scan(&q.ID, &q.CreatedAt); err != nil {
			return err
		}
		q.BlogID = blogID
		q.BlogURL = blogURL
	}

	return tx.Commit()
}

func (s *PostgresStore) scanBlog(row interface{ Scan(...interface{}) error }) (*BlogContent, error) {
	var b BlogContent
	var metadata []byte
	err := row.Scan(&b.ID, &b.PublisherID, &b.URL, &b.Title, &b.Content, &b.Language,
		&b.ContentHash, &b.WordCount, &metadata, &b.TriggeredCount, &b.CrawledAt, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &b.Metadata); err != nil {
			return nil, fmt.Errorf("artifact: unmarshal metadata: %w", err)
		}
	}
	return &b, nil
}

const blogColumns = `id, publisher_id, url, title, content, language, content_hash, word_count, metadata, triggered_no_of_times, crawled_at, created_at, updated_at`

func (s *PostgresStore) GetBlogByURL(ctx context.Context, url string) (*BlogContent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+blogColumns+` FROM raw_blog_content WHERE url = $1`, url)
	return s.scanBlog(row)
}

func (s *PostgresStore) GetBlogsByURLs(ctx context.Context, urls []string) (map[string]*BlogContent, error) {
	if len(urls) == 0 {
		return map[string]*BlogContent{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+blogColumns+` FROM raw_blog_content WHERE url = ANY($1)`, pq.Array(urls))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*BlogContent, len(urls))
	for rows.Next() {
		b, err := s.scanBlog(rows)
		if err != nil {
			return nil, err
		}
		out[b.URL] = b
	}
	return out, rows.Err()
}

const questionColumns = `id, blog_id, blog_url, publisher_id, question, answer, keyword_anchor, probability, embedding, model, click_count, last_clicked_at, created_at`

func scanQuestion(row interface{ Scan(...interface{}) error }) (*Question, error) {
	var q Question
	var embedding pq.Float64Array
	err := row.Scan(&q.ID, &q.BlogID, &q.BlogURL, &q.PublisherID, &q.Question, &q.Answer,
		&q.KeywordAnchor, &q.Probability, &embedding, &q.Model, &q.ClickCount, &q.LastClickedAt, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	q.Embedding = []float64(embedding)
	return &q, nil
}

// GetQuestionsByURL returns questions in storage order; randomization is
// the caller's responsibility, not the store's.
func (s *PostgresStore) GetQuestionsByURL(ctx context.Context, blogURL string) ([]*Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+questionColumns+` FROM processed_questions WHERE blog_url = $1`, blogURL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetQuestionByID(ctx context.Context, id string) (*Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM processed_questions WHERE id = $1`, id)
	return scanQuestion(row)
}

func (s *PostgresStore) IncrementQuestionClickCount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE processed_questions SET click_count = click_count + 1, last_clicked_at = now() WHERE id = $1
	`, id)
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

// DeleteBlog cascades: content, summary, questions, matched by blog_id on
// summaries/questions and by id on content.
func (s *PostgresStore) DeleteBlog(ctx context.Context, blogID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM processed_questions WHERE blog_id = $1`, blogID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blog_summaries WHERE blog_id = $1`, blogID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM raw_blog_content WHERE id = $1`, blogID)
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
	return tx.Commit()
}

// IncrementTriggeredCount atomically increments and returns the new value.
func (s *PostgresStore) IncrementTriggeredCount(ctx context.Context, url string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE raw_blog_content SET triggered_no_of_times = triggered_no_of_times + 1, updated_at = now()
		WHERE url = $1
		RETURNING triggered_no_of_times
	`, url).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return count, err
}

func (s *PostgresStore) GetSummaryByBlogID(ctx context.Context, blogID string) (*Summary, error) {
	var sm Summary
	var keyPoints pq.StringArray
	var embedding pq.Float64Array
	err := s.db.QueryRowContext(ctx, `
		SELECT id, blog_id, blog_url, publisher_id, title, summary, key_points, embedding, model, created_at, updated_at
		FROM blog_summaries WHERE blog_id = $1
	`, blogID).Scan(&sm.ID, &sm.BlogID, &sm.BlogURL, &sm.PublisherID, &sm.Title, &sm.Summary,
		&keyPoints, &embedding, &sm.Model, &sm.CreatedAt, &sm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sm.KeyPoints = []string(keyPoints)
	sm.Embedding = []float64(embedding)
	return &sm, nil
}

// nativeSimilarityQuery ranks and limits inside Postgres itself: the dot
// product and both vector norms are computed with unnest/WITH ORDINALITY
// over the stored double precision[] column rather than pulled into Go, so
// the database does the work ORDER BY + LIMIT imply. There is no pgvector
// extension assumed here, so this is not `embedding <=> $1` — clusters that
// have pgvector installed should swap the cosine arithmetic below for that
// operator and drop the unnest joins entirely.
const nativeSimilarityQuery = `
	WITH query_vec AS (
		SELECT $2::double precision[] AS v,
		       sqrt((SELECT sum(e * e) FROM unnest($2::double precision[]) AS e)) AS norm
	)
	SELECT bs.blog_id, bs.blog_url, bs.title,
	       dot.product / NULLIF(sqrt(cand.sq) * NULLIF(qv.norm, 0), 0) AS similarity
	FROM blog_summaries bs
	CROSS JOIN query_vec qv
	CROSS JOIN LATERAL (
		SELECT sum(e * e) AS sq FROM unnest(bs.embedding) AS e
	) cand
	CROSS JOIN LATERAL (
		SELECT sum(a.e * b.e) AS product
		FROM unnest(bs.embedding) WITH ORDINALITY AS a(e, idx)
		JOIN unnest(qv.v) WITH ORDINALITY AS b(e, idx) USING (idx)
	) dot
	WHERE split_part(split_part(bs.blog_url, '://', 2), '/', 1) LIKE '%' || $1
	ORDER BY similarity DESC NULLS LAST
	LIMIT $3
`

// SearchSimilarNative pushes ranking and limiting down to Postgres via
// nativeSimilarityQuery, returning rows already in similarity order. It
// never loads the full candidate set into the process.
func (s *PostgresStore) SearchSimilarNative(ctx context.Context, embedding []float64, domainSuffix string, limit int) ([]SimilarBlog, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, nativeSimilarityQuery, domainSuffix, pq.Array(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("artifact: native similarity search: %w", err)
	}
	defer rows.Close()

	var out []SimilarBlog
	for rows.Next() {
		var blogID, url, title string
		var similarity sql.NullFloat64
		if err := rows.Scan(&blogID, &url, &title, &similarity); err != nil {
			return nil, err
		}
		out = append(out, SimilarBlog{BlogID: blogID, URL: url, Title: title, SimilarityScore: similarity.Float64})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchSimilarFallback loads every embedding matching the domain filter
// and ranks them with Go-side cosine similarity. It is the authoritative
// result whenever the native path errors or the database's own arithmetic
// can't be trusted (e.g. a degenerate query vector the SQL norm guard
// rejects), since it never depends on the database computing similarity
// itself.
func (s *PostgresStore) SearchSimilarFallback(ctx context.Context, embedding []float64, domainSuffix string, limit int) ([]SimilarBlog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bs.blog_id, bs.blog_url, bs.title, bs.embedding
		FROM blog_summaries bs
		WHERE split_part(split_part(bs.blog_url, '://', 2), '/', 1) LIKE '%' || $1
	`, domainSuffix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []SimilarBlog
	var embeddings [][]float64
	for rows.Next() {
		var blogID, url, title string
		var emb pq.Float64Array
		if err := rows.Scan(&blogID, &url, &title, &emb); err != nil {
			return nil, err
		}
		candidates = append(candidates, SimilarBlog{BlogID: blogID, URL: url, Title: title})
		embeddings = append(embeddings, []float64(emb))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rankBySimilarity(candidates, embeddings, embedding, limit), nil
}

func rankBySimilarity(candidates []SimilarBlog, embeddings [][]float64, query []float64, limit int) []SimilarBlog {
	for i := range candidates {
		candidates[i].SimilarityScore = cosineSimilarity(query, embeddings[i])
	}

	for i := 1; i < len(candidates); i++ {
		j := i
		for j > 0 && candidates[j-1].SimilarityScore < candidates[j].SimilarityScore {
			candidates[j-1], candidates[j] = candidates[j], candidates[j-1]
			j--
		}
	}

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// HasDomainSuffix reports whether url's host ends with suffix, the same
// host rule the similarity queries apply in SQL to keep candidates to the
// owning publisher's domain.
func HasDomainSuffix(url, suffix string) bool {
	host := url
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	return strings.HasSuffix(strings.ToLower(host), strings.ToLower(suffix))
}
