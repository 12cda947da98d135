// Package artifact implements the Artifact Store (component C): three
// logical collections — blog content, summaries, and generated
// question/answer pairs — joined by blog_url or blog_id.
package artifact

import "time"

// BlogContent is one document per URL.
type BlogContent struct {
	ID                 string                 `db:"id"`
	PublisherID        string                 `db:"publisher_id"`
	URL                string                 `db:"url"`
	Title              string                 `db:"title"`
	Content            string                 `db:"content"`
	Language           string                 `db:"language"`
	ContentHash        string                 `db:"content_hash"`
	WordCount          int                    `db:"word_count"`
	Metadata           map[string]interface{} `db:"-"`
	TriggeredCount     int                    `db:"triggered_no_of_times"`
	CrawledAt          time.Time              `db:"crawled_at"`
	CreatedAt          time.Time              `db:"created_at"`
	UpdatedAt          time.Time              `db:"updated_at"`
}

// Summary is one document per blog.
type Summary struct {
	ID          string    `db:"id"`
	BlogID      string    `db:"blog_id"`
	BlogURL     string    `db:"blog_url"`
	PublisherID string    `db:"publisher_id"`
	Title       string    `db:"title"`
	Summary     string    `db:"summary"`
	KeyPoints   []string  `db:"key_points"`
	Embedding   []float64 `db:"embedding"`
	Model       string    `db:"model"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Question is one document per generated question.
type Question struct {
	ID             string     `db:"id"`
	BlogID         string     `db:"blog_id"`
	BlogURL        string     `db:"blog_url"`
	PublisherID    string     `db:"publisher_id"`
	Question       string     `db:"question"`
	Answer         string     `db:"answer"`
	KeywordAnchor  *string    `db:"keyword_anchor"`
	Probability    *float64   `db:"probability"`
	Embedding      []float64  `db:"embedding"`
	Model          string     `db:"model"`
	ClickCount     int64      `db:"click_count"`
	LastClickedAt  *time.Time `db:"last_clicked_at"`
	CreatedAt      time.Time  `db:"created_at"`
}

// Public strips fields the public API must never surface: embedding,
// click_count, last_clicked_at.
type PublicQuestion struct {
	ID            string  `json:"id"`
	BlogID        string  `json:"blog_id"`
	BlogURL       string  `json:"blog_url"`
	Question      string  `json:"question"`
	Answer        string  `json:"answer"`
	KeywordAnchor *string `json:"keyword_anchor,omitempty"`
	Probability   *float64 `json:"probability,omitempty"`
}

// Public converts a Question to its public-safe projection.
func (q *Question) Public() PublicQuestion {
	return PublicQuestion{
		ID:            q.ID,
		BlogID:        q.BlogID,
		BlogURL:       q.BlogURL,
		Question:      q.Question,
		Answer:        q.Answer,
		KeywordAnchor: q.KeywordAnchor,
		Probability:   q.Probability,
	}
}

// SimilarBlog is the enriched result shape for the similarity endpoint.
type SimilarBlog struct {
	BlogID          string  `json:"blog_id"`
	URL             string  `json:"url"`
	Title           string  `json:"title"`
	SimilarityScore float64 `json:"similarity_score"`
}
