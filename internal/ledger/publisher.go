// Package ledger implements the Publisher Ledger (component A): the
// relational store of record for publisher accounts, their domain/URL
// whitelists, plan limits, and the atomic blog-slot reservation counter
// that bounds in-flight processing per publisher.
package ledger

import (
	"strings"
	"time"
)

// Status is a publisher account's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusTrial     Status = "trial"
)

// Publisher is a tenant account, identified by an opaque server-generated
// id and addressable by a registered domain or by an opaque api key.
type Publisher struct {
	ID                      string
	Name                    string
	APIKey                  string
	Domains                 []string
	Plan                    string
	Status                  Status
	BlogSlotsReserved       int
	TotalBlogsProcessed     int64
	TotalQuestionsGenerated int64
	Config                  PublisherConfig
	Widget                  map[string]interface{}
	LastActiveAt            *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// PublisherConfig is a versionless record of per-publisher pipeline knobs.
type PublisherConfig struct {
	QuestionsPerBlog               int      `json:"questions_per_blog"`
	SummaryModel                   string   `json:"summary_model"`
	QuestionsModel                 string   `json:"questions_model"`
	ChatModel                      string   `json:"chat_model"`
	SummaryTemperature             float64  `json:"summary_temperature"`
	QuestionsTemperature           float64  `json:"questions_temperature"`
	ChatTemperature                float64  `json:"chat_temperature"`
	SummaryMaxTokens               int      `json:"summary_max_tokens"`
	QuestionsMaxTokens             int      `json:"questions_max_tokens"`
	ChatMaxTokens                  int      `json:"chat_max_tokens"`
	CustomSummaryPrompt            *string  `json:"custom_summary_prompt"`
	CustomQuestionPrompt           *string  `json:"custom_question_prompt"`
	UseGrounding                   bool     `json:"use_grounding"`
	DailyBlogLimit                 *int     `json:"daily_blog_limit"`
	MaxTotalBlogs                  *int     `json:"max_total_blogs"`
	ThresholdBeforeProcessingBlog  int      `json:"threshold_before_processing_blog"`
	WhitelistedBlogURLs            []string `json:"whitelisted_blog_urls"`
}

// DefaultPublisherConfig returns the spec's documented default values for
// fields a caller does not set.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		QuestionsPerBlog:     5,
		SummaryTemperature:   0.3,
		QuestionsTemperature: 0.5,
		ChatTemperature:      0.2,
		SummaryMaxTokens:     512,
		QuestionsMaxTokens:   1024,
		ChatMaxTokens:        512,
	}
}

// NormalizeDomain lowercases a domain, strips any scheme, a leading
// "www.", and a trailing slash, so that "https://WWW.Example.com/" and
// "example.com" compare equal.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if idx := strings.IndexAny(d, "/?#"); idx >= 0 {
		d = d[:idx]
	}
	d = strings.TrimSuffix(d, "/")
	return d
}

// DomainMatches reports whether requestDomain is exactly the publisher's
// registered domain, or a subdomain of it, after normalization.
func DomainMatches(publisherDomain, requestDomain string) bool {
	p := NormalizeDomain(publisherDomain)
	r := NormalizeDomain(requestDomain)
	if p == "" || r == "" {
		return false
	}
	return r == p || strings.HasSuffix(r, "."+p)
}

// BestSuffixMatch returns the index into domains of the shortest registered
// domain that requestDomain matches by exact or suffix match, preferring
// the shortest valid suffix per spec §3 ("info.example.com resolves to
// example.com"). Returns -1 if none match.
func BestSuffixMatch(domains []string, requestDomain string) int {
	best := -1
	bestLen := -1
	for i, d := range domains {
		if !DomainMatches(d, requestDomain) {
			continue
		}
		n := NormalizeDomain(d)
		if best == -1 || len(n) < bestLen {
			best = i
			bestLen = len(n)
		}
	}
	return best
}

// URLWhitelisted reports whether rawURL matches the publisher's whitelist
// of URL prefixes, bare domains, or path fragments. A nil/empty whitelist,
// or a whitelist containing "*", means unrestricted.
func URLWhitelisted(whitelist []string, rawURL string) bool {
	if len(whitelist) == 0 {
		return true
	}
	for _, w := range whitelist {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if w == "*" {
			return true
		}
		if strings.Contains(rawURL, w) {
			return true
		}
	}
	return false
}
