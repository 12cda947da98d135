// Package crawler fetches and extracts readable text from a blog URL
// (component E).
package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/fyi-network/blog-pipeline/pkg/resilience"
)

// ErrorKind classifies a crawl failure for the pipeline's retry policy.
type ErrorKind string

const (
	ErrNetwork        ErrorKind = "crawl_error.network"
	ErrStatus4xx      ErrorKind = "crawl_error.status_4xx"
	ErrStatus5xx      ErrorKind = "crawl_error.status_5xx"
	ErrContentTooLarge ErrorKind = "crawl_error.content_too_large"
	ErrDecode         ErrorKind = "crawl_error.decode"
	ErrEmptyOrBinary  ErrorKind = "crawl_error.empty_or_binary"
	ErrTooShort       ErrorKind = "crawl_error.too_short"
)

// CrawlError carries a typed failure mode alongside the underlying cause.
type CrawlError struct {
	Kind ErrorKind
	Err  error
}

func (e *CrawlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *CrawlError) Unwrap() error { return e.Err }

// Retriable reports whether the pipeline should re-attempt this crawl
// under the retry budget. Content-shape failures (too large, empty,
// too short) are retried the same as transient network failures, per
// spec: validation failures are retried under the same budget.
func (e *CrawlError) Retriable() bool {
	return e.Kind != ErrStatus4xx
}

func newCrawlError(kind ErrorKind, err error) *CrawlError {
	return &CrawlError{Kind: kind, Err: err}
}

// Result is the crawler's output.
type Result struct {
	Title    string
	Content  string
	Language string
	WordCount int
	Metadata map[string]interface{}
}

// Config bounds the crawler's network behavior.
type Config struct {
	MaxRedirects   int
	MaxContentSize int64
	Timeout        time.Duration
	MaxRetries     int
	UserAgent      string
}

var allowedContentTypes = []string{"text/html", "application/xhtml+xml"}

var fallbackEncodings = []string{"utf-8", "windows-1252", "iso-8859-1"}

// Crawler fetches and extracts content from a URL.
type Crawler struct {
	cfg    Config
	client *http.Client
}

// New constructs a Crawler bounding redirects to cfg.MaxRedirects.
func New(cfg Config) *Crawler {
	client := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		},
	}
	return &Crawler{cfg: cfg, client: client}
}

// Crawl fetches url and extracts readable text, retrying transient and
// content-shape failures up to cfg.MaxRetries with exponential backoff.
func (c *Crawler) Crawl(ctx context.Context, url string) (*Result, error) {
	retryCfg := resilience.FixedBackoffRetryConfig(c.cfg.MaxRetries)

	var result *Result
	err := resilience.Retry(ctx, retryCfg, func() error {
		r, err := c.fetchAndExtract(ctx, url)
		if err != nil {
			var ce *CrawlError
			if errors.As(err, &ce) && !ce.Retriable() {
				return resilience.NonRetriable(err)
			}
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Crawler) fetchAndExtract(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newCrawlError(ErrNetwork, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, newCrawlError(ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, newCrawlError(ErrStatus4xx, fmt.Errorf("http %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return nil, newCrawlError(ErrStatus5xx, fmt.Errorf("http %d", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if !allowedContentType(contentType) {
		return nil, newCrawlError(ErrDecode, fmt.Errorf("disallowed content-type %q", contentType))
	}

	limited := io.LimitReader(resp.Body, c.cfg.MaxContentSize+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, newCrawlError(ErrNetwork, err)
	}
	if int64(len(raw)) > c.cfg.MaxContentSize {
		return nil, newCrawlError(ErrContentTooLarge, fmt.Errorf("exceeds %d bytes", c.cfg.MaxContentSize))
	}

	decoded, err := decodeBytes(raw, contentType)
	if err != nil {
		return nil, newCrawlError(ErrDecode, err)
	}

	doc, err := html.Parse(strings.NewReader(decoded))
	if err != nil {
		return nil, newCrawlError(ErrDecode, err)
	}

	title := extractTitle(doc)
	text := extractText(doc)

	if err := qualityGate(text); err != nil {
		return nil, err
	}

	return &Result{
		Title:     title,
		Content:   text,
		Language:  "en",
		WordCount: wordCount(text),
		Metadata:  map[string]interface{}{"content_type": contentType},
	}, nil
}

func allowedContentType(ct string) bool {
	ct = strings.ToLower(ct)
	for _, allowed := range allowedContentTypes {
		if strings.Contains(ct, allowed) {
			return true
		}
	}
	return false
}

// decodeBytes decodes raw bytes using a declared-charset-first, then
// fallback-list encoding negotiation order.
func decodeBytes(raw []byte, contentType string) (string, error) {
	reader, err := charset.NewReader(strings.NewReader(string(raw)), contentType)
	if err == nil {
		decoded, err := io.ReadAll(reader)
		if err == nil {
			return string(decoded), nil
		}
	}

	for _, enc := range fallbackEncodings {
		reader, err := charset.NewReaderLabel(enc, strings.NewReader(string(raw)))
		if err != nil {
			continue
		}
		decoded, err := io.ReadAll(reader)
		if err == nil {
			return string(decoded), nil
		}
	}

	return "", fmt.Errorf("unable to decode content")
}

var stripTags = map[string]bool{
	"script": true, "style": true, "nav": true, "footer": true,
	"aside": true, "iframe": true, "noscript": true, "svg": true,
}

func extractTitle(doc *html.Node) string {
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

func extractText(doc *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && stripTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String())
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

// qualityGate requires the extracted text to pass: ≥30 characters,
// ≥10 words, ≥50% printable characters, replacement-character ratio ≤20%.
func qualityGate(text string) error {
	if len(text) < 30 {
		return newCrawlError(ErrTooShort, fmt.Errorf("only %d characters", len(text)))
	}
	if wordCount(text) < 10 {
		return newCrawlError(ErrTooShort, fmt.Errorf("only %d words", wordCount(text)))
	}

	total := 0
	printable := 0
	replacement := 0
	for _, r := range text {
		total++
		if r == unicode.ReplacementChar {
			replacement++
			continue
		}
		if unicode.IsPrint(r) {
			printable++
		}
	}
	if total == 0 {
		return newCrawlError(ErrEmptyOrBinary, errors.New("no characters"))
	}
	if float64(printable)/float64(total) < 0.5 {
		return newCrawlError(ErrEmptyOrBinary, fmt.Errorf("printable ratio too low"))
	}
	if float64(replacement)/float64(total) > 0.2 {
		return newCrawlError(ErrEmptyOrBinary, fmt.Errorf("replacement-character ratio too high"))
	}
	return nil
}

// PassesQualityGate exposes the same gate used on freshly crawled content
// so the pipeline can apply it to cached blog_content before reusing it.
func PassesQualityGate(text string) bool {
	return qualityGate(text) == nil
}
