// Package leaflet retrieves and extracts the plain text of official product
// leaflets.
//
// A leaflet is fetched as HTML from a URL templated by registration number,
// stripped of non-content markup, and truncated to a bounded size. Every
// failure mode (non-200 status, network error, timeout, parse error) is
// reported as a single "absent" signal: the caller cannot distinguish a
// missing leaflet from a transient error, and no retry is attempted.
package leaflet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/net/html"

	"github.com/aluque/prospecto/internal/log"
)

// Default fetcher settings.
const (
	DefaultTimeout  = 10 * time.Second
	DefaultMaxChars = 15000
	DefaultCacheTTL = 30 * time.Minute
)

// strippedSelector matches non-content markup removed before text extraction.
const strippedSelector = "script, style, header, footer, nav"

// Config contains all parameters for the leaflet fetcher.
type Config struct {
	// URLTemplate builds the leaflet document URL; both %s verbs receive the
	// registration number. Required.
	URLTemplate string
	Timeout     time.Duration // Per-request timeout (default 10s)
	MaxChars    int           // Truncation bound in runes (default 15000)
	CacheTTL    time.Duration // Memoization TTL by registration id (default 30m)
	Client      *http.Client  // Optional: custom HTTP client
	Logger      log.Logger    // Required
}

// Fetcher downloads and extracts leaflet text.
type Fetcher struct {
	urlTemplate string
	timeout     time.Duration
	maxChars    int
	http        *http.Client
	cache       *gocache.Cache
	logger      log.Logger
}

// New creates a leaflet fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.URLTemplate == "" {
		return nil, errors.New("leaflet URL template is required")
	}
	if strings.Count(cfg.URLTemplate, "%s") != 2 {
		return nil, fmt.Errorf("leaflet URL template must contain exactly two %%s verbs: %q", cfg.URLTemplate)
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Fetcher{
		urlTemplate: cfg.URLTemplate,
		timeout:     timeout,
		maxChars:    maxChars,
		http:        httpClient,
		cache:       gocache.New(ttl, 2*ttl),
		logger:      cfg.Logger,
	}, nil
}

// Fetch returns the extracted leaflet text for a registration number.
// The second return value is false when no leaflet text is available,
// whatever the underlying reason.
func (f *Fetcher) Fetch(ctx context.Context, registrationID string) (string, bool) {
	if cached, ok := f.cache.Get(registrationID); ok {
		return cached.(string), true
	}

	text, err := f.fetch(ctx, registrationID)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			f.logger.Warn("leaflet fetch timed out", "registration_id", registrationID)
		default:
			f.logger.Warn("leaflet unavailable", "registration_id", registrationID, "error", err)
		}
		return "", false
	}

	f.cache.SetDefault(registrationID, text)
	return text, true
}

// fetch performs one document request and extraction.
func (f *Fetcher) fetch(ctx context.Context, registrationID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	docURL := fmt.Sprintf(f.urlTemplate, registrationID, registrationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("leaflet request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("leaflet returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parsing leaflet HTML: %w", err)
	}

	text := extractText(doc)
	if text == "" {
		return "", errors.New("leaflet document has no visible text")
	}

	text = truncateRunes(text, f.maxChars)
	f.logger.Debug("leaflet extracted", "registration_id", registrationID, "chars", len([]rune(text)))
	return text, nil
}

// extractText strips non-content markup and collects the remaining visible
// text, one trimmed text node per line.
func extractText(doc *goquery.Document) string {
	doc.Find(strippedSelector).Remove()

	var lines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				lines = append(lines, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Selection.Nodes {
		walk(n)
	}

	return strings.Join(lines, "\n")
}

// truncateRunes bounds s to max runes. Rune-based so a multi-byte character
// is never split.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
