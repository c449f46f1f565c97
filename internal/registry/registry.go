// Package registry provides the client for the CIMA drug registry (AEMPS).
//
// Lookup failures are deliberately non-fatal: any network, status, or decode
// problem degrades to an empty result list. The registry is read-only
// reference data for the duration of a session, so results are memoized by
// query with a TTL cache and no explicit invalidation.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/aluque/prospecto/internal/log"
)

// Default client settings, matching the public CIMA API limits.
const (
	DefaultPageSize = 50
	DefaultTimeout  = 5 * time.Second
	DefaultCacheTTL = 30 * time.Minute
)

// Product is a candidate drug product returned by a registry search.
// Immutable once received.
type Product struct {
	Name           string `json:"nombre"`
	LabHolder      string `json:"labtitular"`
	RegistrationID string `json:"nregistro"`
}

// Display returns the human-facing label for a product, combining the
// presentation name with the lab holder.
func (p Product) Display() string {
	if p.LabHolder == "" {
		return p.Name
	}
	return p.Name + " (" + p.LabHolder + ")"
}

// searchResponse is the wire format of the CIMA search endpoint.
type searchResponse struct {
	Results []Product `json:"resultados"`
}

// Config contains all parameters for the registry client.
type Config struct {
	BaseURL  string        // Registry REST root (required)
	PageSize int           // Max results per query (default 50)
	Timeout  time.Duration // Per-request timeout (default 5s)
	CacheTTL time.Duration // Result memoization TTL (default 30m)
	Client   *http.Client  // Optional: custom HTTP client (timeout is applied via context)
	Logger   log.Logger    // Required
}

// Client looks up drug products by name against the external registry.
type Client struct {
	baseURL  string
	pageSize int
	timeout  time.Duration
	http     *http.Client
	cache    *gocache.Cache
	logger   log.Logger
}

// New creates a registry client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("registry base URL is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		pageSize: pageSize,
		timeout:  timeout,
		http:     httpClient,
		cache:    gocache.New(ttl, 2*ttl),
		logger:   cfg.Logger,
	}, nil
}

// Search returns up to the configured page size of products matching name.
// It never returns an error: timeouts, non-200 statuses, and malformed
// bodies all degrade to an empty slice. The caller is responsible for
// rejecting empty input before invocation.
func (c *Client) Search(ctx context.Context, name string) []Product {
	key := strings.ToLower(strings.TrimSpace(name))
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]Product)
	}

	results, err := c.search(ctx, name)
	if err != nil {
		// Distinguished internally for observability; externally this is
		// always just "0 results".
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			c.logger.Warn("registry search timed out", "query_len", len(name))
		default:
			c.logger.Warn("registry search failed", "error", err, "query_len", len(name))
		}
		return nil
	}

	c.cache.SetDefault(key, results)
	return results
}

// search performs one registry query.
func (c *Client) search(ctx context.Context, name string) ([]Product, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("nombre", name)
	params.Set("tamanioPagina", strconv.Itoa(c.pageSize))

	reqURL := c.baseURL + "/medicamentos?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding registry response: %w", err)
	}

	c.logger.Debug("registry search completed", "results", len(body.Results))
	return body.Results, nil
}
