// Package contentapi is the HTTP client for the remote book catalog service.
package contentapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/pkg/summa"
)

// DefaultBaseURL is the hosted content service.
const DefaultBaseURL = "https://us-central1-summaristt.cloudfunctions.net"

const maxBodyBytes = 8 << 20

// Config configures the content API client.
type Config struct {
	BaseURL     string
	SegmentPath string
	BookPath    string
	SearchPath  string
	Timeout     time.Duration
	RatePerSec  float64
	Burst       int
	Retries     int
	Backoff     time.Duration
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.SegmentPath == "" {
		c.SegmentPath = "/getBooks"
	}
	if c.BookPath == "" {
		c.BookPath = "/getBook"
	}
	if c.SearchPath == "" {
		c.SearchPath = "/getBooksByAuthorOrTitle"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 4
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
}

// Client fetches books over HTTP+JSON.
type Client struct {
	log     *zap.Logger
	http    *http.Client
	limiter *rate.Limiter
	config  Config
}

// NewClient creates a content API client.
func NewClient(log *zap.Logger, cfg Config) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.applyDefaults()
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Client{
		log:     log,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		config:  cfg,
	}
}

// Segment fetches one catalog partition.
func (c *Client) Segment(ctx context.Context, segment summa.Segment) ([]summa.Book, error) {
	if !segment.Valid() {
		return nil, fmt.Errorf("unknown segment %q", segment)
	}
	body, status, err := c.get(ctx, c.config.SegmentPath, url.Values{"status": {string(segment)}})
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, upstreamError("getBooks", fmt.Errorf("status %d", status))
	}
	books, err := summa.DecodeBooks(body)
	if err != nil {
		return nil, upstreamError("getBooks", err)
	}
	return books, nil
}

// Book fetches a single book by id.
func (c *Client) Book(ctx context.Context, id string) (summa.Book, error) {
	if strings.TrimSpace(id) == "" {
		return summa.Book{}, fmt.Errorf("getBook: %w", core.ErrNotFound)
	}
	body, status, err := c.get(ctx, c.config.BookPath, url.Values{"id": {id}})
	if err != nil {
		return summa.Book{}, err
	}
	if status == http.StatusNotFound {
		return summa.Book{}, fmt.Errorf("getBook %s: %w", id, core.ErrNotFound)
	}
	if status >= 400 {
		return summa.Book{}, upstreamError("getBook", fmt.Errorf("status %d", status))
	}
	book, ok, err := summa.DecodeBook(body)
	if err != nil {
		return summa.Book{}, upstreamError("getBook", err)
	}
	if !ok {
		return summa.Book{}, fmt.Errorf("getBook %s: %w", id, core.ErrNotFound)
	}
	return book, nil
}

// Search looks books up by author or title. Blank queries return no
// results without a request.
func (c *Client) Search(ctx context.Context, query string) ([]summa.Book, error) {
	if strings.TrimSpace(query) == "" {
		return []summa.Book{}, nil
	}
	body, status, err := c.get(ctx, c.config.SearchPath, url.Values{"search": {query}})
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, upstreamError("search", fmt.Errorf("status %d", status))
	}
	books, err := summa.DecodeBooks(body)
	if err != nil {
		return nil, upstreamError("search", err)
	}
	return books, nil
}

// get performs a rate-limited GET, retrying transport errors, 429 and 5xx
// responses with exponential backoff. Other statuses are returned to the caller.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, int, error) {
	endpointURL := c.config.BaseURL + endpoint
	if len(params) > 0 {
		endpointURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.Retries; attempt++ {
		if attempt > 0 {
			backoff := c.config.Backoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, 0, upstreamError(endpoint, ctx.Err())
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, upstreamError(endpoint, err)
		}

		body, status, err := c.do(ctx, endpointURL)
		if err != nil {
			lastErr = err
			c.log.Debug("content request failed", zap.String("endpoint", endpoint), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			lastErr = fmt.Errorf("status %d", status)
			continue
		}
		return body, status, nil
	}
	return nil, 0, upstreamError(endpoint, lastErr)
}

func (c *Client) do(ctx context.Context, endpointURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func upstreamError(op string, err error) error {
	if err == nil {
		err = errors.New("no response")
	}
	return fmt.Errorf("%s: %w: %v", strings.TrimPrefix(op, "/"), core.ErrUpstreamUnavailable, err)
}
