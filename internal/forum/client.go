// Package forum talks to the discussion forum's read API and normalizes its
// listing payloads into the pipeline's post/comment shape.
package forum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"morsel/internal/content"
	"morsel/internal/services"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 8 << 20
)

// Config captures the runtime settings required to talk to the forum API.
type Config struct {
	BaseURL           string
	UserAgent         string
	RequestsPerMinute float64
	TimeoutSeconds    int
}

// Client fetches post trees and comment probes from the forum API. All
// requests pass through a shared rate limiter so bulk collection stays
// within the forum's published quota.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLimiter overrides the request rate limiter (useful for tests).
func WithLimiter(limiter *rate.Limiter) Option {
	return func(c *Client) {
		if limiter != nil {
			c.limiter = limiter
		}
	}
}

// NewClient constructs a forum client from the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	client := &Client{
		cfg: Config{
			BaseURL:           strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			UserAgent:         strings.TrimSpace(cfg.UserAgent),
			RequestsPerMinute: rpm,
			TimeoutSeconds:    cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rpm/60.0), 1),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// PostTree fetches one post and its full comment tree, normalized into the
// pipeline's shape. A post the forum has scrubbed of all content returns a
// nil post and no error; callers skip it.
func (c *Client) PostTree(ctx context.Context, scope, postID string) (*content.Post, []content.Comment, error) {
	endpoint := fmt.Sprintf("%s/r/%s/comments/%s.json", c.cfg.BaseURL, url.PathEscape(scope), url.PathEscape(postID))
	body, err := c.get(ctx, endpoint+"?limit=500&depth=50&raw_json=1")
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil, services.Wrap(services.ErrNotFound, "collection", "fetch post", "post gone", err)
		}
		return nil, nil, services.Wrap(services.ErrExternalService, "collection", "fetch post", "forum request failed", err)
	}
	post, comments, err := NormalizePostTree(body, c.canonicalURL(scope, postID))
	if err != nil {
		return nil, nil, services.Wrap(services.ErrExternalService, "collection", "fetch post", "decode listing", err)
	}
	return post, comments, nil
}

// RecentCommentIDs returns up to limit ids of the post's newest comments.
// The freshness gate uses this as a cheap probe before committing to a full
// tree fetch.
func (c *Client) RecentCommentIDs(ctx context.Context, scope, postID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	endpoint := fmt.Sprintf("%s/r/%s/comments/%s.json?sort=new&limit=%d&raw_json=1", c.cfg.BaseURL, url.PathEscape(scope), url.PathEscape(postID), limit)
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "collection", "probe comments", "forum request failed", err)
	}
	ids, err := recentCommentIDs(body, limit)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "collection", "probe comments", "decode listing", err)
	}
	return ids, nil
}

func (c *Client) canonicalURL(scope, postID string) string {
	return fmt.Sprintf("%s/r/%s/comments/%s", c.cfg.BaseURL, scope, postID)
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(summarizeBody(body))}
	}
	return body, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.code, e.body)
}

func isStatus(err error, code int) bool {
	var statusErr *statusError
	return errors.As(err, &statusErr) && statusErr.code == code
}

func summarizeBody(body []byte) string {
	const limit = 160
	text := strings.Join(strings.Fields(string(body)), " ")
	runes := []rune(text)
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return text
}
