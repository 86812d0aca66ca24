// Package ranking triggers the downstream ranking recomputation after a
// collection job finishes. The refresh is best-effort: failures are logged
// by the caller and never fail a batch.
package ranking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"morsel/internal/logging"
)

const userAgent = "morsel/0.1"

// Service is the refresh surface exposed to the pipeline.
type Service interface {
	// RefreshScope asks the ranking job to recompute the given coverage
	// area. Runs in the caller's goroutine; the pipeline dispatches it
	// asynchronously.
	RefreshScope(ctx context.Context, scope string, entityIDs []string) error
}

// Config points at the ranking recomputation endpoint.
type Config struct {
	Endpoint       string
	TimeoutSeconds int
}

// NewService builds a refresh service backed by the configured endpoint.
// With no endpoint configured, a noop implementation is returned.
func NewService(cfg Config, logger *slog.Logger) Service {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &httpService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logging.NewComponentLogger(logger, "ranking"),
	}
}

type httpService struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

type refreshRequest struct {
	Scope     string   `json:"scope"`
	EntityIDs []string `json:"entity_ids,omitempty"`
}

func (s *httpService) RefreshScope(ctx context.Context, scope string, entityIDs []string) error {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return fmt.Errorf("ranking refresh: scope required")
	}
	body, err := json.Marshal(refreshRequest{Scope: scope, EntityIDs: entityIDs})
	if err != nil {
		return fmt.Errorf("ranking refresh: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ranking refresh: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("ranking refresh: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ranking refresh: http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	s.logger.Info("ranking refresh accepted", logging.String(logging.FieldScope, scope))
	return nil
}

type noopService struct{}

func (noopService) RefreshScope(context.Context, string, []string) error {
	return nil
}
