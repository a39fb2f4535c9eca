// Package supabase is the persistence adapter for the ingestion
// pipeline: statement imports, transactions, the OCR result cache and
// account balances via PostgREST, plus statement files via Supabase
// Storage.
package supabase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mcravero/statement-ingest/internal/domain"
	"github.com/mcravero/statement-ingest/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to Supabase PostgREST.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client. The retry config is applied to
// idempotent calls only; single-shot operations (batch inserts, the
// claim) go through the breaker without retries.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	if cfg.Retryable == nil {
		cfg.Retryable = domain.IsRetryable
	}
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// execute runs fn through the circuit breaker, translating breaker
// rejections into the error taxonomy.
func (c *Client) execute(fn func() error) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if resilience.IsCircuitOpen(err) {
		return &domain.ErrCircuitOpen{Service: "supabase"}
	}
	return err
}

// executeWithRetry is execute plus backoff for idempotent calls.
func (c *Client) executeWithRetry(ctx context.Context, fn func() error) error {
	return c.execute(func() error {
		return resilience.RetryWithBackoff(ctx, c.cfg, fn)
	})
}

// doRequest executes an authenticated GET against PostgREST. A 404 or
// 204 returns nil, nil: absence is a domain condition, not an error.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	c.setHeaders(req, "return=representation")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err)
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, mapError(resp.StatusCode, body)
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return body, nil
}

func (c *Client) setHeaders(req *http.Request, prefer string) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
}

// mapError classifies a non-2xx PostgREST response. Schema-cache errors
// (PGRST2xx) count as transient: PostgREST recovers after a reload.
func mapError(status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &domain.ErrAuth{Service: "supabase", Status: status}
	case status == http.StatusTooManyRequests:
		return &domain.ErrRateLimit{Service: "supabase"}
	case status >= 500:
		return &domain.ErrTransient{Service: "supabase", Status: status}
	case bytes.Contains(body, []byte(`"PGRST2`)):
		return &domain.ErrTransient{Service: "supabase", Status: status, Err: fmt.Errorf("schema cache: %s", body)}
	case status == http.StatusConflict:
		return &domain.ErrConflict{Resource: "row", Message: string(body)}
	default:
		return fmt.Errorf("supabase returned status %d: %s", status, string(body))
	}
}

// transportError classifies a failure below HTTP. Cancellation
// propagates untouched; everything else is worth a retry.
func transportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.ErrTransient{Service: "supabase", Err: err}
}
