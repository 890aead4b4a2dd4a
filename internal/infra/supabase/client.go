// Package supabase provides a client for Supabase PostgREST.
// It is the production data backend for cards, faturas, transactions,
// categories and settlement accounts.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	bulkhead       *resilience.Bulkhead
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		bulkhead:       resilience.NewBulkhead(cfg.MaxConcurrency),
		logger:         logger,
	}
}

// statusError is a non-2xx PostgREST answer.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("supabase returned status %d: %s", e.Status, e.Body)
}

// retryable reports whether a failed call may be attempted again.
// Domain answers and 4xx rejections are final.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	var notFound *domain.ErrNotFound
	return !errors.As(err, &notFound) && !resilience.IsConflict(err)
}

// read runs an idempotent call with retry, circuit breaking and the bulkhead.
func (c *Client) read(ctx context.Context, table string, fn func() error) error {
	return c.call(ctx, table, func() error {
		return resilience.RetryIf(ctx, c.cfg, retryable, fn)
	})
}

// write runs a mutating call once through the circuit breaker and bulkhead.
// Writes are not retried: a timed-out write may already have been applied.
func (c *Client) write(ctx context.Context, table string, fn func() error) error {
	return c.call(ctx, table, fn)
}

func (c *Client) call(ctx context.Context, table string, fn func() error) error {
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return err
	}
	defer c.bulkhead.Release()

	err := resilience.Execute(c.cb, fn)
	if err == nil {
		return nil
	}
	return wrapError(table, err)
}

// wrapError passes domain answers through and wraps transport failures.
func wrapError(table string, err error) error {
	var (
		notFound *domain.ErrNotFound
		conflict *domain.ErrConflict
		open     *domain.ErrCircuitOpen
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &conflict), errors.As(err, &open):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &domain.ErrExternalService{Service: "supabase/" + table, Err: err}
}

// doRequest executes an authenticated request to Supabase PostgREST.
// A nil body with nil error means PostgREST answered with no content.
func (c *Client) doRequest(ctx context.Context, method, path string, payload io.Reader, prefer string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, &statusError{Status: resp.StatusCode, Body: string(body)}
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	return body, nil
}

// Ping checks that PostgREST answers. Used by /healthz and /readyz.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()

	err := c.call(ctx, "ping", func() error {
		_, err := c.doRequest(ctx, http.MethodGet, "cartoes_credito?select=id&limit=1", nil, "")
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
