package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/nft-marketplace/internal/auth"
	"github.com/rickgao/nft-marketplace/internal/model"
)

// IdempotencyHeader carries the payout ID. Providers must treat repeated
// requests with the same key as one payout.
const IdempotencyHeader = "Idempotency-Key"

// ProviderError is a non-2xx response from the payments provider.
type ProviderError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payments provider error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *ProviderError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// payoutRequest is the body posted to the provider. Amount is a decimal
// string so no precision is lost in JSON.
type payoutRequest struct {
	ID     string `json:"id"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// HTTPDriver sends payouts to a payments provider over HTTP.
type HTTPDriver struct {
	endpoint   string
	path       string
	creds      *auth.Credentials
	httpClient *http.Client
	logger     *slog.Logger
	newID      func() uuid.UUID

	maxRetries   int
	retryBackoff time.Duration
}

// HTTPOption configures an HTTPDriver.
type HTTPOption func(*HTTPDriver)

// NewHTTPDriver creates a driver posting to endpoint.
func NewHTTPDriver(endpoint string, opts ...HTTPOption) (*HTTPDriver, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse settlement url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("settlement url must be http or https, got %q", endpoint)
	}

	d := &HTTPDriver{
		endpoint: endpoint,
		path:     u.EscapedPath(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		newID:        uuid.New,
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// WithCredentials signs each request with creds.
func WithCredentials(creds *auth.Credentials) HTTPOption {
	return func(d *HTTPDriver) {
		d.creds = creds
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(t time.Duration) HTTPOption {
	return func(d *HTTPDriver) {
		d.httpClient.Timeout = t
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) HTTPOption {
	return func(d *HTTPDriver) {
		d.maxRetries = max
		d.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(d *HTTPDriver) {
		d.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(d *HTTPDriver) {
		d.httpClient = hc
	}
}

// SendFunds posts a payout. The idempotency key is fixed for the call, so
// retries cannot pay twice.
func (d *HTTPDriver) SendFunds(ctx context.Context, to model.Identity, amount uint64) error {
	id := d.newID()
	body, err := json.Marshal(payoutRequest{
		ID:     id.String(),
		To:     string(to),
		Amount: strconv.FormatUint(amount, 10),
	})
	if err != nil {
		return fmt.Errorf("marshal payout: %w", err)
	}

	if err := d.doWithRetry(ctx, id, body); err != nil {
		return fmt.Errorf("payout %s to %s: %w", id, to, err)
	}

	d.logger.Info("payout sent", "id", id, "to", to, "amount", amount)
	return nil
}

// doRequest performs one POST attempt.
func (d *HTTPDriver) doRequest(ctx context.Context, id uuid.UUID, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(IdempotencyHeader, id.String())
	if d.creds != nil {
		headers, err := d.creds.SignRequest(http.MethodPost, d.path, body)
		if err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &ProviderError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       respBody,
		}
	}

	return nil
}

// doWithRetry performs the request with exponential backoff retry.
func (d *HTTPDriver) doWithRetry(ctx context.Context, id uuid.UUID, body []byte) error {
	var lastErr error
	backoff := d.retryBackoff

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
			d.logger.Debug("retrying payout",
				"attempt", attempt,
				"backoff", jitter,
				"id", id,
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		err := d.doRequest(ctx, id, body)
		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable reports whether err is a retryable provider response or a
// transport failure. The idempotency key makes transport retries safe.
func isRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
