// Package relay is the outbound webhook client. It carries one user message
// per call to the configured endpoint and returns the extracted reply text,
// retrying transient failures with linear backoff.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"chatrelay/internal/metrics"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 1 * time.Second
	defaultTimeout    = 60 * time.Second
	maxResponseSize   = 1 << 20 // 1MB
)

// Config configures a Client. Zero values fall back to defaults except
// EndpointURL, which is required.
type Config struct {
	EndpointURL    string
	MaxRetries     int           // retries after the first attempt; total attempts = MaxRetries+1
	BaseRetryDelay time.Duration // wait before retry k is BaseRetryDelay * k
	Timeout        time.Duration
	Logger         *slog.Logger
}

// Client posts messages to the webhook endpoint. It holds no per-call state
// and is safe for concurrent use across sessions; serializing turns within
// one conversation is the caller's job.
type Client struct {
	endpoint   string
	maxRetries int
	baseDelay  time.Duration
	client     *http.Client
	logger     *slog.Logger

	// sleep is the backoff wait, replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return NewWithHTTPClient(cfg, SharedHTTPClient(timeout))
}

func NewWithHTTPClient(cfg Config, client *http.Client) *Client {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = defaultBaseDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		endpoint:   cfg.EndpointURL,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseRetryDelay,
		client:     client,
		logger:     cfg.Logger,
		sleep:      sleepCtx,
	}
}

// webhookRequest is the wire format of one outbound exchange.
type webhookRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// Send delivers one message and returns the webhook's reply text. A non-2xx
// status, a transport error, and an empty extraction are all "the attempt
// did not yield usable text" and retry the same way. After the final attempt
// fails the last cause comes back wrapped in *DeliveryError.
func (c *Client) Send(ctx context.Context, message, sessionID string) (string, error) {
	body, err := json.Marshal(webhookRequest{Message: message, SessionID: sessionID})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseDelay * time.Duration(attempt)
			c.logger.Warn("retrying webhook request", "attempt", attempt+1, "backoff", backoff)
			if err := c.sleep(ctx, backoff); err != nil {
				return "", err
			}
		}

		reply, err := c.attempt(ctx, body)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if attempt < c.maxRetries {
			c.logger.Warn("webhook attempt failed, will retry", "attempt", attempt+1, "err", err)
		}
	}

	return "", &DeliveryError{Attempts: c.maxRetries + 1, Err: lastErr}
}

// attempt performs a single request/response exchange.
func (c *Client) attempt(ctx context.Context, body []byte) (string, error) {
	metrics.RelayAttempts.Inc()

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	return ExtractReply(respBody)
}

// Healthy reports whether the endpoint is reachable. Any HTTP response
// counts as reachable; only transport failures are errors.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook endpoint not reachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
