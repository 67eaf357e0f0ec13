// Package delivery posts built payloads to the downstream webhook with a
// bounded, capped-linear retry policy.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	// SecretHeader carries the shared secret on every request.
	SecretHeader = "X-Relay-Secret"

	// RequestTimeout bounds a single attempt.
	RequestTimeout = 10 * time.Second

	DefaultMaxRetries = 3

	backoffStep = 2 * time.Second
	backoffCap  = 8 * time.Second
)

// Backoff returns the delay after failed attempt index i (0-based):
// 2s*(i+1), capped at 8s. There is no jitter.
func Backoff(i int) time.Duration {
	d := backoffStep * time.Duration(i+1)
	if d > backoffCap || d <= 0 {
		return backoffCap
	}
	return d
}

// Outcome is the terminal state of a delivery sequence.
type Outcome int

const (
	Delivered Outcome = iota + 1
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Result describes a finished delivery sequence.
type Result struct {
	Outcome  Outcome
	Attempts int
	Err      error // last attempt error, nil when delivered
}

// StatusError is a non-2xx response from the webhook.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned HTTP %d: %s", e.StatusCode, e.Body)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config configures a Deliverer.
type Config struct {
	URL        string
	Secret     string
	MaxRetries int // additional attempts after the first failure
	Client     *http.Client
	Sleep      SleepFunc
	Logger     *slog.Logger
}

// Deliverer sends payloads to one fixed endpoint. It is safe for concurrent
// use; each call owns its own attempt sequence.
type Deliverer struct {
	url        string
	secret     string
	maxRetries int
	client     *http.Client
	sleep      SleepFunc
	logger     *slog.Logger
}

// New creates a Deliverer. A negative MaxRetries is treated as zero.
func New(cfg Config) *Deliverer {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient(RequestTimeout)
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Deliverer{
		url:        cfg.URL,
		secret:     cfg.Secret,
		maxRetries: cfg.MaxRetries,
		client:     cfg.Client,
		sleep:      cfg.Sleep,
		logger:     cfg.Logger,
	}
}

// MaxAttempts is the total number of attempts per payload.
func (d *Deliverer) MaxAttempts() int { return d.maxRetries + 1 }

type state int

const (
	attempting state = iota
	delivered
	failed
)

// Deliver serializes v and posts it until a 2xx response or until all
// attempts are used. No idempotency key is attached, so a retried request is
// indistinguishable from the first.
func (d *Deliverer) Deliver(ctx context.Context, v any) Result {
	body, err := json.Marshal(v)
	if err != nil {
		return Result{Outcome: PermanentFailure, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	st := attempting
	var (
		attempt int
		lastErr error
	)

	for st == attempting {
		lastErr = d.post(ctx, body)
		attempt++

		switch {
		case lastErr == nil:
			st = delivered
		case attempt >= d.MaxAttempts():
			st = failed
		default:
			wait := Backoff(attempt - 1)
			d.logger.Warn("webhook delivery failed, will retry",
				"attempt", attempt,
				"max_attempts", d.MaxAttempts(),
				"backoff", wait,
				"err", lastErr,
			)
			if err := d.sleep(ctx, wait); err != nil {
				lastErr = fmt.Errorf("retry abandoned: %w", err)
				st = failed
			}
		}
	}

	if st == delivered {
		return Result{Outcome: Delivered, Attempts: attempt}
	}
	return Result{Outcome: PermanentFailure, Attempts: attempt, Err: lastErr}
}

func (d *Deliverer) post(ctx context.Context, body []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, d.secret)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewHTTPClient returns a pooled client for webhook posts.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
