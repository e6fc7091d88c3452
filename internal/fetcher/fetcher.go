// Package fetcher performs rate-limited HTTP requests with bounded retries.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
)

// Extra pause before the very first request of a fresh process. A process
// that starts firing requests immediately looks most like abusive traffic.
const coldStartDelay = 2 * time.Second

// Response size guard; marketplace pages never legitimately exceed this.
const maxBodySize = 10 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Limiter is the admission-control surface the fetcher requires.
type Limiter interface {
	Acquire(ctx context.Context, minDelay time.Duration) error
	RecordError(status int)
	RecordSuccess()
}

// StatusError reports a non-retryable or retry-exhausted HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Response is a completed fetch.
type Response struct {
	Body       []byte
	StatusCode int
}

// Options tune one fetcher instance.
type Options struct {
	MaxRetries  int
	BackoffBase time.Duration
	MinDelay    time.Duration
}

// Fetcher issues requests through a rate limiter and retries transient
// failures with exponential backoff. Failures are always explicit return
// values; nothing is raised past this boundary.
type Fetcher struct {
	client    HTTPClient
	limiter   Limiter
	opts      Options
	log       *slog.Logger
	coldDelay time.Duration

	started atomic.Bool
}

// New creates a Fetcher routing requests through the given limiter.
func New(client HTTPClient, limiter Limiter, opts Options, log *slog.Logger) *Fetcher {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	return &Fetcher{
		client:    client,
		limiter:   limiter,
		opts:      opts,
		log:       log,
		coldDelay: coldStartDelay,
	}
}

// Do performs one logical request. Transient failures (timeouts, network
// errors, 429, 5xx) are retried up to the configured ceiling; other 4xx
// statuses fail immediately.
func (f *Fetcher) Do(ctx context.Context, req *http.Request) (*Response, error) {
	if f.started.CompareAndSwap(false, true) {
		f.log.Debug("cold start delay before first request", "delay", f.coldDelay)
		if err := sleep(ctx, f.coldDelay); err != nil {
			return nil, err
		}
	}

	var resp *Response
	backoff := retry.WithMaxRetries(uint64(f.opts.MaxRetries), retry.NewExponential(f.opts.BackoffBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := f.limiter.Acquire(ctx, f.opts.MinDelay); err != nil {
			return err
		}

		r, err := f.attempt(ctx, req)
		if err != nil {
			// Timeouts and transport errors get the same treatment as a 5xx.
			f.limiter.RecordError(http.StatusServiceUnavailable)
			f.log.Warn("fetch attempt failed", "url", req.URL.String(), "error", err)
			return retry.RetryableError(err)
		}

		switch {
		case r.StatusCode >= 200 && r.StatusCode < 300:
			f.limiter.RecordSuccess()
			resp = r
			return nil
		case r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500:
			f.limiter.RecordError(r.StatusCode)
			f.log.Warn("fetch got retryable status", "url", req.URL.String(), "status", r.StatusCode)
			return retry.RetryableError(&StatusError{Code: r.StatusCode})
		default:
			return &StatusError{Code: r.StatusCode}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL.String(), err)
	}
	return resp, nil
}

func (f *Fetcher) attempt(ctx context.Context, req *http.Request) (*Response, error) {
	r := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		r.Body = body
	}

	httpResp, err := f.client.Do(r)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{Body: body, StatusCode: httpResp.StatusCode}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
