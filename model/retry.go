package model

import (
	"context"
	"time"
)

// RetryOptions configures WithRetry's backoff and wall-clock cap.
type RetryOptions struct {
	// MaxAttempts bounds retries of the initial Complete call (the call
	// that establishes the stream); once streaming has begun, a
	// mid-stream error is never retried transparently - the caller
	// (RunLoop) sees it and decides whether to re-run the whole turn.
	MaxAttempts int
	// BaseDelay is the first backoff delay; each subsequent attempt
	// doubles it.
	BaseDelay time.Duration
	// CallTimeout bounds the total wall-clock time of one Complete call,
	// including every retry, so a single RunLoop iteration cannot hang
	// indefinitely on a stuck provider.
	CallTimeout time.Duration
}

// DefaultRetryOptions: up to 3 attempts, exponential
// backoff, 5 minute wall-clock cap per call.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		CallTimeout: 5 * time.Minute,
	}
}

// retryingClient wraps a Client, retrying the connect phase of Complete on
// retryable ProviderErrors with exponential backoff and a total wall-clock
// cap. Non-retryable errors surface immediately on the first attempt.
type retryingClient struct {
	inner Client
	opts  RetryOptions
}

// WithRetry decorates client with the provider retry policy. Retryable
// ProviderErrors (rate limit, transient network, 5xx) are retried with
// exponential backoff up to opts.MaxAttempts; everything else surfaces
// immediately.
func WithRetry(client Client, opts RetryOptions) Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Minute
	}
	return &retryingClient{inner: client, opts: opts}
}

func (c *retryingClient) Complete(ctx context.Context, req Request) (Streamer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	// cancel is intentionally not deferred here for the success path: the
	// returned Streamer must keep the timeout alive for the life of the
	// stream, so ownership of cancel passes to a wrapping streamer that
	// calls it on Close.
	delay := c.opts.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		stream, err := c.inner.Complete(ctx, req)
		if err == nil {
			return &cancelOnCloseStreamer{Streamer: stream, cancel: cancel}, nil
		}
		lastErr = err
		pe, ok := AsProviderError(err)
		if !ok || !pe.Retryable() || attempt == c.opts.MaxAttempts {
			cancel()
			return nil, err
		}
		select {
		case <-ctx.Done():
			cancel()
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	cancel()
	return nil, lastErr
}

// cancelOnCloseStreamer releases the call-timeout context when the stream
// is closed, whether by normal completion or by the caller giving up early.
type cancelOnCloseStreamer struct {
	Streamer
	cancel context.CancelFunc
}

func (s *cancelOnCloseStreamer) Close() error {
	defer s.cancel()
	return s.Streamer.Close()
}
