package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ZebulonRouseFrantzich/crio-get/internal/logger"
)

const (
	// DefaultAttempts is the total number of attempts per request.
	DefaultAttempts = 5
	// DefaultDelay is the pause between attempts.
	DefaultDelay = 3 * time.Second
	// DefaultTimeout bounds a single attempt, including the body transfer.
	DefaultTimeout = 10 * time.Minute
	// DefaultUserAgent is sent when no other User-Agent is configured.
	DefaultUserAgent = "crio-get"
	maxRedirects     = 10
)

var (
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("not found")
	// ErrEmptyBody is returned for successful responses without content.
	ErrEmptyBody = errors.New("empty response body")
	// ErrUnexpectedStatus wraps non-retryable status codes other than 404.
	ErrUnexpectedStatus = errors.New("unexpected status code")
	errRetryableStatus  = errors.New("retryable status code")
)

// NetworkError reports a fetch that failed permanently or ran out of attempts.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsAbsent reports whether err means the remote object does not exist.
func IsAbsent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrEmptyBody)
}

// Fetcher performs HTTP GETs with bounded retry.
type Fetcher struct {
	client    *http.Client
	userAgent string
	attempts  uint
	delay     time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithRetry overrides the attempt count and inter-attempt delay.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(f *Fetcher) {
		if attempts > 0 {
			f.attempts = attempts
		}
		f.delay = delay
	}
}

// New creates a Fetcher with the default retry policy.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		userAgent: DefaultUserAgent,
		attempts:  DefaultAttempts,
		delay:     DefaultDelay,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch returns the body of url. header may be nil.
func (f *Fetcher) Fetch(ctx context.Context, url string, header http.Header) ([]byte, error) {
	body, err := retry(ctx, f, url, func() ([]byte, error) {
		resp, err := f.do(ctx, url, header)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}

		if len(bytes.TrimSpace(data)) == 0 {
			return nil, backoff.Permanent(ErrEmptyBody)
		}

		return data, nil
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}

// Open returns the body of url for streaming. Only establishing the response
// is retried; the caller owns and must close the returned reader.
func (f *Fetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	return retry(ctx, f, url, func() (io.ReadCloser, error) {
		resp, err := f.do(ctx, url, nil)
		if err != nil {
			return nil, err
		}

		if resp.ContentLength == 0 {
			resp.Body.Close()
			return nil, backoff.Permanent(ErrEmptyBody)
		}

		return resp.Body, nil
	})
}

// Download writes the body of url to destPath. The file appears only after
// the full body has been written.
func (f *Fetcher) Download(ctx context.Context, url, destPath string) error {
	_, err := retry(ctx, f, url, func() (struct{}, error) {
		return struct{}{}, f.downloadOnce(ctx, url, destPath)
	})

	return err
}

// downloadOnce performs a single download attempt
func (f *Fetcher) downloadOnce(ctx context.Context, url, destPath string) error {
	resp, err := f.do(ctx, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return backoff.Permanent(fmt.Errorf("create dest dir: %w", err))
	}

	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create temp file: %w", err))
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmpFile, resp.Body)
	if err != nil {
		return fmt.Errorf("copy response body: %w", err)
	}

	if n == 0 {
		return backoff.Permanent(ErrEmptyBody)
	}

	if err := tmpFile.Close(); err != nil {
		return backoff.Permanent(fmt.Errorf("close temp file: %w", err))
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return backoff.Permanent(fmt.Errorf("rename temp file: %w", err))
	}

	cleanupNeeded = false
	return nil
}

// do issues one GET and classifies the response. A returned response always
// has status 200 and an open body.
func (f *Fetcher) do(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, backoff.Permanent(ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", errRetryableStatus, resp.StatusCode)
	default:
		resp.Body.Close()
		return nil, backoff.Permanent(fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode))
	}
}

// retry runs op under the fetcher's policy and wraps the final error.
func retry[T any](ctx context.Context, f *Fetcher, url string, op backoff.Operation[T]) (T, error) {
	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(f.delay)),
		backoff.WithMaxTries(f.attempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.DebugKV(ctx, "Retrying request", "url", url, "error", err, "next", next)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		var zero T
		return zero, &NetworkError{URL: url, Err: err}
	}

	return res, nil
}
