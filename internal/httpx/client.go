// Package httpx wraps the shared, connection pooled HTTP client used for pages and assets.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetryWait  = 300 * time.Millisecond
	maxRetryWait      = 3 * time.Second
	defaultUserAgent  = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	// PageLimit caps HTML documents.
	PageLimit int64 = 1 << 20
)

// ErrFetch matches every *FetchError via errors.Is.
var ErrFetch = errors.New("fetch failed")

// FetchError reports a network failure or a non-200 response.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: http %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// transientStatuses are retried by the client itself with backoff.
var transientStatuses = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// Options configures the client. PoolSize should match the number of download workers.
type Options struct {
	Timeout    time.Duration
	UserAgent  string
	RetryCount int
	RetryWait  time.Duration
	PoolSize   int
}

// Client is safe for concurrent use by all workers.
type Client struct {
	http *resty.Client
}

// Body is a response body read up to a byte limit.
type Body struct {
	// URL is the final URL after redirects.
	URL       string
	Data      []byte
	Truncated bool
}

// New builds a client with retries on 429 and 5xx gateway statuses.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = defaultRetryWait
	}
	if opts.PoolSize < 1 {
		opts.PoolSize = 1
	}

	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert
	transport.MaxIdleConns = opts.PoolSize * 2
	transport.MaxIdleConnsPerHost = opts.PoolSize
	transport.MaxConnsPerHost = opts.PoolSize * 2

	client := resty.New().
		SetLogger(restyLogger{}).
		SetTransport(transport).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,image/avif,image/webp,image/*,*/*;q=0.8").
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(maxRetryWait).
		AddRetryCondition(func(r *resty.Response, _ error) bool {
			if r == nil {
				return false
			}
			_, retry := transientStatuses[r.StatusCode()]
			return retry
		}).
		AddRetryHook(func(r *resty.Response, err error) {
			// bodies are streamed, so the failed attempt must be released before the next one
			if r != nil && r.RawBody() != nil {
				_ = r.RawBody().Close()
			}
			evt := log.Debug()
			if r != nil && r.Request != nil {
				evt = evt.Str("url", r.Request.URL).Int("status", r.StatusCode())
			}
			evt.Err(err).Msg("retrying transient http failure")
		})

	return &Client{http: client}
}

// GetPage fetches an HTML document capped at PageLimit.
func (c *Client) GetPage(ctx context.Context, rawURL string) (*Body, error) {
	return c.Get(ctx, rawURL, PageLimit)
}

// Get performs a GET and reads at most limit bytes of a 200 response. Any
// other status is a FetchError. Bytes beyond the limit are discarded.
func (c *Client) Get(ctx context.Context, rawURL string, limit int64) (*Body, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	raw := resp.RawBody()
	defer func() {
		if raw != nil {
			_ = raw.Close()
		}
	}()

	if resp.StatusCode() != http.StatusOK {
		return nil, &FetchError{URL: rawURL, Status: resp.StatusCode()}
	}
	if raw == nil {
		return &Body{URL: finalURL(resp, rawURL)}, nil
	}

	data, err := io.ReadAll(io.LimitReader(raw, limit+1))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Status: resp.StatusCode(), Err: err}
	}
	body := &Body{URL: finalURL(resp, rawURL), Data: data}
	if int64(len(data)) > limit {
		body.Data = data[:limit]
		body.Truncated = true
	}
	return body, nil
}

func finalURL(resp *resty.Response, fallback string) string {
	if resp.RawResponse != nil && resp.RawResponse.Request != nil && resp.RawResponse.Request.URL != nil {
		return resp.RawResponse.Request.URL.String()
	}
	return fallback
}

// restyLogger routes resty's internal messages into zerolog.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...any) { log.Error().Msgf(format, v...) }
func (restyLogger) Warnf(format string, v ...any)  { log.Warn().Msgf(format, v...) }
func (restyLogger) Debugf(format string, v ...any) { log.Debug().Msgf(format, v...) }
