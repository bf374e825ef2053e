// Package fetch retrieves remote source files and pages over HTTP with
// bounded retries, polite rate limiting and optional conditional caching.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/pdfsnippets/internal/cache"
)

// ErrUnsupportedContentType is returned when the Accept policy rejects a response.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// StatusError reports a non-success HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("unexpected status: %d", e.Code) }

// AcceptFunc decides whether a response with contentType, fetched from
// rawURL, is usable.
type AcceptFunc func(contentType string, rawURL string) bool

// Client wraps http.Client with timeouts, retry on transient errors and
// client-wide pacing.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	// MaxAttempts includes the initial attempt. Minimum 1.
	MaxAttempts int
	// PerRequestTimeout bounds each request.
	PerRequestTimeout time.Duration
	// Backoff returns the pause after failed attempt n (0-based). Nil uses
	// (n+1)*200ms.
	Backoff func(attempt int) time.Duration
	// Accept gates Get responses. Nil accepts HTML only.
	Accept AcceptFunc
	// Optional on-disk cache for GET bodies and validators.
	Cache *cache.HTTPCache
	// BypassCache fetches fresh (no conditional headers) but still saves.
	BypassCache bool

	// RedirectMaxHops caps redirect following. Zero means 5.
	RedirectMaxHops int
	// MaxConcurrent limits in-flight requests. Zero means unlimited.
	MaxConcurrent int
	// Limiter paces request starts across all goroutines. Nil means unpaced.
	Limiter *rate.Limiter

	semOnce sync.Once
	sem     *semaphore.Weighted
}

func (c *Client) getHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		base := *c.HTTPClient
		base.CheckRedirect = c.checkRedirectFunc()
		return &base
	}
	return &http.Client{CheckRedirect: c.checkRedirectFunc()}
}

func (c *Client) backoff(attempt int) time.Duration {
	if c.Backoff != nil {
		return c.Backoff(attempt)
	}
	return time.Duration(attempt+1) * 200 * time.Millisecond
}

func (c *Client) attempts() int {
	if c.MaxAttempts <= 0 {
		return 1
	}
	return c.MaxAttempts
}

// Get issues a GET and returns the body and content type. With a cache it
// revalidates using the stored ETag/Last-Modified and serves the cached body
// on 304.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, string, error) {
	var etag, lastMod string
	if c.Cache != nil && !c.BypassCache {
		if meta, err := c.Cache.LoadMeta(ctx, rawURL); err == nil && meta != nil {
			etag = meta.ETag
			lastMod = meta.LastModified
		}
	}
	accept := c.Accept
	if accept == nil {
		accept = AcceptHTML
	}
	var body []byte
	var ct string
	err := c.retry(ctx, func(ctx context.Context) error {
		resp, err := c.do(ctx, rawURL, func(h http.Header) {
			if etag != "" {
				h.Set("If-None-Match", etag)
			}
			if lastMod != "" {
				h.Set("If-Modified-Since", lastMod)
			}
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotModified && c.Cache != nil {
			cached, err := c.Cache.LoadBody(ctx, rawURL)
			if err == nil {
				body, ct = cached, resp.Header.Get("Content-Type")
				if meta, err := c.Cache.LoadMeta(ctx, rawURL); err == nil && ct == "" {
					ct = meta.ContentType
				}
				return nil
			}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{Code: resp.StatusCode}
		}
		ct = resp.Header.Get("Content-Type")
		if !accept(ct, rawURL) {
			return fmt.Errorf("%w: %s", ErrUnsupportedContentType, ct)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		body = b
		if c.Cache != nil {
			_ = c.Cache.Save(ctx, rawURL, ct, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), b)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

// retry runs op up to MaxAttempts times, pausing between transient failures.
func (c *Client) retry(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := c.attempts()
	var err error
	for i := 0; i < attempts; i++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isTransient(err) || i == attempts-1 {
			return err
		}
		select {
		case <-time.After(c.backoff(i)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// do performs one paced, concurrency-gated GET. The caller closes the body.
func (c *Client) do(ctx context.Context, rawURL string, decorate func(http.Header)) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if !isHTTPScheme(req.URL) {
		return nil, fmt.Errorf("unsupported URL scheme: %q", req.URL.String())
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if decorate != nil {
		decorate(req.Header)
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	if c.PerRequestTimeout > 0 {
		tctx, cancel := context.WithTimeout(ctx, c.PerRequestTimeout)
		req = req.WithContext(tctx)
		resp, err := c.getHTTPClient().Do(req)
		if err != nil {
			cancel()
			c.release()
			return nil, err
		}
		resp.Body = &releasingBody{ReadCloser: resp.Body, done: func() { cancel(); c.release() }}
		return resp, nil
	}
	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		c.release()
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, done: c.release}
	return resp, nil
}

// releasingBody frees the request slot when the body is closed, so slots
// are held for the whole transfer and not just the headers.
type releasingBody struct {
	io.ReadCloser
	once sync.Once
	done func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.done)
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	max := c.RedirectMaxHops
	if max <= 0 {
		max = 5
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return errors.New("too many redirects")
		}
		if !isHTTPScheme(req.URL) {
			return errors.New("redirect to unsupported scheme")
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// AcceptHTML allows text/html variants and application/xhtml+xml.
func AcceptHTML(ct string, _ string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml+xml")
}

// AcceptAny allows every response.
func AcceptAny(string, string) bool { return true }

// AcceptPDF allows any content type mentioning pdf, and any type at all when
// the URL path ends in .pdf (servers often label PDFs octet-stream).
func AcceptPDF(ct string, rawURL string) bool {
	if strings.Contains(strings.ToLower(ct), "pdf") {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

func (c *Client) acquire(ctx context.Context) error {
	if c.MaxConcurrent <= 0 {
		return nil
	}
	c.semOnce.Do(func() {
		c.sem = semaphore.NewWeighted(int64(c.MaxConcurrent))
	})
	return c.sem.Acquire(ctx, 1)
}

func (c *Client) release() {
	if c.MaxConcurrent <= 0 || c.sem == nil {
		return
	}
	c.sem.Release(1)
}
