package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"rpscrape/pkg/types"
)

// ErrDisallowed is returned when robots.txt forbids the target.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Fetcher retrieves one document.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*types.Page, error)
}

// Gate decides whether a URL may be requested at all.
type Gate interface {
	Allowed(ctx context.Context, target *url.URL) bool
}

// Options controls HTTP fetching behaviour.
type Options struct {
	Headers      *HeaderSource
	ExtraHeaders map[string]string
	Timeout      time.Duration
	MaxBodyBytes int64
	ProxyURL     string
	Limiter      *HostLimiter
	Gate         Gate
}

const (
	acceptEncoding = "gzip, deflate, br, zstd"
	// MaxIdlePerHost matches the worker cap.
	MaxIdlePerHost = 10
)

// HTTPFetcher makes exactly one GET per Fetch. Failed URLs are retried from
// the failure log, not here.
type HTTPFetcher struct {
	client  *http.Client
	headers *HeaderSource
	extra   map[string]string
	limit   int64
	limiter *HostLimiter
	gate    Gate
}

func NewHTTPFetcher(opts Options) (*HTTPFetcher, error) {
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConnsPerHost: MaxIdlePerHost,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxy := strings.TrimSpace(opts.ProxyURL); proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	f := &HTTPFetcher{
		client:  &http.Client{Timeout: opts.Timeout, Transport: transport},
		headers: opts.Headers,
		extra:   maps.Clone(opts.ExtraHeaders),
		limit:   opts.MaxBodyBytes,
		limiter: opts.Limiter,
		gate:    opts.Gate,
	}
	if f.client.Timeout <= 0 {
		f.client.Timeout = 30 * time.Second
	}
	if f.limit <= 0 {
		f.limit = 8 << 20
	}
	if f.headers == nil {
		f.headers = NewHeaderSource(nil)
	}
	return f, nil
}

// Fetch downloads rawURL. Non-2xx responses yield a *StatusError.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*types.Page, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if !target.IsAbs() {
		return nil, fmt.Errorf("url %q is not absolute", rawURL)
	}
	if f.gate != nil && !f.gate.Allowed(ctx, target) {
		return nil, ErrDisallowed
	}
	if err := f.limiter.Wait(ctx, target.Hostname()); err != nil {
		return nil, fmt.Errorf("host limiter: %w", err)
	}

	req, err := f.newRequest(ctx, target)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{URL: target.String(), Code: resp.StatusCode}
	}
	body, err := f.decode(resp)
	if err != nil {
		return nil, err
	}

	page := &types.Page{
		URL:             target,
		FinalURL:        target,
		Body:            body,
		ContentType:     resp.Header.Get("Content-Type"),
		StatusCode:      resp.StatusCode,
		Headers:         resp.Header.Clone(),
		FetchedAt:       time.Now(),
		ResponseLatency: time.Since(start),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		page.FinalURL = resp.Request.URL
	}
	return page, nil
}

func (f *HTTPFetcher) newRequest(ctx context.Context, target *url.URL) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	f.headers.Apply(req.Header)
	req.Header.Set("Accept-Encoding", acceptEncoding)
	for k, v := range f.extra {
		req.Header.Set(k, v)
	}
	return req, nil
}

// decode unwraps Content-Encoding and reads at most limit bytes.
func (f *HTTPFetcher) decode(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		r = gz
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		r = fl
	case "br":
		r = brotli.NewReader(resp.Body)
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		defer zr.Close()
		r = zr
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}

	body, err := io.ReadAll(io.LimitReader(r, f.limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", encoding, err)
	}
	if int64(len(body)) > f.limit {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", f.limit)
	}
	return body, nil
}

// Client is shared with the robots agent.
func (f *HTTPFetcher) Client() *http.Client {
	if f == nil {
		return nil
	}
	return f.client
}

// SetGate installs a robots gate after construction, since the gate itself
// reuses this fetcher's client.
func (f *HTTPFetcher) SetGate(g Gate) {
	f.gate = g
}
