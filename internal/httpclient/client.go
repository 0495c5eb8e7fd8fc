package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/torosent/throttleprobe/internal/tracing"
)

// DefaultMaxBodyBytes caps how much of a response body is kept.
const DefaultMaxBodyBytes int64 = 10 << 20

// Options configure a Client.
type Options struct {
	BaseURL      string
	Headers      map[string]string
	Timeout      time.Duration
	MaxBodyBytes int64        // 0 means DefaultMaxBodyBytes
	Propagate    bool         // inject W3C trace context
	HTTPClient   *http.Client // optional; built from Timeout when nil
}

// Response is a successful GET.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Latency    time.Duration
}

// Client issues GET requests against a fixed base URL.
type Client struct {
	baseURL   string
	headers   http.Header
	http      *http.Client
	maxBody   int64
	propagate bool
}

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("base URL %q must be absolute", base)
		}
	}

	headers := http.Header{}
	for key, value := range opts.Headers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		headers.Set(canonicalKey, value)
	}

	client := opts.HTTPClient
	if client == nil {
		client = NewHTTPClient(opts.Timeout)
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	return &Client{
		baseURL:   base,
		headers:   headers,
		http:      client,
		maxBody:   maxBody,
		propagate: opts.Propagate,
	}, nil
}

// Get issues one GET for ref. Non-2xx responses fail with *HTTPError.
func (c *Client) Get(ctx context.Context, ref string) (*Response, error) {
	if c == nil {
		return nil, errors.New("client cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target := c.Resolve(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header = c.headers.Clone()
	if c.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, readErr := readBody(resp.Body, c.maxBody)
	latency := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	if readErr != nil {
		return nil, fmt.Errorf("read body: %w", readErr)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Latency:    latency,
	}, nil
}

var absoluteURL = regexp.MustCompile(`(?i)^([a-z][a-z\d+\-.]*:)?//`)

// Resolve joins ref onto the base URL. Absolute references are returned as is.
func (c *Client) Resolve(ref string) string {
	if c.baseURL == "" || absoluteURL.MatchString(ref) {
		return ref
	}
	if ref == "" {
		return c.baseURL
	}
	return strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(ref, "/")
}

// readBody reads at most limit bytes and drains the rest so the connection
// can be reused.
func readBody(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return body, err
	}
	_, _ = io.Copy(io.Discard, r)
	return body, nil
}

// NewHTTPClient returns a pooled client suited to many concurrent GETs against one host.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
