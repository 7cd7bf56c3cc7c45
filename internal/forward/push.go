package forward

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultDialTimeout = 2 * time.Second
	importPath         = "/v1/import"
	userAgent          = "spool/1"
)

// Transport delivers one batch envelope.
type Transport interface {
	// Upload sends body and reports whether it was accepted. It does not retry.
	Upload(ctx context.Context, body []byte) error
	// Connected reports whether an upload is worth attempting.
	Connected() bool
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upload failed: HTTP %d", e.Code)
}

// HTTPTransport posts batch envelopes to an HTTP endpoint.
type HTTPTransport struct {
	url         string
	client      *http.Client
	writeKey    string
	compression Compression
	dialCheck   bool
	dialTimeout time.Duration
	dial        func(ctx context.Context, network, addr string) (net.Conn, error)
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the HTTP client (useful for tests).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithWriteKey authenticates requests with HTTP Basic auth, key as username.
func WithWriteKey(key string) HTTPOption {
	return func(t *HTTPTransport) { t.writeKey = key }
}

// WithCompression compresses request bodies.
func WithCompression(c Compression) HTTPOption {
	return func(t *HTTPTransport) { t.compression = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.client.Timeout = d
		}
	}
}

// WithInsecureTLS skips certificate verification for self-signed endpoints.
func WithInsecureTLS() HTTPOption {
	return func(t *HTTPTransport) {
		t.client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, //nolint:gosec // user-controlled flag for self-signed certs
			},
		}
	}
}

// WithDialCheck makes Connected dial the endpoint before reporting true.
func WithDialCheck(timeout time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		t.dialCheck = true
		if timeout > 0 {
			t.dialTimeout = timeout
		}
	}
}

// NewHTTPTransport creates a transport for target. Targets without a scheme
// default to http://; targets without a path post to /v1/import.
func NewHTTPTransport(target string, opts ...HTTPOption) (*HTTPTransport, error) {
	u, err := buildImportURL(target)
	if err != nil {
		return nil, err
	}
	t := &HTTPTransport{
		url:         u,
		client:      &http.Client{Timeout: defaultTimeout},
		dialTimeout: defaultDialTimeout,
		dial:        (&net.Dialer{}).DialContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// URL returns the endpoint requests are posted to.
func (t *HTTPTransport) URL() string { return t.url }

// Upload posts body once. Any non-2xx status is a *StatusError.
func (t *HTTPTransport) Upload(ctx context.Context, body []byte) error {
	payload, err := t.compression.encode(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if t.compression != CompressionNone {
		req.Header.Set("Content-Encoding", string(t.compression))
	}
	if t.writeKey != "" {
		req.SetBasicAuth(t.writeKey, "")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", t.url, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Connected reports true unless probing is enabled and the endpoint's host
// cannot be reached over TCP.
func (t *HTTPTransport) Connected() bool {
	if !t.dialCheck {
		return true
	}
	u, err := url.Parse(t.url)
	if err != nil {
		return false
	}
	addr := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.dialTimeout)
	defer cancel()
	conn, err := t.dial(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// buildImportURL constructs the endpoint URL from a target address.
// Targets with an explicit scheme (http:// or https://) keep it.
// Plain host:port targets default to http://.
func buildImportURL(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("empty target")
	}
	if !strings.HasPrefix(target, "https://") && !strings.HasPrefix(target, "http://") {
		target = "http://" + target
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse target %q: %w", target, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("target %q has no host", target)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = importPath
	}
	return u.String(), nil
}
