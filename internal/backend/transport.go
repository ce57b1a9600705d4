package backend

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/lc/sift/internal/log"
)

const (
	idleConnTimeout = 90 * time.Second
	maxIdleConns    = 32
	maxConnsPerHost = 16
	userAgent       = "sift"
)

// NewHTTPClient returns a client whose transport negotiates HTTP/2 with
// DoH endpoints and falls back to HTTP/1.1. timeout bounds a whole request.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return newHTTPClient(timeout)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		IdleConnTimeout:     idleConnTimeout,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxConnsPerHost,
		MaxConnsPerHost:     maxConnsPerHost,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: timeout,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: timeout}
			return dialer.DialContext(ctx, network, addr)
		},
	}

	if h2, err := http2.ConfigureTransports(transport); err != nil {
		log.Warnf("http2 unavailable, using http/1.1: %v", err)
	} else {
		h2.ReadIdleTimeout = timeout
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// newRequest builds a GET request carrying the common headers.
func newRequest(ctx context.Context, url, accept string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}
