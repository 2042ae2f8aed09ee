// Package httpclient configures the HTTP client used to call the cadastral
// upstream.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound creates the outbound client. timeout bounds one whole
// upstream exchange; perHost sizes the idle pool since every commune is
// served by the same host.
func NewOutbound(timeout time.Duration, perHost int) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if perHost <= 0 {
		perHost = 8
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   max(perHost*2, 16),
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		// The single-commune path answers with a redirect; upstream
		// redirects are never followed on the fetch path either.
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
}
