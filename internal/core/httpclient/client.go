// Package httpclient configures the HTTP client used to call upstream services.
package httpclient

import (
	"net"
	"net/http"
	"time"

	"github.com/animita-app/animitas-sub001/internal/core/observability"
)

// UserAgent identifies the service to public OSM endpoints, which reject anonymous clients.
const UserAgent = "animitas-geoengine/1.0 (+https://github.com/animita-app/animitas-sub001)"

// NewOutbound creates a new outbound http client
func NewOutbound(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: Instrument("", transport),
		Timeout:   timeout,
	}
}

type instrumented struct {
	upstream string
	next     http.RoundTripper
}

// Instrument wraps rt so every request carries UserAgent and its latency is
// recorded under upstream (the request host when empty).
func Instrument(upstream string, rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &instrumented{upstream: upstream, next: rt}
}

func (t *instrumented) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") == "" {
		r = r.Clone(r.Context())
		r.Header.Set("User-Agent", UserAgent)
	}
	name := t.upstream
	if name == "" {
		name = r.URL.Host
	}
	start := time.Now()
	resp, err := t.next.RoundTrip(r)
	observability.ObserveUpstreamLatency(name, time.Since(start).Seconds())
	return resp, err
}
