// Package httpclient builds the client shared by the ODE catalog query and the
// browse file downloads.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

const DefaultUserAgent = "ode-browse-cache/1"

type Options struct {
	// Timeout bounds a whole request including the body. Zero means 2m;
	// browse files can be tens of megabytes.
	Timeout   time.Duration
	UserAgent string
	// MaxConnsPerHost caps parallel transfers against one archive host.
	MaxConnsPerHost int
}

func NewOutbound(o Options) *http.Client {
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Minute
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.MaxConnsPerHost <= 0 {
		o.MaxConnsPerHost = 16
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   o.MaxConnsPerHost,
		MaxConnsPerHost:       o.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: &userAgent{next: transport, ua: o.UserAgent},
		Timeout:   o.Timeout,
	}
}

type userAgent struct {
	next http.RoundTripper
	ua   string
}

func (t *userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.ua)
	return t.next.RoundTrip(r)
}
