package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Config configures outgoing HTTP requests
type Config struct {
	Timeout   time.Duration // whole request including body, zero means none
	KATimeout time.Duration
	UserAgent string
	Headers   map[string]string
}

// Client wraps http.Client and applies default headers to every request
type Client struct {
	client *http.Client
	config Config
}

// New creates a client with pooled keep-alive connections
func New(cfg Config) *Client {
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "cassette/1.0"
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		IdleConnTimeout:     cfg.KATimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config: cfg,
	}
}

// Do sends req with the configured headers. Headers already set on req win.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	for key, value := range c.config.Headers {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}
	return c.client.Do(req)
}
