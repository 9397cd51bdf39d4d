// Package transport provides the single connection-pooled HTTP client shared
// by every REST-style backend call in the process. Creating a client per
// request wastes a TCP+TLS handshake (~100-200ms) on the conversation's
// critical path.
package transport

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// Client wraps a pooled http.Client with a once-only shutdown hook. It is
// constructed at startup and injected into every backend adapter; there is no
// lazy process-global instance.
type Client struct {
	httpc     *http.Client
	closeOnce sync.Once
}

func New() *Client {
	return &Client{
		httpc: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: 25 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       90 * time.Second,
			},
			// Per-call deadlines come from the caller's context; the stages of
			// the pipeline each carry their own timeout.
			Timeout: 0,
		},
	}
}

// HTTP returns the pooled client for backend adapters.
func (c *Client) HTTP() *http.Client { return c.httpc }

// Shutdown releases idle connections. Safe to call more than once; only the
// first call has effect.
func (c *Client) Shutdown() {
	c.closeOnce.Do(func() {
		c.httpc.CloseIdleConnections()
	})
}
