// Package relay implements the multi-endpoint event source client.
package relay

import (
	"time"

	"github.com/bohemia111/RUNSTR-sub015/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithPerRelayTimeout bounds how long one relay may take to deliver its
// stored backlog.
func WithPerRelayTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.perRelayTimeout = d
		}
	}
}

// WithGlobalTimeout bounds the whole multi-relay fetch.
func WithGlobalTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.globalTimeout = d
		}
	}
}

// WithHandshakeTimeout bounds the WebSocket dial handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}
