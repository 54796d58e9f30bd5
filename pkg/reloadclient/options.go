package reloadclient

import (
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a custom logging implementation.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.config.logger = logger
		}
	}
}

// WithDialOptions sets custom websocket.DialOptions.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *Client) {
		c.config.dialOptions = opts
	}
}

// WithPath overrides the refresh channel endpoint path.
func WithPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.config.path = path
		}
	}
}

// WithDialTimeout sets the timeout for the initial dial and each
// reconnect dial.
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.config.dialTimeout = timeout
		}
	}
}

// WithReconnect enables bounded-retry reconnection with exponential backoff
// and jitter. maxAttempts = 0 means unlimited attempts. Without this option
// a lost connection is never re-established, matching the browser client.
func WithReconnect(maxAttempts int, minDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.config.autoReconnect = true
		c.config.reconnectAttempts = maxAttempts
		if minDelay > 0 {
			c.config.reconnectDelayMin = minDelay
		}
		if maxDelay > 0 {
			c.config.reconnectDelayMax = maxDelay
		}
	}
}

// WithDisconnectHandler sets a callback invoked when the connection is lost
// and no further reconnect attempt will be made.
func WithDisconnectHandler(fn DisconnectFunc) Option {
	return func(c *Client) {
		c.config.onDisconnect = fn
	}
}
