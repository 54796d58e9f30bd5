package refresh

import (
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// Option configures the Hub.
type Option func(*Hub)

// WithLogger sets a custom logging implementation.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.config.logger = logger
		}
	}
}

// WithAcceptOptions provides custom websocket.AcceptOptions.
func WithAcceptOptions(opts *websocket.AcceptOptions) Option {
	return func(h *Hub) {
		h.config.acceptOptions = opts
	}
}

// WithSendBuffer sets the per-socket buffer for outgoing envelopes.
func WithSendBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.config.sendBuffer = size
		}
	}
}

// WithWriteTimeout sets the write timeout for broadcasting to sockets.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(h *Hub) {
		if timeout > 0 {
			h.config.writeTimeout = timeout
		}
	}
}

// WithPingInterval sets the server-initiated ping interval.
// interval < 0: disables pings.
// interval == 0: uses the library default (30s).
func WithPingInterval(interval time.Duration) Option {
	return func(h *Hub) {
		h.config.pingInterval = interval
	}
}
