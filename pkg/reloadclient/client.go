// Package reloadclient implements the reload side of the refresh
// notification channel: one connection per client to the well-known
// endpoint, and an injectable reload signal invoked once for every message
// that arrives. The client never sends a message of its own.
package reloadclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// DefaultPath is the well-known endpoint path of the refresh channel,
// relative to the page origin.
const DefaultPath = "/refresh-ws"

const (
	defaultDialTimeout       = 10 * time.Second
	defaultReconnectDelayMin = 1 * time.Second
	defaultReconnectDelayMax = 30 * time.Second
)

// ErrNoReloadSignal is returned by Connect when no reload function is given.
var ErrNoReloadSignal = errors.New("no reload signal provided")

// ReloadFunc is the injectable reload signal. In a browser this would be a
// full page reload; tests observe invocations instead of navigating.
type ReloadFunc func()

// DisconnectFunc is called when the connection is lost and no further
// reconnect attempt will be made.
type DisconnectFunc func(err error)

type clientConfig struct {
	logger            *slog.Logger
	dialOptions       *websocket.DialOptions
	path              string
	dialTimeout       time.Duration
	autoReconnect     bool
	reconnectAttempts int // 0 means unlimited when autoReconnect is set
	reconnectDelayMin time.Duration
	reconnectDelayMax time.Duration
	onDisconnect      DisconnectFunc
}

// Client is a reload client bound to one refresh channel connection.
//
// Receipt of any message, regardless of payload, triggers exactly one
// invocation of the reload signal. Connection open and connection loss never
// trigger it. By default a lost connection is simply reported through the
// optional disconnect callback, matching the behavior of the browser
// client; WithReconnect opts in to retrying with backoff.
type Client struct {
	config clientConfig
	urlStr string

	conn   *websocket.Conn
	connMu sync.RWMutex

	reload ReloadFunc

	clientCtx    context.Context
	clientCancel context.CancelFunc

	closedMu sync.Mutex
	isClosed bool

	reconnectingMu sync.Mutex
	isReconnecting bool
}

// EndpointURL resolves the refresh channel URL for a page origin. The
// WebSocket scheme follows the page scheme: https origins upgrade to wss.
func EndpointURL(origin, path string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported origin scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin %q has no host", origin)
	}
	if path == "" {
		path = DefaultPath
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}

// Connect opens the refresh channel connection for the given page origin
// and begins listening. reload is invoked once per received message.
func Connect(origin string, reload ReloadFunc, opts ...Option) (*Client, error) {
	if reload == nil {
		return nil, ErrNoReloadSignal
	}

	clientCtx, clientCancel := context.WithCancel(context.Background())
	c := &Client{
		config: clientConfig{
			logger:            slog.Default(),
			path:              DefaultPath,
			dialTimeout:       defaultDialTimeout,
			reconnectDelayMin: defaultReconnectDelayMin,
			reconnectDelayMax: defaultReconnectDelayMax,
		},
		reload:       reload,
		clientCtx:    clientCtx,
		clientCancel: clientCancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.config.reconnectDelayMax < c.config.reconnectDelayMin {
		c.config.reconnectDelayMax = c.config.reconnectDelayMin
	}

	urlStr, err := EndpointURL(origin, c.config.path)
	if err != nil {
		clientCancel()
		return nil, err
	}
	c.urlStr = urlStr

	if err := c.establishConnection(c.clientCtx); err != nil {
		if !c.config.autoReconnect {
			c.Close()
			return nil, fmt.Errorf("reload client initial connection failed: %w", err)
		}
		go c.reconnectLoop()
	}

	return c, nil
}

// Close permanently closes the client and releases the connection.
func (c *Client) Close() error {
	c.closedMu.Lock()
	if c.isClosed {
		c.closedMu.Unlock()
		return nil
	}
	c.isClosed = true
	c.closedMu.Unlock()

	c.clientCancel()

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "client closed")
		c.conn = nil
	}
	return nil
}

// Connected reports whether the channel currently holds an open connection.
func (c *Client) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

func (c *Client) establishConnection(ctx context.Context) error {
	dialCtx, dialCancel := context.WithTimeout(ctx, c.config.dialTimeout)
	conn, httpResp, err := websocket.Dial(dialCtx, c.urlStr, c.config.dialOptions)
	dialCancel()
	if err != nil {
		if httpResp != nil {
			return fmt.Errorf("dial %s failed (status: %s): %w", c.urlStr, httpResp.Status, err)
		}
		return fmt.Errorf("dial %s failed: %w", c.urlStr, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.config.logger.Debug("Reload client connected", "url", c.urlStr)
	go c.readPump(conn)
	return nil
}

// readPump invokes the reload signal once per received message. Payload
// content is never inspected; an empty frame counts the same as a JSON
// blob. The pump never writes to the connection.
func (c *Client) readPump(conn *websocket.Conn) {
	var readErr error
	for {
		_, _, err := conn.Read(c.clientCtx)
		if err != nil {
			readErr = err
			break
		}
		c.reload()
	}

	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	conn.Close(websocket.StatusAbnormalClosure, "read pump terminated")

	c.closedMu.Lock()
	isPermanentlyClosed := c.isClosed
	c.closedMu.Unlock()
	if isPermanentlyClosed {
		return
	}

	status := websocket.CloseStatus(readErr)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		c.config.logger.Debug("Reload client connection closed by server", "status", status)
	} else {
		c.config.logger.Debug("Reload client connection lost", "error", readErr)
	}

	if c.config.autoReconnect {
		c.reconnectingMu.Lock()
		alreadyReconnecting := c.isReconnecting
		c.reconnectingMu.Unlock()
		if !alreadyReconnecting {
			go c.reconnectLoop()
		}
		return
	}

	// No corrective action without opt-in reconnect: the connection stays
	// down, mirroring the browser client.
	if c.config.onDisconnect != nil {
		c.config.onDisconnect(readErr)
	}
}

func (c *Client) reconnectLoop() {
	c.reconnectingMu.Lock()
	if c.isReconnecting {
		c.reconnectingMu.Unlock()
		return
	}
	c.isReconnecting = true
	c.reconnectingMu.Unlock()

	defer func() {
		c.reconnectingMu.Lock()
		c.isReconnecting = false
		c.reconnectingMu.Unlock()
	}()

	attempts := 0
	currentDelay := c.config.reconnectDelayMin

	for {
		c.closedMu.Lock()
		if c.isClosed {
			c.closedMu.Unlock()
			return
		}
		c.closedMu.Unlock()

		if c.config.reconnectAttempts > 0 && attempts >= c.config.reconnectAttempts {
			c.config.logger.Info("Reload client: max reconnect attempts reached", "attempts", attempts)
			if c.config.onDisconnect != nil {
				c.config.onDisconnect(fmt.Errorf("reconnect gave up after %d attempts", attempts))
			}
			return
		}

		// Jitter spreads retries from multiple tabs.
		jitterRange := int(currentDelay / 4)
		if jitterRange <= 0 {
			jitterRange = 1
		}
		sleep := currentDelay + time.Duration(rand.Intn(jitterRange))

		select {
		case <-time.After(sleep):
		case <-c.clientCtx.Done():
			return
		}

		attempts++
		c.config.logger.Debug("Reload client reconnect attempt", "attempt", attempts)
		if err := c.establishConnection(c.clientCtx); err == nil {
			return
		}

		currentDelay *= 2
		if currentDelay > c.config.reconnectDelayMax {
			currentDelay = c.config.reconnectDelayMax
		}
	}
}
