// Package refresh implements the server side of the refresh notification
// channel: it accepts WebSocket connections at the well-known endpoint and
// broadcasts a refresh envelope to every connected browser when the served
// content changes.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// DefaultPath is the well-known endpoint path of the refresh channel.
const DefaultPath = "/refresh-ws"

// TopicRefresh is carried in the broadcast envelope. Clients do not parse
// it; any delivery triggers a reload.
const TopicRefresh = "system:refresh"

// Envelope is the message written to each socket on broadcast.
type Envelope struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

const (
	defaultSendBuffer          = 16
	defaultWriteTimeout        = 10 * time.Second
	libraryDefaultPingInterval = 30 * time.Second

	// A socket that fails to drain this many broadcasts is disconnected.
	maxDroppedBeforeClose = 3
)

type hubConfig struct {
	logger        *slog.Logger
	acceptOptions *websocket.AcceptOptions
	sendBuffer    int
	writeTimeout  time.Duration
	pingInterval  time.Duration // 0 means use library default, <0 means disable
}

// Hub manages refresh channel connections.
type Hub struct {
	config hubConfig

	connsMu sync.RWMutex
	conns   map[*conn]struct{}

	broadcasts   int64
	broadcastsMu sync.Mutex

	shutdownOnce sync.Once
	shutdownChan chan struct{}
	mainCtx      context.Context
	mainCancel   context.CancelFunc
}

// New creates a new Hub.
func New(opts ...Option) (*Hub, error) {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	h := &Hub{
		config: hubConfig{
			logger:       slog.Default(),
			sendBuffer:   defaultSendBuffer,
			writeTimeout: defaultWriteTimeout,
			pingInterval: 0, // "use default"
		},
		conns:        make(map[*conn]struct{}),
		shutdownChan: make(chan struct{}),
		mainCtx:      mainCtx,
		mainCancel:   mainCancel,
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.config.pingInterval == 0 {
		h.config.pingInterval = libraryDefaultPingInterval
	} else if h.config.pingInterval < 0 {
		h.config.pingInterval = 0
	}

	if h.config.acceptOptions == nil {
		h.config.acceptOptions = &websocket.AcceptOptions{}
	}

	return h, nil
}

// UpgradeHandler returns an http.HandlerFunc that upgrades requests to
// refresh channel connections.
func (h *Hub) UpgradeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-h.shutdownChan:
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		default:
		}

		ws, err := websocket.Accept(w, r, h.config.acceptOptions)
		if err != nil {
			h.config.logger.Info(fmt.Sprintf("Hub: Failed to accept websocket connection: %v", err))
			return
		}

		ctx, cancel := context.WithCancel(h.mainCtx)
		c := &conn{
			ws:     ws,
			hub:    h,
			send:   make(chan *Envelope, h.config.sendBuffer),
			ctx:    ctx,
			cancel: cancel,
			logger: h.config.logger,
		}

		h.addConn(c)
		h.config.logger.Info("Hub: refresh socket opened", "clients", h.ClientCount())

		go c.writePump()
		go c.readPump()
		if h.config.pingInterval > 0 {
			go c.pingLoop()
		}
	}
}

// Broadcast sends one refresh envelope to every connected socket.
func (h *Hub) Broadcast(ctx context.Context) error {
	select {
	case <-h.mainCtx.Done():
		return errors.New("hub is shutting down")
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	env := &Envelope{Type: "publish", Topic: TopicRefresh}

	h.connsMu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.connsMu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	h.broadcastsMu.Lock()
	h.broadcasts++
	h.broadcastsMu.Unlock()

	h.config.logger.Info("Hub: broadcasting refresh", "clients", len(targets))
	for _, c := range targets {
		c.trySend(env)
	}
	return nil
}

// ClientCount returns the number of connected sockets.
func (h *Hub) ClientCount() int {
	h.connsMu.RLock()
	defer h.connsMu.RUnlock()
	return len(h.conns)
}

// Broadcasts returns the number of refresh broadcasts performed.
func (h *Hub) Broadcasts() int64 {
	h.broadcastsMu.Lock()
	defer h.broadcastsMu.Unlock()
	return h.broadcasts
}

// Shutdown closes every socket and waits for them to drain.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.config.logger.Info("Hub: initiating shutdown")
		close(h.shutdownChan)

		h.connsMu.RLock()
		targets := make([]*conn, 0, len(h.conns))
		for c := range h.conns {
			targets = append(targets, c)
		}
		h.connsMu.RUnlock()

		for _, c := range targets {
			c.ws.Close(websocket.StatusNormalClosure, "server shutting down")
		}
		h.mainCancel()
	})

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if h.ClientCount() == 0 {
			h.config.logger.Info("Hub: shutdown complete")
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("hub shutdown: %d sockets remaining: %w", h.ClientCount(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (h *Hub) addConn(c *conn) {
	h.connsMu.Lock()
	defer h.connsMu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *Hub) removeConn(c *conn) {
	c.cancel()

	h.connsMu.Lock()
	if _, exists := h.conns[c]; !exists {
		h.connsMu.Unlock()
		return
	}
	delete(h.conns, c)
	h.connsMu.Unlock()

	c.ws.CloseRead(context.Background())
	h.config.logger.Info("Hub: refresh socket closed", "clients", h.ClientCount())
}

// conn is one refresh channel socket.
type conn struct {
	ws     *websocket.Conn
	hub    *Hub
	send   chan *Envelope
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	droppedMu sync.Mutex
	dropped   int
}

// readPump discards every inbound frame. The refresh channel is one-way;
// clients never send, but anything that does arrive must be drained so
// control frames keep flowing.
func (c *conn) readPump() {
	defer c.hub.removeConn(c)

	for {
		if _, _, err := c.ws.Read(c.ctx); err != nil {
			status := websocket.CloseStatus(err)
			if errors.Is(err, context.Canceled) ||
				status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return
			}
			c.logger.Debug("Hub: read error on refresh socket", "error", err)
			return
		}
	}
}

func (c *conn) writePump() {
	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				c.ws.Close(websocket.StatusNormalClosure, "send channel closed")
				return
			}
			writeCtx, cancel := context.WithTimeout(c.ctx, c.hub.config.writeTimeout)
			err := wsjson.Write(writeCtx, c.ws, env)
			cancel()
			if err != nil {
				c.logger.Info(fmt.Sprintf("Hub: write error on refresh socket: %v", err))
				c.ws.Close(websocket.StatusInternalError, "write error")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// trySend queues an envelope without blocking; slow sockets are dropped
// after repeated failures.
func (c *conn) trySend(env *Envelope) {
	select {
	case c.send <- env:
	case <-c.ctx.Done():
	default:
		c.droppedMu.Lock()
		c.dropped++
		droppedCount := c.dropped
		c.droppedMu.Unlock()

		c.logger.Info("Hub: send buffer full, dropping refresh", "dropped", droppedCount)
		if droppedCount >= maxDroppedBeforeClose {
			c.ws.Close(websocket.StatusPolicyViolation, "too many dropped messages")
			go c.hub.removeConn(c)
		}
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(c.hub.config.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.hub.config.pingInterval/2)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Info(fmt.Sprintf("Hub: ping failed on refresh socket: %v", err))
				c.ws.Close(websocket.StatusPolicyViolation, "ping failure")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
