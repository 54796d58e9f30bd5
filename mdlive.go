// Package mdlive serves a directory (or single file) of markdown as a
// live-reloading website. It watches the filesystem for changes,
// re-renders affected pages and pushes a refresh signal to connected
// browsers over a websocket.
package mdlive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lightforgemedia/go-mdlive/internal/bus"
	"github.com/lightforgemedia/go-mdlive/internal/config"
	"github.com/lightforgemedia/go-mdlive/internal/httpapi"
	"github.com/lightforgemedia/go-mdlive/internal/markdown"
	"github.com/lightforgemedia/go-mdlive/pkg/filewatcher"
	"github.com/lightforgemedia/go-mdlive/pkg/refresh"
)

// Service ties together the markdown store, file watcher, change bus,
// refresh hub and HTTP server.
type Service struct {
	logger  *slog.Logger
	store   *markdown.Store
	watcher *filewatcher.FileWatcher
	changes *bus.Bus
	hub     *refresh.Hub
	httpSrv *http.Server

	mu    sync.RWMutex
	index string
	addr  string

	sub      chan interface{}
	stopOnce sync.Once
	done     chan struct{}
}

// New builds a Service from the given configuration. Start must be
// called before the server accepts connections.
func New(cfg config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := markdown.NewStore(cfg.Base, logger)
	if err != nil {
		return nil, fmt.Errorf("markdown store: %w", err)
	}

	hub, err := refresh.New(refresh.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("refresh hub: %w", err)
	}

	s := &Service{
		logger:  logger,
		store:   store,
		changes: bus.New(),
		hub:     hub,
		index:   cfg.Index,
		done:    make(chan struct{}),
	}

	watcher, err := filewatcher.New(
		filewatcher.WithLogger(logger),
		filewatcher.WithDirs([]string{store.Base()}),
		filewatcher.WithPatterns(cfg.Patterns),
		filewatcher.WithDebounce(cfg.DebounceMs),
	)
	if err != nil {
		return nil, fmt.Errorf("file watcher: %w", err)
	}
	watcher.AddCallback(func(ev filewatcher.Event) {
		s.changes.PublishChange(bus.ChangeEvent{Path: ev.Path, Remove: ev.Remove})
	})
	s.watcher = watcher

	httpapi.SetClientCounter(hub.ClientCount)

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Content:   store,
		Hub:       hub,
		IndexPath: s.Index,
		Logger:    logger,
	})
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Start begins watching files and serving HTTP. It returns once the
// listener is bound; serving continues in the background until
// Shutdown is called.
func (s *Service) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpSrv.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	if err := s.watcher.Start(); err != nil {
		_ = ln.Close()
		return fmt.Errorf("start watcher: %w", err)
	}

	s.sub = s.changes.SubscribeChanges()
	go s.pumpChanges(ctx)

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", "err", err)
		}
	}()

	s.logger.Info("Serving markdown", "url", s.URL(), "base", s.store.Base())
	return nil
}

// pumpChanges applies file change events to the store and notifies
// connected browsers. Broadcasts are skipped while nobody is listening.
func (s *Service) pumpChanges(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.sub:
			if !ok {
				return
			}
			ev, ok := msg.(bus.ChangeEvent)
			if !ok {
				continue
			}
			var changed bool
			if ev.Remove {
				changed = s.store.Remove(ev.Path)
			} else {
				var err error
				changed, err = s.store.Update(ev.Path)
				if err != nil {
					s.logger.Warn("Failed to update page", "path", ev.Path, "err", err)
					continue
				}
			}
			// A change to a file the store does not serve, such as a
			// sibling of a single-file base, must not reload browsers.
			if !changed {
				continue
			}

			if s.hub.ClientCount() == 0 {
				continue
			}
			if err := s.hub.Broadcast(ctx); err != nil {
				s.logger.Warn("Refresh broadcast failed", "err", err)
				continue
			}
			httpapi.IncRefreshBroadcasts()
		}
	}
}

// Shutdown stops the HTTP server, closes all refresh sockets and stops
// the file watcher. Safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	var firstErr error
	s.stopOnce.Do(func() {
		close(s.done)

		if err := s.httpSrv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.hub.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.watcher.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		if s.sub != nil {
			s.changes.Unsubscribe(s.sub)
		}
		s.changes.Shutdown()
	})
	return firstErr
}

// URL returns the browsable address of the server. An unspecified bind
// host is reported as localhost so the URL works in a browser.
func (s *Service) URL() string {
	s.mu.RLock()
	addr := s.addr
	s.mu.RUnlock()
	if addr == "" {
		addr = s.httpSrv.Addr
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "http://" + host + ":" + port
}

// Base returns the directory or file currently being served.
func (s *Service) Base() string {
	return s.store.Base()
}

// Index returns the document the root path redirects to.
func (s *Service) Index() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

// ClientCount reports the number of connected refresh sockets.
func (s *Service) ClientCount() int {
	return s.hub.ClientCount()
}

// SetBase re-points the server at a new directory or file, re-aims the
// watcher and refreshes any connected browsers.
func (s *Service) SetBase(path string) error {
	if err := s.store.SetBase(path); err != nil {
		return err
	}
	if err := s.watcher.SetDirs([]string{s.store.Base()}); err != nil {
		return err
	}
	s.refreshClients()
	return nil
}

// SetIndex changes the document the root path redirects to. The target
// must exist under the current base.
func (s *Service) SetIndex(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("index path is empty")
	}
	if s.store.SingleFile() {
		return errors.New("serving a single file, index cannot change")
	}
	full := filepath.Join(s.store.Base(), filepath.FromSlash(path))
	if info, err := os.Stat(full); err != nil || info.IsDir() {
		return fmt.Errorf("no such file under %s: %s", s.store.Base(), path)
	}

	s.mu.Lock()
	s.index = path
	s.mu.Unlock()
	s.refreshClients()
	return nil
}

func (s *Service) refreshClients() {
	if s.hub.ClientCount() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.hub.Broadcast(ctx); err != nil {
		s.logger.Warn("Refresh broadcast failed", "err", err)
		return
	}
	httpapi.IncRefreshBroadcasts()
}
