// Package httpapi wires the markdown store, embedded browser assets and
// the refresh hub into a chi router.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lightforgemedia/go-mdlive/internal/markdown"
	"github.com/lightforgemedia/go-mdlive/pkg/assets"
	"github.com/lightforgemedia/go-mdlive/pkg/refresh"
)

// Content serves rendered pages by clean URL.
type Content interface {
	Get(url string) (string, bool)
	NotFoundPage() string
}

// RouterConfig carries the collaborators the router serves.
type RouterConfig struct {
	Content Content
	Hub     *refresh.Hub
	// IndexPath returns the current index document, e.g. "index.md".
	// The root path redirects to it. It is a func so the REPL can
	// re-point the index at runtime.
	IndexPath func() string
	Logger    *slog.Logger
}

// NewRouter builds the HTTP surface: markdown pages, static assets,
// the refresh websocket, health and metrics endpoints.
func NewRouter(rc RouterConfig) http.Handler {
	logger := rc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	indexPath := rc.IndexPath
	if indexPath == nil {
		indexPath = func() string { return "index.md" }
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	}))
	r.Use(metricsMiddleware)

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/"+indexPath(), http.StatusTemporaryRedirect)
	})

	r.Method(http.MethodGet, "/index.css", assets.StyleHandler())
	r.Method(http.MethodGet, "/index.js", assets.ScriptHandler())
	r.Method(http.MethodGet, "/favicon.ico", assets.FaviconHandler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	if rc.Hub != nil {
		r.Get(refresh.DefaultPath, rc.Hub.UpgradeHandler())
	}

	r.Get("/*", pageHandler(rc.Content, logger))

	return r
}

func pageHandler(content Content, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		url := markdown.CleanURL(req.URL.Path)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		page, ok := content.Get(url)
		if !ok {
			logger.Debug("Page not found", "url", url)
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(content.NotFoundPage()))
			return
		}
		_, _ = w.Write([]byte(page))
	}
}
