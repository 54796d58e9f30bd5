// Package markdown maintains the in-memory map of clean URLs to rendered
// HTML pages for the tree being served.
package markdown

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// CleanURL maps a request path or file-relative path to a store key:
// the leading slash and the .md suffix are stripped.
func CleanURL(url string) string {
	url = strings.TrimPrefix(url, "/")
	url = strings.TrimSuffix(url, ".md")
	return url
}

// Store holds rendered pages keyed by clean URL. It is safe for concurrent
// use; the HTTP layer reads while the watcher updates.
type Store struct {
	logger *slog.Logger
	md     goldmark.Markdown
	tmpl   Template

	mu         sync.RWMutex
	pages      map[string]string
	base       string
	singleFile bool
}

// NewStore creates a Store rooted at base and performs the initial walk.
// base may be a directory of .md files or a single file, which is then
// served as index.
func NewStore(base string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	tmpl, err := NewTemplate()
	if err != nil {
		return nil, err
	}

	s := &Store{
		logger: logger,
		tmpl:   tmpl,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
		pages: make(map[string]string),
	}

	if err := s.SetBase(base); err != nil {
		return nil, err
	}
	return s, nil
}

// Base returns the absolute base path being served.
func (s *Store) Base() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base
}

// SingleFile reports whether the base is a single file rather than a tree.
func (s *Store) SingleFile() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.singleFile
}

// SetBase re-points the store at a new base path and rebuilds all pages.
func (s *Store) SetBase(base string) error {
	abs, err := filepath.Abs(base)
	if err != nil {
		return fmt.Errorf("invalid base path %q: %w", base, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("base path %q does not exist: %w", base, err)
	}

	pages := make(map[string]string)
	single := !info.IsDir()

	if single {
		page, err := s.renderFile(abs)
		if err != nil {
			return err
		}
		pages["index"] = page
	} else {
		err := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".md") {
				return nil
			}
			page, err := s.renderFile(path)
			if err != nil {
				// A single unreadable file should not abort the walk.
				s.logger.Error("Failed to render file", "file", path, "error", err)
				return nil
			}
			pages[s.keyForPathIn(abs, path)] = page
			return nil
		})
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.base = abs
	s.singleFile = single
	s.pages = pages
	s.mu.Unlock()

	s.logger.Info("Markdown store built", "base", abs, "pages", len(pages))
	return nil
}

// Get returns the full HTML page for a clean URL.
func (s *Store) Get(url string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[CleanURL(url)]
	return page, ok
}

// NotFoundPage returns the rendered 404 page.
func (s *Store) NotFoundPage() string {
	return s.tmpl.NotFound()
}

// Len returns the number of stored pages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}

// Update re-renders one changed file. Paths outside the base or without the
// .md suffix are ignored; changed reports whether a page was rewritten, so
// callers can skip notifying browsers for files that are not served.
func (s *Store) Update(path string) (changed bool, err error) {
	key, ok := s.keyForPath(path)
	if !ok {
		return false, nil
	}

	page, err := s.renderFile(path)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.pages[key] = page
	s.mu.Unlock()
	return true, nil
}

// Remove drops the page for a deleted file and reports whether a page was
// actually removed.
func (s *Store) Remove(path string) bool {
	key, ok := s.keyForPath(path)
	if !ok {
		return false
	}
	s.mu.Lock()
	_, existed := s.pages[key]
	delete(s.pages, key)
	s.mu.Unlock()
	return existed
}

// keyForPath maps an absolute file path to its store key, honoring
// single-file mode.
func (s *Store) keyForPath(path string) (string, bool) {
	s.mu.RLock()
	base := s.base
	single := s.singleFile
	s.mu.RUnlock()

	if single {
		if path == base {
			return "index", true
		}
		return "", false
	}
	if !strings.HasSuffix(path, ".md") {
		return "", false
	}
	return s.keyForPathIn(base, path), true
}

func (s *Store) keyForPathIn(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		rel = path
	}
	return CleanURL(filepath.ToSlash(rel))
}

// renderFile reads a markdown file and returns the full HTML page for it.
func (s *Store) renderFile(path string) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	body, err := s.Render(src)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", path, err)
	}
	return s.tmpl.Page(body), nil
}

// Render converts markdown source to an HTML fragment.
func (s *Store) Render(src []byte) (string, error) {
	var buf bytes.Buffer
	if err := s.md.Convert(src, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
