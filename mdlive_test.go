package mdlive

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-mdlive/internal/config"
	"github.com/lightforgemedia/go-mdlive/pkg/reloadclient"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()

	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "index.md"), []byte("# Welcome\n"), 0o644))

	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.Base = base
	cfg.DebounceMs = 50

	svc, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = svc.Shutdown(shutdownCtx)
		cancel()
	})

	return svc, base
}

func TestServiceServesRenderedMarkdown(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := http.Get(svc.URL() + "/index.md")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Welcome")
}

func TestServiceRootRedirect(t *testing.T) {
	svc, _ := newTestService(t)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(svc.URL() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/index.md", resp.Header.Get("Location"))
}

func TestFileChangeRefreshesBrowser(t *testing.T) {
	svc, base := newTestService(t)

	reloaded := make(chan struct{}, 4)
	client, err := reloadclient.Connect(svc.URL(), func() {
		reloaded <- struct{}{}
	})
	require.NoError(t, err)
	defer client.Close()

	// Wait for the socket to register before touching the file,
	// otherwise the broadcast is skipped as nobody is connected.
	require.Eventually(t, func() bool {
		return svc.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(base, "index.md"), []byte("# Updated\n"), 0o644))

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload signal")
	}

	resp, err := http.Get(svc.URL() + "/index.md")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Updated")
}

func TestSingleFileIgnoresSiblingChanges(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "readme.md")
	require.NoError(t, os.WriteFile(file, []byte("# Solo\n"), 0o644))

	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.Base = file
	cfg.DebounceMs = 50

	svc, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = svc.Shutdown(shutdownCtx)
		cancel()
	}()

	reloaded := make(chan struct{}, 4)
	client, err := reloadclient.Connect(svc.URL(), func() {
		reloaded <- struct{}{}
	})
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool {
		return svc.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The watcher covers the parent directory, but a sibling file is not
	// served and must not reload anyone.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.md"), []byte("# Other\n"), 0o644))
	select {
	case <-reloaded:
		t.Fatal("sibling change must not trigger a reload in single-file mode")
	case <-time.After(700 * time.Millisecond):
	}
	assert.EqualValues(t, 0, svc.hub.Broadcasts())

	// The served file itself still does.
	require.NoError(t, os.WriteFile(file, []byte("# Solo v2\n"), 0o644))
	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload signal")
	}
}

func TestSetIndexValidatesTarget(t *testing.T) {
	svc, base := newTestService(t)

	require.Error(t, svc.SetIndex("missing.md"))
	require.NoError(t, os.WriteFile(filepath.Join(base, "other.md"), []byte("# Other\n"), 0o644))

	require.NoError(t, svc.SetIndex("other.md"))
	assert.Equal(t, "other.md", svc.Index())
}

func TestSetBaseSwitchesContent(t *testing.T) {
	svc, _ := newTestService(t)

	next := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(next, "index.md"), []byte("# Second\n"), 0o644))

	require.NoError(t, svc.SetBase(next))

	resp, err := http.Get(svc.URL() + "/index.md")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Second")
}
