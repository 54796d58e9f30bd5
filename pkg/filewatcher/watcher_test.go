package filewatcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, dirs []string) (*FileWatcher, chan Event) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	fw, err := New(
		WithLogger(logger),
		WithDirs(dirs),
		WithPatterns([]string{"*.md"}),
		WithDebounce(50), // short debounce for faster testing
	)
	require.NoError(t, err, "Failed to create file watcher")

	changeCh := make(chan Event, 10)
	fw.AddCallback(func(ev Event) {
		changeCh <- ev
	})

	err = fw.Start()
	require.NoError(t, err, "Failed to start file watcher")
	t.Cleanup(func() { fw.Stop() })

	return fw, changeCh
}

func waitForEvent(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file change event")
		return Event{}
	}
}

func TestFileWatcher(t *testing.T) {
	tempDir := t.TempDir()
	_, changeCh := newTestWatcher(t, []string{tempDir})

	testFile := filepath.Join(tempDir, "index.md")
	err := os.WriteFile(testFile, []byte("# Hello"), 0644)
	require.NoError(t, err, "Failed to write test file")

	ev := waitForEvent(t, changeCh)
	assert.Equal(t, testFile, ev.Path)
	assert.False(t, ev.Remove)

	// A file outside the pattern set must not produce an event.
	nonMatching := filepath.Join(tempDir, "notes.txt")
	err = os.WriteFile(nonMatching, []byte("ignored"), 0644)
	require.NoError(t, err)

	select {
	case ev := <-changeCh:
		t.Fatalf("unexpected change event for %s", ev.Path)
	case <-time.After(300 * time.Millisecond):
	}

	err = os.WriteFile(testFile, []byte("# Updated"), 0644)
	require.NoError(t, err)

	ev = waitForEvent(t, changeCh)
	assert.Equal(t, testFile, ev.Path)
}

func TestFileWatcherRemove(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "gone.md")
	require.NoError(t, os.WriteFile(testFile, []byte("# Bye"), 0644))

	_, changeCh := newTestWatcher(t, []string{tempDir})

	require.NoError(t, os.Remove(testFile))

	ev := waitForEvent(t, changeCh)
	assert.Equal(t, testFile, ev.Path)
	assert.True(t, ev.Remove, "removal should be flagged")
}

func TestFileWatcherNewSubdirectory(t *testing.T) {
	tempDir := t.TempDir()
	_, changeCh := newTestWatcher(t, []string{tempDir})

	subDir := filepath.Join(tempDir, "docs")
	require.NoError(t, os.Mkdir(subDir, 0755))

	// Give the watcher a moment to register the new directory.
	time.Sleep(200 * time.Millisecond)

	nested := filepath.Join(subDir, "guide.md")
	require.NoError(t, os.WriteFile(nested, []byte("# Guide"), 0644))

	ev := waitForEvent(t, changeCh)
	assert.Equal(t, nested, ev.Path)
}

func TestFileWatcherSingleFileRoot(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "solo.md")
	require.NoError(t, os.WriteFile(testFile, []byte("# Solo"), 0644))

	_, changeCh := newTestWatcher(t, []string{testFile})

	require.NoError(t, os.WriteFile(testFile, []byte("# Solo v2"), 0644))

	ev := waitForEvent(t, changeCh)
	assert.Equal(t, testFile, ev.Path)
}

func TestSetDirs(t *testing.T) {
	oldDir := t.TempDir()
	newDir := t.TempDir()
	fw, changeCh := newTestWatcher(t, []string{oldDir})

	require.NoError(t, fw.SetDirs([]string{newDir}))

	// Changes under the old root are no longer reported.
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "old.md"), []byte("x"), 0644))
	select {
	case ev := <-changeCh:
		t.Fatalf("unexpected event from old root: %s", ev.Path)
	case <-time.After(300 * time.Millisecond):
	}

	moved := filepath.Join(newDir, "new.md")
	require.NoError(t, os.WriteFile(moved, []byte("y"), 0644))

	ev := waitForEvent(t, changeCh)
	assert.Equal(t, moved, ev.Path)
}
