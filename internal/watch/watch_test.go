package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reimage/internal/processor"
)

type fakeRunner struct {
	mu      sync.Mutex
	starts  atomic.Int32
	running atomic.Bool
	done    chan struct{}
}

func (f *fakeRunner) Start(context.Context, processor.Params) (string, error) {
	f.starts.Add(1)
	f.mu.Lock()
	f.done = make(chan struct{})
	close(f.done)
	f.mu.Unlock()
	return "run", nil
}

func (f *fakeRunner) Wait() {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (f *fakeRunner) IsRunning() bool { return f.running.Load() }

func (f *fakeRunner) Status() processor.Status { return processor.Status{} }

func (f *fakeRunner) Shutdown() {}

func TestWatcherRerunsOnImageChanges(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{}

	w, err := New(runner, processor.Params{SourceDir: root, Recurse: true}, 20*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.starts.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Let the quiet window after the first pass expire.
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.jpg"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool { return runner.starts.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherRejectsInvalidParams(t *testing.T) {
	_, err := New(&fakeRunner{}, processor.Params{}, time.Second, nil)
	assert.ErrorIs(t, err, processor.ErrInvalidParams)
}

func TestHandleEventFilters(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{}
	w, err := New(runner, processor.Params{SourceDir: root}, time.Second, nil)
	require.NoError(t, err)
	defer w.watcher.Close()

	jpg := filepath.Join(root, "a.jpg")
	assert.True(t, w.handleEvent(fsnotify.Event{Name: jpg, Op: fsnotify.Create}))
	assert.True(t, w.handleEvent(fsnotify.Event{Name: jpg, Op: fsnotify.Write}))
	assert.False(t, w.handleEvent(fsnotify.Event{Name: jpg, Op: fsnotify.Remove}))
	assert.False(t, w.handleEvent(fsnotify.Event{Name: filepath.Join(root, "a.txt"), Op: fsnotify.Create}))
	assert.False(t, w.handleEvent(fsnotify.Event{Name: filepath.Join(root, processor.BackupDirName, "a.jpg"), Op: fsnotify.Create}))

	runner.running.Store(true)
	assert.False(t, w.handleEvent(fsnotify.Event{Name: jpg, Op: fsnotify.Create}))

	runner.running.Store(false)
	w.quietUntil = time.Now().Add(time.Hour)
	assert.False(t, w.handleEvent(fsnotify.Event{Name: jpg, Op: fsnotify.Create}))
}

func TestInBackupDir(t *testing.T) {
	assert.True(t, inBackupDir(filepath.Join("a", processor.BackupDirName, "x.jpg")))
	assert.False(t, inBackupDir(filepath.Join("a", "b", "x.jpg")))
}
