// Package watch re-runs a request whenever images appear or change under
// the watched tree.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"reimage/internal/logging"
	"reimage/internal/processor"
	"reimage/pkg/imgutil"
)

// Runner is the part of the controller the watcher drives.
type Runner interface {
	Start(ctx context.Context, p processor.Params) (string, error)
	Wait()
	IsRunning() bool
	Status() processor.Status
	Shutdown()
}

type Watcher struct {
	runner   Runner
	params   processor.Params
	debounce time.Duration
	log      *logging.Logger
	watcher  *fsnotify.Watcher

	quietUntil time.Time
}

func New(runner Runner, params processor.Params, debounce time.Duration, log *logging.Logger) (*Watcher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if log == nil {
		log = logging.NewNop()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		runner:   runner,
		params:   params,
		debounce: debounce,
		log:      log,
		watcher:  fsWatcher,
	}, nil
}

// Run does an initial pass, then re-runs after each burst of image events
// until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	defer w.runner.Shutdown()

	if err := w.addTree(w.params.SourceDir); err != nil {
		return err
	}

	finished := make(chan struct{}, 1)
	w.startRun(ctx, finished)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case <-finished:
			st := w.runner.Status()
			w.quietUntil = time.Now().Add(w.debounce)
			w.log.Infow("watch pass done",
				"dirs", st.Dirs,
				"files", st.Files,
				"images", st.Images,
				"failed", st.Failed,
			)

		case <-timer.C:
			w.startRun(ctx, finished)

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warnw("watcher error", "error", err)
		}
	}
}

func (w *Watcher) startRun(ctx context.Context, finished chan<- struct{}) {
	id, err := w.runner.Start(ctx, w.params)
	if err != nil {
		w.log.Errorw("watch pass rejected", "error", err)
		return
	}
	w.log.Debugw("watch pass started", "run", id)

	go func() {
		w.runner.Wait()
		select {
		case finished <- struct{}{}:
		default:
		}
	}()
}

// handleEvent reports whether event should trigger a new pass.
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	if inBackupDir(event.Name) {
		return false
	}

	if event.Op.Has(fsnotify.Create) && w.params.Recurse {
		if err := w.addTree(event.Name); err == nil {
			w.log.Nanow("watching new path", "path", event.Name)
		}
	}

	if !imgutil.HasImageExtension(event.Name) {
		return false
	}
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Rename) {
		return false
	}

	// Our own run rewrites and renames files; ignore the echo.
	if w.runner.IsRunning() || time.Now().Before(w.quietUntil) {
		w.log.Nanow("ignoring own change", "path", event.Name)
		return false
	}

	w.log.Debugw("change detected", "path", event.Name, "op", event.Op.String())
	return true
}

// addTree watches root and, when recursing, every directory below it.
// Files are ignored.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.log.Warnw("cannot watch directory", "dir", path, "error", err)
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == processor.BackupDirName || (!w.params.Recurse && path != root) {
			return fs.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch folder %s: %w", path, err)
		}
		w.log.Debugw("watching folder", "dir", path)
		return nil
	})
}

func inBackupDir(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == processor.BackupDirName {
			return true
		}
	}
	return false
}
