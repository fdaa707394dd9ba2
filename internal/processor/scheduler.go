package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"reimage/internal/logging"
)

// Metrics receives run and per-file events. Implementations must be safe
// for use from the worker goroutine.
type Metrics interface {
	RunStarted() (finish func(cancelled bool))
	DirVisited()
	FileProcessed(action Action, took time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RunStarted() func(bool) { return func(bool) {} }

func (nopMetrics) DirVisited() {}

func (nopMetrics) FileProcessed(Action, time.Duration) {}

// Scheduler owns at most one background worker that walks a directory tree
// and hands every file to a FileTransformer.
type Scheduler struct {
	transformer FileTransformer
	log         *logging.Logger
	metrics     Metrics

	startMu sync.Mutex

	handleMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}

	id      atomic.Value
	running atomic.Bool
	dirs    atomic.Int64
	files   atomic.Int64
	images  atomic.Int64
	failed  atomic.Int64
}

type SchedulerOption func(*Scheduler)

func WithMetrics(m Metrics) SchedulerOption {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

func NewScheduler(t FileTransformer, log *logging.Logger, opts ...SchedulerOption) *Scheduler {
	if log == nil {
		log = logging.NewNop()
	}
	s := &Scheduler{
		transformer: t,
		log:         log,
		metrics:     nopMetrics{},
	}
	s.id.Store("")
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start cancels and joins any running worker, resets the counters and
// launches a new worker for req.
func (s *Scheduler) Start(ctx context.Context, req TransformRequest) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.Stop()
	s.Wait()

	s.dirs.Store(0)
	s.files.Store(0)
	s.images.Store(0)
	s.failed.Store(0)
	s.id.Store(req.ID)

	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.handleMu.Lock()
	s.cancel = cancel
	s.done = done
	s.handleMu.Unlock()

	s.running.Store(true)
	go s.work(wctx, cancel, req, done)
}

// Stop asks the worker to finish at its next checkpoint. It does not block.
func (s *Scheduler) Stop() {
	s.handleMu.Lock()
	cancel := s.cancel
	s.handleMu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the current worker, if any, has exited.
func (s *Scheduler) Wait() {
	s.handleMu.Lock()
	done := s.done
	s.handleMu.Unlock()

	if done != nil {
		<-done
	}
}

// Shutdown stops the worker and waits for it.
func (s *Scheduler) Shutdown() {
	s.Stop()
	s.Wait()
}

func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	return Status{
		ID:      s.id.Load().(string),
		Running: s.running.Load(),
		Dirs:    s.dirs.Load(),
		Files:   s.files.Load(),
		Images:  s.images.Load(),
		Failed:  s.failed.Load(),
	}
}

func (s *Scheduler) work(ctx context.Context, cancel context.CancelFunc, req TransformRequest, done chan struct{}) {
	defer close(done)
	defer s.running.Store(false)
	defer cancel()

	log := s.log.With("run", req.ID)
	finish := s.metrics.RunStarted()

	defer func() {
		if pnk := recover(); pnk != nil {
			log.Errorw("walk aborted",
				"error", fmt.Errorf("panic at runtime: %v", pnk),
			)
		}
		finish(ctx.Err() != nil)
	}()

	log.Infow("run started",
		"root", req.Root,
		"recurse", req.Recurse,
		"max_axis", req.MaxAxis,
		"rename", req.RenamePrefix,
		"format", req.Format,
		"backup", req.Backup,
	)

	s.walk(ctx, log, req.Root, req)

	st := s.Status()
	if ctx.Err() != nil {
		log.Infow("run cancelled",
			"dirs", st.Dirs,
			"files", st.Files,
			"images", st.Images,
			"failed", st.Failed,
		)
		return
	}
	log.Infow("run finished",
		"dirs", st.Dirs,
		"files", st.Files,
		"images", st.Images,
		"failed", st.Failed,
	)
}

// walk processes the files of dir before descending into its
// subdirectories. A directory that cannot be listed is skipped.
func (s *Scheduler) walk(ctx context.Context, log *logging.Logger, dir string, req TransformRequest) {
	if filepath.Base(dir) == BackupDirName {
		log.Debugw("skipping backup directory", "dir", dir)
		return
	}

	s.dirs.Add(1)
	s.metrics.DirVisited()

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warnw("cannot read directory, skipping subtree",
			"dir", dir,
			"error", err,
		)
		return
	}
	log.Nanow("directory listed", "dir", dir, "entries", len(entries))

	var subdirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			subdirs = append(subdirs, filepath.Join(dir, entry.Name()))
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		s.processFile(log, filepath.Join(dir, entry.Name()), req)
	}

	if !req.Recurse {
		return
	}

	for _, sub := range subdirs {
		if ctx.Err() != nil {
			return
		}
		if filepath.Base(sub) == BackupDirName {
			continue
		}
		s.walk(ctx, log, sub, req)
	}
}

func (s *Scheduler) processFile(log *logging.Logger, path string, req TransformRequest) {
	s.files.Add(1)

	start := time.Now()
	out := s.transformer.Transform(path, req, int(s.images.Load()))

	switch {
	case out.Transformed():
		s.images.Add(1)
	case out.Action == ActionFailed:
		s.failed.Add(1)
		log.Errorw("transform failed",
			"path", path,
			"error", out.Err,
		)
	}

	s.metrics.FileProcessed(out.Action, time.Since(start))
}
