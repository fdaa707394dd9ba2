package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"reimage/internal/logging"
	"reimage/pkg/imgutil"
)

type ScanInsight struct {
	Kind    string
	Message string
}

// ScanReport describes one image found by a dry run.
type ScanReport struct {
	Path       string
	Kind       imgutil.Kind
	MIME       string
	Width      int
	Height     int
	Categories []string
	Insights   []ScanInsight
	Err        error
}

type scanJob struct {
	path    string
	display string
}

// Scanner walks a tree the way a run would and reports what it finds
// without touching any file.
type Scanner struct {
	log     *logging.Logger
	workers int

	running atomic.Bool
	dirs    atomic.Int64
	files   atomic.Int64
	images  atomic.Int64
	failed  atomic.Int64
}

func NewScanner(log *logging.Logger) *Scanner {
	if log == nil {
		log = logging.NewNop()
	}
	return &Scanner{log: log, workers: runtime.NumCPU()}
}

func (s *Scanner) Status() Status {
	return Status{
		Running: s.running.Load(),
		Dirs:    s.dirs.Load(),
		Files:   s.files.Load(),
		Images:  s.images.Load(),
		Failed:  s.failed.Load(),
	}
}

// Scan reports every image under root sorted by path. A cancelled context
// returns what was collected so far.
func (s *Scanner) Scan(ctx context.Context, root string, recurse bool) ([]ScanReport, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidParams, root)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	s.dirs.Store(0)
	s.files.Store(0)
	s.images.Store(0)
	s.failed.Store(0)
	s.running.Store(true)
	defer s.running.Store(false)

	jobs := make(chan scanJob)
	results := make(chan ScanReport)

	var wg sync.WaitGroup
	wg.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		go func() {
			defer wg.Done()
			s.worker(ctx, jobs, results)
		}()
	}

	var reports []ScanReport
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for rep := range results {
			if rep.Err != nil {
				s.failed.Add(1)
			}
			reports = append(reports, rep)
		}
	}()

	producerErr := make(chan error, 1)
	go func() {
		defer close(jobs)

		sendJob := func(job scanJob) error {
			select {
			case jobs <- job:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fs.WalkDir(os.DirFS(absRoot), ".", func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				if d != nil && d.IsDir() && path != "." {
					s.log.Warnw("cannot read directory, skipping subtree",
						"dir", filepath.Join(absRoot, path),
						"error", walkErr,
					)
					return fs.SkipDir
				}
				return walkErr
			}
			if d.IsDir() {
				if d.Name() == BackupDirName || (!recurse && path != ".") {
					return fs.SkipDir
				}
				s.dirs.Add(1)
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}

			s.files.Add(1)
			if !imgutil.HasImageExtension(path) {
				return nil
			}
			return sendJob(scanJob{
				path:    filepath.Join(absRoot, path),
				display: path,
			})
		})
		producerErr <- err
	}()

	wg.Wait()
	close(results)
	<-collectorDone

	sort.Slice(reports, func(i, j int) bool { return reports[i].Path < reports[j].Path })

	if err := <-producerErr; err != nil && !errors.Is(err, context.Canceled) {
		return reports, err
	}
	return reports, nil
}

func (s *Scanner) worker(ctx context.Context, jobs <-chan scanJob, results chan<- ScanReport) {
	for job := range jobs {
		if ctx.Err() != nil {
			return
		}

		rep, ok := s.scanFile(job)
		if !ok {
			continue
		}
		s.images.Add(1)
		results <- rep
	}
}

func (s *Scanner) scanFile(job scanJob) (rep ScanReport, ok bool) {
	rep.Path = job.display

	file, err := os.Open(job.path)
	if err != nil {
		rep.Err = err
		return rep, true
	}
	defer file.Close()

	kind, matched := imgutil.Classify(file)
	if !matched {
		s.log.Debugw("content is not an image", "path", job.path)
		return rep, false
	}
	rep.Kind = kind
	rep.MIME = kind.MIME()

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		rep.Err = err
		return rep, true
	}
	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		rep.Err = err
		return rep, true
	}
	rep.Width, rep.Height = cfg.Width, cfg.Height

	md, err := readMetadata(file, kind)
	if err != nil {
		rep.Err = err
		return rep, true
	}
	rep.Categories = md.Categories()
	rep.Insights = buildInsights(md.values)
	return rep, true
}
