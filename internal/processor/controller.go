package processor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"reimage/internal/logging"
)

// Params are the user facing options for a run, before validation.
type Params struct {
	SourceDir  string
	Recurse    bool
	Resize     bool
	MaxAxis    int
	Rename     bool
	RenameText string
	Format     TargetFormat
	Backup     bool
}

func (p Params) Validate() error {
	if strings.TrimSpace(p.SourceDir) == "" {
		return fmt.Errorf("%w: source directory is required", ErrInvalidParams)
	}
	info, err := os.Stat(p.SourceDir)
	if err != nil {
		return fmt.Errorf("%w: source directory: %v", ErrInvalidParams, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidParams, p.SourceDir)
	}
	if p.Resize && (p.MaxAxis < MinMaxAxis || p.MaxAxis > MaxMaxAxis) {
		return fmt.Errorf("%w: max axis must be between %d and %d, got %d", ErrInvalidParams, MinMaxAxis, MaxMaxAxis, p.MaxAxis)
	}
	if p.Rename {
		if p.RenameText == "" {
			return fmt.Errorf("%w: rename text is required", ErrInvalidParams)
		}
		if strings.ContainsAny(p.RenameText, `/\`) {
			return fmt.Errorf("%w: rename text %q must not contain a path separator", ErrInvalidParams, p.RenameText)
		}
	}
	return nil
}

// Request turns validated params into a run request.
func (p Params) Request() TransformRequest {
	req := TransformRequest{
		ID:      uuid.NewString(),
		Root:    p.SourceDir,
		Recurse: p.Recurse,
		MaxAxis: NoResize,
		Format:  p.Format,
		Backup:  p.Backup,
	}
	if p.Resize {
		req.MaxAxis = p.MaxAxis
	}
	if p.Rename {
		req.RenamePrefix = p.RenameText
	}
	return req
}

// Controller is the entry point used by the command line and the dashboard.
type Controller struct {
	scheduler *Scheduler
	log       *logging.Logger
}

func NewController(scheduler *Scheduler, log *logging.Logger) *Controller {
	if log == nil {
		log = logging.NewNop()
	}
	return &Controller{scheduler: scheduler, log: log}
}

// Start validates p and launches a run, replacing any run in progress. It
// returns the run ID.
func (c *Controller) Start(ctx context.Context, p Params) (string, error) {
	if err := p.Validate(); err != nil {
		c.log.Warnw("run rejected", "error", err)
		return "", err
	}

	req := p.Request()
	c.scheduler.Start(ctx, req)
	return req.ID, nil
}

func (c *Controller) Stop() {
	c.log.Infow("stop requested")
	c.scheduler.Stop()
}

func (c *Controller) Status() Status {
	return c.scheduler.Status()
}

// StatusLine renders the status as "Running Dirs:n, Files:n" or
// "Finished Dirs:n, Files:n".
func (c *Controller) StatusLine() string {
	return c.scheduler.Status().String()
}

func (c *Controller) IsRunning() bool {
	return c.scheduler.Running()
}

func (c *Controller) Wait() {
	c.scheduler.Wait()
}

func (c *Controller) Shutdown() {
	c.scheduler.Shutdown()
}
