package processor

import (
	"errors"
	"fmt"
	"strings"

	"reimage/pkg/imgutil"
)

// BackupDirName is the reserved per-directory folder holding original copies.
// The walker never descends into it.
const BackupDirName = "reimage_backup"

// NoResize disables the maximum axis limit.
const NoResize = 0

const (
	MinMaxAxis = 5
	MaxMaxAxis = 32000
)

// JPEGQuality is used for every JPEG written.
const JPEGQuality = 90

var (
	ErrInvalidParams      = errors.New("invalid parameters")
	ErrDestinationExists  = errors.New("destination already exists")
	ErrUnsupportedFormat  = errors.New("unsupported output format")
	errBackupAlreadyTaken = errors.New("backup already exists")
)

// TargetFormat is the requested output format. FormatUnchanged keeps whatever
// format was detected.
type TargetFormat int

const (
	FormatUnchanged TargetFormat = iota
	FormatJPEG
	FormatBMP
	FormatGIF
	FormatPNG
)

func ParseTargetFormat(s string) (TargetFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep", "unchanged", "none":
		return FormatUnchanged, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "bmp":
		return FormatBMP, nil
	case "gif":
		return FormatGIF, nil
	case "png":
		return FormatPNG, nil
	default:
		return FormatUnchanged, fmt.Errorf("%w: unknown format %q", ErrInvalidParams, s)
	}
}

// Kind returns the concrete kind for f, or false for FormatUnchanged.
func (f TargetFormat) Kind() (imgutil.Kind, bool) {
	switch f {
	case FormatJPEG:
		return imgutil.KindJPEG, true
	case FormatBMP:
		return imgutil.KindBMP, true
	case FormatGIF:
		return imgutil.KindGIF, true
	case FormatPNG:
		return imgutil.KindPNG, true
	default:
		return imgutil.KindUnknown, false
	}
}

func (f TargetFormat) String() string {
	if k, ok := f.Kind(); ok {
		return k.String()
	}
	return "unchanged"
}

// TransformRequest describes one run. It is built once and never mutated.
type TransformRequest struct {
	ID           string
	Root         string
	Recurse      bool
	MaxAxis      int
	RenamePrefix string
	Format       TargetFormat
	Backup       bool
}

func (r TransformRequest) resizeEnabled() bool {
	return r.MaxAxis != NoResize
}

type Action int

const (
	ActionSkipped Action = iota
	ActionRenamed
	ActionConverted
	ActionFailed
)

func (a Action) String() string {
	switch a {
	case ActionSkipped:
		return "skipped"
	case ActionRenamed:
		return "renamed"
	case ActionConverted:
		return "converted"
	case ActionFailed:
		return "failed"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

type Reason string

const (
	ReasonNotImage Reason = "not an image"
	ReasonNoChange Reason = "no change needed"
)

// Outcome is the transient result of processing one file.
type Outcome struct {
	Action Action
	Reason Reason
	Path   string
	Err    error
}

// Transformed reports whether the file counts as a transformed image.
func (o Outcome) Transformed() bool {
	return o.Action == ActionRenamed || o.Action == ActionConverted
}

func skipped(path string, reason Reason) Outcome {
	return Outcome{Action: ActionSkipped, Reason: reason, Path: path}
}

func failed(path string, err error) Outcome {
	return Outcome{Action: ActionFailed, Path: path, Err: err}
}

// Status is a point-in-time snapshot of a run.
type Status struct {
	ID      string
	Running bool
	Dirs    int64
	Files   int64
	Images  int64
	Failed  int64
}

func (s Status) String() string {
	state := "Finished"
	if s.Running {
		state = "Running"
	}
	return fmt.Sprintf("%s Dirs:%d, Files:%d", state, s.Dirs, s.Files)
}
