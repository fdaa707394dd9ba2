package processor

import (
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/multierr"

	"reimage/internal/logging"
	"reimage/pkg/imgutil"
)

// FileTransformer applies a request to a single file.
type FileTransformer interface {
	Transform(path string, req TransformRequest, seq int) Outcome
}

type Transformer struct {
	log *logging.Logger
}

func NewTransformer(log *logging.Logger) *Transformer {
	if log == nil {
		log = logging.NewNop()
	}
	return &Transformer{log: log}
}

type source struct {
	kind    imgutil.Kind
	matched bool
	img     image.Image
	mode    fs.FileMode
}

// Transform decides what path needs and applies it. I/O problems surface as
// ActionFailed; everything else is a normal outcome.
func (t *Transformer) Transform(path string, req TransformRequest, seq int) (out Outcome) {
	if !imgutil.HasImageExtension(path) {
		t.log.Nanow("not an image extension", "path", path)
		return skipped(path, ReasonNotImage)
	}

	defer func() {
		if pnk := recover(); pnk != nil {
			out = failed(path, multierr.Append(fmt.Errorf("panic at runtime: %v", pnk), out.Err))
		}
	}()

	src, err := load(path)
	if err != nil {
		return failed(path, err)
	}
	if !src.matched {
		t.log.Debugw("content is not an image", "path", path)
		return skipped(path, ReasonNotImage)
	}

	log := t.log.With("path", path)
	bounds := src.img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	log.Infow("processing",
		"kind", src.kind,
		"width", width,
		"height", height,
	)

	saveKind := src.kind
	needsRewrite := false

	if target, ok := req.Format.Kind(); ok && target != src.kind {
		saveKind = target
		needsRewrite = true
		log.Infow("file type changed",
			"from", src.kind,
			"to", target,
		)
	}

	img := src.img
	if req.resizeEnabled() {
		if w, h, ok := ScaleToFit(width, height, req.MaxAxis); ok {
			needsRewrite = true
			log.Infow(fmt.Sprintf("resized from %d,%d to %d,%d", width, height, w, h))
			img = imaging.Resize(img, w, h, imaging.Lanczos)
		}
	}

	if !needsRewrite {
		if req.RenamePrefix == "" {
			log.Infow("no change needed")
			return skipped(path, ReasonNoChange)
		}
		return t.rename(log, path, req, seq)
	}

	return t.rewrite(log, path, img, src, saveKind, req, seq)
}

// ScaleToFit returns the dimensions of w x h scaled by a single factor so that
// neither axis exceeds limit. ok is false when the image already fits.
func ScaleToFit(w, h, limit int) (int, int, bool) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h, false
	}

	scale := math.Min(float64(limit)/float64(w), float64(limit)/float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	if nw > limit {
		nw = limit
	}
	if nh > limit {
		nh = limit
	}
	return nw, nh, true
}

func load(path string) (src source, err error) {
	file, err := os.Open(path)
	if err != nil {
		return src, err
	}
	defer func() {
		err = multierr.Append(err, file.Close())
	}()

	info, err := file.Stat()
	if err != nil {
		return src, err
	}
	src.mode = info.Mode().Perm()

	header, err := imgutil.ReadHeader(file)
	if err != nil {
		return src, err
	}
	src.kind, src.matched = imgutil.DetectHeader(header)
	if !src.matched {
		return src, nil
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return src, err
	}
	src.img, err = imaging.Decode(file)
	if err != nil {
		return src, fmt.Errorf("decode %s: %w", src.kind, err)
	}
	return src, nil
}

func (t *Transformer) rename(log *logging.Logger, path string, req TransformRequest, seq int) Outcome {
	dest := filepath.Join(filepath.Dir(path), req.RenamePrefix+strconv.Itoa(seq)+filepath.Ext(path))
	if err := checkDestination(path, dest); err != nil {
		return failed(path, err)
	}

	if req.Backup {
		if err := t.backup(log, path); err != nil {
			return failed(path, err)
		}
	}

	if dest == path {
		log.Debugw("already carries the requested name")
		return Outcome{Action: ActionRenamed, Path: dest}
	}

	if err := os.Rename(path, dest); err != nil {
		return failed(path, err)
	}
	log.Infow("renamed", "to", dest)
	return Outcome{Action: ActionRenamed, Path: dest}
}

func (t *Transformer) rewrite(log *logging.Logger, path string, img image.Image, src source, kind imgutil.Kind, req TransformRequest, seq int) Outcome {
	dir := filepath.Dir(path)
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + kind.Extension()
	if req.RenamePrefix != "" {
		name = req.RenamePrefix + strconv.Itoa(seq) + kind.Extension()
	}
	dest := filepath.Join(dir, name)

	if err := checkDestination(path, dest); err != nil {
		return failed(path, err)
	}

	t.warnMetadata(log, path, src.kind)

	if req.Backup {
		if err := t.backup(log, path); err != nil {
			return failed(path, err)
		}
	}

	tmp, err := writeTemp(dir, img, kind, src.mode)
	if err != nil {
		return failed(path, err)
	}

	if err := moveFile(tmp, dest); err != nil {
		if _, statErr := os.Stat(path); statErr != nil {
			log.Errorw("original is gone, converted copy kept",
				"tmp", tmp,
				"error", err,
			)
			return failed(path, err)
		}
		return failed(path, multierr.Append(err, os.Remove(tmp)))
	}
	if dest != path && !sameFile(path, dest) {
		if err := os.Remove(path); err != nil {
			log.Warnw("original could not be removed", "as", dest, "error", err)
			return failed(path, err)
		}
	}

	log.Infow("saved", "as", dest, "kind", kind)
	return Outcome{Action: ActionConverted, Path: dest}
}

func (t *Transformer) warnMetadata(log *logging.Logger, path string, kind imgutil.Kind) {
	md, err := inspectMetadata(path, kind)
	if err != nil {
		log.Debugw("metadata inspection failed", "error", err)
		return
	}
	if categories := md.Categories(); len(categories) > 0 {
		log.Warnw("metadata will not be preserved", "categories", categories)
	}
}

// sameFile reports whether a and b name the same file, as they do for a
// case-only rename on a case-insensitive filesystem.
func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

// checkDestination refuses to clobber a file that is not the source itself.
func checkDestination(src, dest string) error {
	if dest == src {
		return nil
	}

	destInfo, err := os.Stat(dest)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	if srcInfo, err := os.Stat(src); err == nil && os.SameFile(srcInfo, destInfo) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDestinationExists, dest)
}
