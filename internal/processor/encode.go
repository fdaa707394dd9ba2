package processor

import (
	"fmt"
	"image"
	"io"
	"io/fs"
	"os"

	"github.com/disintegration/imaging"
	"go.uber.org/multierr"

	"reimage/pkg/imgutil"
)

func encode(w io.Writer, img image.Image, kind imgutil.Kind) error {
	switch kind {
	case imgutil.KindJPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality))
	case imgutil.KindPNG:
		return imaging.Encode(w, img, imaging.PNG)
	case imgutil.KindBMP:
		return imaging.Encode(w, img, imaging.BMP)
	case imgutil.KindGIF:
		return imaging.Encode(w, img, imaging.GIF)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, kind)
	}
}

// writeTemp encodes img into a temporary file inside dir and returns its path.
func writeTemp(dir string, img image.Image, kind imgutil.Kind, mode fs.FileMode) (path string, err error) {
	tmpFile, err := os.CreateTemp(dir, ".reimage-*.tmp")
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmpFile.Name())
		}
	}()

	if mode != 0 {
		if err := tmpFile.Chmod(mode); err != nil {
			return "", multierr.Append(err, tmpFile.Close())
		}
	}

	if err := encode(tmpFile, img, kind); err != nil {
		return "", multierr.Append(err, tmpFile.Close())
	}

	if err := tmpFile.Sync(); err != nil {
		return "", multierr.Append(err, tmpFile.Close())
	}
	if err := tmpFile.Close(); err != nil {
		return "", err
	}

	return tmpFile.Name(), nil
}

// moveFile puts an encoded temp file in place. Tests swap it to simulate a
// failing filesystem.
var moveFile = replaceFile

func replaceFile(tmpPath, destPath string) error {
	if err := os.Rename(tmpPath, destPath); err == nil {
		return nil
	}
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(tmpPath, destPath)
}
