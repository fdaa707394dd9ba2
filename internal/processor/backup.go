package processor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"reimage/internal/logging"
)

// backup copies path into the reserved folder next to it. An existing copy
// from an earlier run is kept and only warned about.
func (t *Transformer) backup(log *logging.Logger, path string) error {
	dir := filepath.Join(filepath.Dir(path), BackupDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("backup dir: %w", err)
	}

	dest := filepath.Join(dir, filepath.Base(path))
	err := copyFile(path, dest)
	switch {
	case errors.Is(err, errBackupAlreadyTaken):
		log.Warnw("backup already exists, keeping earlier copy", "backup", dest)
		return nil
	case err != nil:
		return fmt.Errorf("backup: %w", err)
	}

	log.Infow("backed up", "backup", dest)
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if errors.Is(err, fs.ErrExist) {
		return errBackupAlreadyTaken
	}
	if err != nil {
		return err
	}

	defer func() {
		err = multierr.Append(err, out.Close())
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
