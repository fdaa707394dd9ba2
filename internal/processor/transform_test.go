package processor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"reimage/internal/logging"
	"reimage/pkg/imgutil"
)

func TestTransformResizesAndBacksUp(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.jpg")
	writeImage(t, src, 800, 600)
	original, err := os.ReadFile(src)
	require.NoError(t, err)

	tr := NewTransformer(nil)
	out := tr.Transform(src, TransformRequest{MaxAxis: 400, Backup: true}, 0)
	require.Equal(t, ActionConverted, out.Action, "err: %v", out.Err)
	assert.Equal(t, src, out.Path)

	img, err := imaging.Open(src)
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Equal(t, 300, img.Bounds().Dy())

	backup, err := os.ReadFile(filepath.Join(dir, BackupDirName, "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, original, backup)

	again := tr.Transform(src, TransformRequest{MaxAxis: 400, Backup: true}, 1)
	assert.Equal(t, ActionSkipped, again.Action)
	assert.Equal(t, ReasonNoChange, again.Reason)
}

func TestTransformSkipsNonImages(t *testing.T) {
	dir := t.TempDir()

	text := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(text, []byte("hello"), 0o644))

	disguised := filepath.Join(dir, "fake.jpg")
	require.NoError(t, os.WriteFile(disguised, []byte("definitely not a jpeg"), 0o644))

	tr := NewTransformer(nil)
	req := TransformRequest{MaxAxis: 10, RenamePrefix: "x", Format: FormatPNG, Backup: true}

	for _, path := range []string{text, disguised, filepath.Join(dir, "missing.txt")} {
		out := tr.Transform(path, req, 0)
		assert.Equal(t, ActionSkipped, out.Action, path)
		assert.Equal(t, ReasonNotImage, out.Reason, path)
		assert.NoError(t, out.Err, path)
	}

	data, err := os.ReadFile(disguised)
	require.NoError(t, err)
	assert.Equal(t, "definitely not a jpeg", string(data))
	assert.NoDirExists(t, filepath.Join(dir, BackupDirName))
}

func TestTransformConvertsAndRenames(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.jpg")
	writeImage(t, src, 32, 24)

	tr := NewTransformer(nil)
	out := tr.Transform(src, TransformRequest{RenamePrefix: "pic", Format: FormatPNG}, 0)
	require.Equal(t, ActionConverted, out.Action, "err: %v", out.Err)

	dest := filepath.Join(dir, "pic0.png")
	assert.Equal(t, dest, out.Path)
	assert.NoFileExists(t, src)

	kind, ok, err := imgutil.SniffFile(dest)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, imgutil.KindPNG, kind)
}

func TestTransformTargetFormats(t *testing.T) {
	tests := []struct {
		format TargetFormat
		name   string
		kind   imgutil.Kind
	}{
		{FormatJPEG, "a.jpg", imgutil.KindJPEG},
		{FormatBMP, "a.bmp", imgutil.KindBMP},
		{FormatGIF, "a.gif", imgutil.KindGIF},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "a.png")
			writeImage(t, src, 16, 16)

			out := NewTransformer(nil).Transform(src, TransformRequest{Format: tt.format}, 0)
			require.Equal(t, ActionConverted, out.Action, "err: %v", out.Err)
			assert.Equal(t, filepath.Join(dir, tt.name), out.Path)
			assert.NoFileExists(t, src)

			kind, ok, err := imgutil.SniffFile(out.Path)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestTransformSameFormatIsNoChange(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.png")
	writeImage(t, src, 16, 16)

	out := NewTransformer(nil).Transform(src, TransformRequest{Format: FormatPNG, MaxAxis: 16}, 0)
	assert.Equal(t, ActionSkipped, out.Action)
	assert.Equal(t, ReasonNoChange, out.Reason)
}

func TestTransformRenameOnly(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "holiday.jpg")
	writeImage(t, src, 16, 16)
	original, err := os.ReadFile(src)
	require.NoError(t, err)

	tr := NewTransformer(nil)
	req := TransformRequest{RenamePrefix: "pic", Backup: true}

	out := tr.Transform(src, req, 3)
	require.Equal(t, ActionRenamed, out.Action, "err: %v", out.Err)

	dest := filepath.Join(dir, "pic3.jpg")
	assert.Equal(t, dest, out.Path)
	assert.NoFileExists(t, src)

	renamed, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, original, renamed)
	assert.FileExists(t, filepath.Join(dir, BackupDirName, "holiday.jpg"))

	again := tr.Transform(dest, req, 3)
	assert.Equal(t, ActionRenamed, again.Action)
	assert.Equal(t, dest, again.Path)
}

func TestTransformKeepsEarlierBackup(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.jpg")
	writeImage(t, src, 100, 50)

	backupDir := filepath.Join(dir, BackupDirName)
	require.NoError(t, os.MkdirAll(backupDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(backupDir, "a.jpg"), []byte("earlier"), 0o644))

	core, logs := observer.New(zapcore.DebugLevel)
	tr := NewTransformer(logging.NewWithCore(core))

	out := tr.Transform(src, TransformRequest{MaxAxis: 50, Backup: true}, 0)
	require.Equal(t, ActionConverted, out.Action, "err: %v", out.Err)

	warned := logs.FilterMessage("backup already exists, keeping earlier copy")
	require.Equal(t, 1, warned.Len())
	assert.Equal(t, zapcore.WarnLevel, warned.All()[0].Level)

	kept, err := os.ReadFile(filepath.Join(backupDir, "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "earlier", string(kept))
}

func TestTransformRefusesToClobber(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.jpg")
	writeImage(t, src, 16, 16)
	original, err := os.ReadFile(src)
	require.NoError(t, err)

	taken := filepath.Join(dir, "pic0.jpg")
	require.NoError(t, os.WriteFile(taken, []byte("someone else"), 0o644))

	out := NewTransformer(nil).Transform(src, TransformRequest{RenamePrefix: "pic", Backup: true}, 0)
	assert.Equal(t, ActionFailed, out.Action)
	assert.ErrorIs(t, out.Err, ErrDestinationExists)

	data, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, original, data)

	other, err := os.ReadFile(taken)
	require.NoError(t, err)
	assert.Equal(t, "someone else", string(other))
	assert.NoDirExists(t, filepath.Join(dir, BackupDirName))
}

func TestTransformCorruptImage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.jpg")
	corrupt := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x02}
	require.NoError(t, os.WriteFile(src, corrupt, 0o644))

	out := NewTransformer(nil).Transform(src, TransformRequest{MaxAxis: 10, Backup: true}, 0)
	assert.Equal(t, ActionFailed, out.Action)
	assert.Error(t, out.Err)

	data, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, corrupt, data)
}

func TestScaleToFit(t *testing.T) {
	tests := []struct {
		name         string
		w, h, limit  int
		wantW, wantH int
		wantResize   bool
	}{
		{"landscape", 800, 600, 400, 400, 300, true},
		{"portrait", 600, 800, 400, 300, 400, true},
		{"fits", 300, 200, 400, 300, 200, false},
		{"exact", 400, 400, 400, 400, 400, false},
		{"one over", 401, 400, 400, 400, 399, true},
		{"thin", 1000, 1, 5, 5, 1, true},
		{"disabled", 5000, 5000, NoResize, 5000, 5000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, ok := ScaleToFit(tt.w, tt.h, tt.limit)
			assert.Equal(t, tt.wantResize, ok)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestParseTargetFormat(t *testing.T) {
	for in, want := range map[string]TargetFormat{
		"":     FormatUnchanged,
		"keep": FormatUnchanged,
		"JPG":  FormatJPEG,
		"jpeg": FormatJPEG,
		"bmp":  FormatBMP,
		"gif":  FormatGIF,
		"png":  FormatPNG,
	} {
		got, err := ParseTargetFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseTargetFormat("tiff")
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func failMove(t *testing.T, move func(tmp, dest string) error) {
	t.Helper()
	prev := moveFile
	moveFile = move
	t.Cleanup(func() { moveFile = prev })
}

func TestTransformFailedMoveKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.jpg")
	writeImage(t, src, 64, 48)
	original, err := os.ReadFile(src)
	require.NoError(t, err)

	failMove(t, func(string, string) error { return errors.New("disk full") })

	out := NewTransformer(nil).Transform(src, TransformRequest{MaxAxis: 32, Format: FormatPNG}, 0)
	assert.Equal(t, ActionFailed, out.Action)
	assert.Error(t, out.Err)

	data, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, original, data)
	assert.NoFileExists(t, filepath.Join(dir, "a.png"))

	leftovers, err := filepath.Glob(filepath.Join(dir, ".reimage-*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestTransformFailedMoveKeepsConvertedCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.jpg")
	writeImage(t, src, 64, 48)

	// the fallback path clears the destination before its second attempt
	failMove(t, func(_, dest string) error {
		_ = os.Remove(dest)
		return errors.New("rename failed")
	})

	core, logs := observer.New(zapcore.DebugLevel)
	out := NewTransformer(logging.NewWithCore(core)).Transform(src, TransformRequest{MaxAxis: 32}, 0)
	assert.Equal(t, ActionFailed, out.Action)
	assert.NoFileExists(t, src)

	kept, err := filepath.Glob(filepath.Join(dir, ".reimage-*.tmp"))
	require.NoError(t, err)
	require.Len(t, kept, 1)

	img, err := imaging.Open(kept[0])
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())

	gone := logs.FilterMessage("original is gone, converted copy kept")
	require.Equal(t, 1, gone.Len())
	assert.Equal(t, kept[0], gone.All()[0].ContextMap()["tmp"])
}
