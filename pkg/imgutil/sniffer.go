package imgutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype/matchers"
)

// Kind identifies a detected image type. The zero value means the content
// did not match any known signature.
type Kind int

const (
	KindUnknown Kind = iota
	KindJPEG
	KindBMP
	KindGIF
	KindPNG
)

func (k Kind) String() string {
	switch k {
	case KindJPEG:
		return "jpeg"
	case KindBMP:
		return "bmp"
	case KindGIF:
		return "gif"
	case KindPNG:
		return "png"
	default:
		return "unknown"
	}
}

// Extension returns the lower-case file extension written for k, including the dot.
func (k Kind) Extension() string {
	switch k {
	case KindJPEG:
		return ".jpg"
	case KindBMP:
		return ".bmp"
	case KindGIF:
		return ".gif"
	case KindPNG:
		return ".png"
	default:
		return ""
	}
}

func (k Kind) MIME() string {
	switch k {
	case KindJPEG:
		return matchers.TypeJpeg.MIME.Value
	case KindBMP:
		return matchers.TypeBmp.MIME.Value
	case KindGIF:
		return matchers.TypeGif.MIME.Value
	case KindPNG:
		return matchers.TypePng.MIME.Value
	default:
		return ""
	}
}

// HeaderSize is the length of the longest known signature.
const HeaderSize = 8

var (
	jpegSig = []byte{0xff, 0xd8}
	bmpSig  = []byte{0x42, 0x4d}
	gifSig  = []byte{0x47, 0x49, 0x46}
	pngSig  = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
)

var imageExtensions = map[string]struct{}{
	".jpg": {},
	".png": {},
	".bmp": {},
	".gif": {},
}

// HasImageExtension reports whether path ends in one of the accepted image
// extensions, ignoring case. It never touches the file.
func HasImageExtension(path string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// DetectHeader classifies header by its first byte and then requires the
// whole signature of that family. Headers shorter than HeaderSize never match.
func DetectHeader(header []byte) (Kind, bool) {
	if len(header) < HeaderSize {
		return KindUnknown, false
	}

	var (
		kind Kind
		sig  []byte
	)
	switch header[0] {
	case 0xff:
		kind, sig = KindJPEG, jpegSig
	case 0x42:
		kind, sig = KindBMP, bmpSig
	case 0x47:
		kind, sig = KindGIF, gifSig
	case 0x89:
		kind, sig = KindPNG, pngSig
	default:
		return KindUnknown, false
	}

	if !hasPrefix(header, sig) {
		return KindUnknown, false
	}
	return kind, true
}

// ReadHeader reads up to HeaderSize bytes from r. A short stream is not an
// error; the returned slice holds whatever was available.
func ReadHeader(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return header[:n], nil
}

// Classify reads the start of r and reports the matching image kind.
// Read failures are reported as no match.
func Classify(r io.Reader) (Kind, bool) {
	header, err := ReadHeader(r)
	if err != nil {
		return KindUnknown, false
	}
	return DetectHeader(header)
}

// SniffFile opens path and classifies its content.
func SniffFile(path string) (Kind, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindUnknown, false, err
	}
	defer f.Close()

	header, err := ReadHeader(f)
	if err != nil {
		return KindUnknown, false, err
	}
	kind, ok := DetectHeader(header)
	return kind, ok, nil
}

func hasPrefix(buf, prefix []byte) bool {
	if len(buf) < len(prefix) {
		return false
	}
	for i := range prefix {
		if buf[i] != prefix[i] {
			return false
		}
	}
	return true
}
