package processor

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sort"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"

	"reimage/pkg/imgutil"
)

const (
	categoryGPS       = "GPS"
	categoryModel     = "Device Model"
	categoryTimestamp = "Timestamp"
	categorySerial    = "Serial Number"
	categoryText      = "Text"
	categoryColour    = "Colour Profile"
)

// maxTextChunk bounds the text chunk payload read into memory. Larger chunks
// are counted but skipped.
const maxTextChunk = 1 << 20

var pngSignature = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

// metadata is what a file carries besides pixels. Rewriting the file drops
// all of it.
type metadata struct {
	found  map[string]bool
	values map[string][]string
}

func newMetadata() *metadata {
	return &metadata{
		found:  map[string]bool{},
		values: map[string][]string{},
	}
}

func (m *metadata) add(key, value string) {
	if key == "" {
		return
	}
	m.values[key] = append(m.values[key], value)
}

// Categories returns the sorted category names found.
func (m *metadata) Categories() []string {
	categories := make([]string, 0, len(m.found))
	for c := range m.found {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	return categories
}

func inspectMetadata(path string, kind imgutil.Kind) (*metadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readMetadata(file, kind)
}

func readMetadata(rs io.ReadSeeker, kind imgutil.Kind) (*metadata, error) {
	md := newMetadata()
	switch kind {
	case imgutil.KindJPEG:
		if err := scanExif(rs, md); err != nil {
			return nil, err
		}
	case imgutil.KindPNG:
		if err := scanExif(rs, md); err != nil {
			return nil, err
		}
		if err := scanPNGChunks(rs, md); err != nil {
			return nil, err
		}
	}
	return md, nil
}

func scanExif(rs io.ReadSeeker, md *metadata) error {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return err
	}

	tags, _, err := exif.GetFlatExifDataUniversalSearchWithReadSeeker(rs, nil, true)
	if err != nil {
		if errorsIsNoExif(err) {
			return nil
		}
		return err
	}

	found := md.found
	for _, tag := range tags {
		name := tag.TagName
		md.add(name, tag.Formatted)
		switch {
		case strings.HasPrefix(name, "GPS") || strings.Contains(tag.IfdPath, "GPS"):
			found[categoryGPS] = true
		case name == "Model" || name == "Make":
			found[categoryModel] = true
		case name == "DateTimeOriginal" || name == "DateTimeDigitized" || name == "DateTime":
			found[categoryTimestamp] = true
		case strings.Contains(strings.ToLower(name), "serial"):
			found[categorySerial] = true
		}
	}
	return nil
}

func errorsIsNoExif(err error) bool {
	if errors.Is(err, exif.ErrNoExif) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no exif")
}

func scanPNGChunks(rs io.ReadSeeker, md *metadata) error {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return err
	}

	br := bufio.NewReader(rs)
	sig := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(br, sig); err != nil {
		return err
	}
	if !bytes.Equal(sig, pngSignature) {
		return errors.New("invalid PNG signature")
	}

	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(br, lenBuf); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		length := binary.BigEndian.Uint32(lenBuf)

		chunkType := make([]byte, 4)
		if _, err := io.ReadFull(br, chunkType); err != nil {
			return err
		}
		chunkName := string(chunkType)

		switch chunkName {
		case "tEXt", "zTXt", "iTXt":
			if length > maxTextChunk {
				md.found[categoryText] = true
				if _, err := io.CopyN(io.Discard, br, int64(length)+4); err != nil {
					return err
				}
				continue
			}
			data := make([]byte, length)
			if _, err := io.ReadFull(br, data); err != nil {
				return err
			}
			if _, err := io.CopyN(io.Discard, br, 4); err != nil {
				return err
			}
			key, value := pngText(chunkName, data)
			md.add(key, value)
			classifyPNGKey(md.found, key)
		case "iCCP", "sRGB", "gAMA", "cHRM":
			md.found[categoryColour] = true
			md.add(pngChunkKey(chunkName), "")
			if _, err := io.CopyN(io.Discard, br, int64(length)+4); err != nil {
				return err
			}
		case "tIME":
			md.found[categoryTimestamp] = true
			if _, err := io.CopyN(io.Discard, br, int64(length)+4); err != nil {
				return err
			}
		default:
			if _, err := io.CopyN(io.Discard, br, int64(length)+4); err != nil {
				return err
			}
		}

		if chunkName == "IEND" {
			return nil
		}
	}
}

// pngText splits a text chunk into its keyword and, for uncompressed tEXt,
// its value.
func pngText(chunkName string, data []byte) (string, string) {
	idx := bytes.IndexByte(data, 0)
	if idx <= 0 {
		return "", ""
	}
	key := string(data[:idx])
	if chunkName != "tEXt" {
		return key, ""
	}
	return key, string(data[idx+1:])
}

func classifyPNGKey(found map[string]bool, key string) {
	if key == "" {
		return
	}
	lower := strings.ToLower(key)
	switch {
	case strings.Contains(lower, "gps") || strings.Contains(lower, "latitude") || strings.Contains(lower, "longitude"):
		found[categoryGPS] = true
	case strings.Contains(lower, "model") || strings.Contains(lower, "make"):
		found[categoryModel] = true
	case strings.Contains(lower, "date") || strings.Contains(lower, "time"):
		found[categoryTimestamp] = true
	default:
		found[categoryText] = true
	}
}
