package processor

import (
	"fmt"
	"strings"
)

// pngColourChunks carry colour management that the encoder does not write
// back.
var pngColourChunks = []string{"iCCP", "sRGB", "gAMA", "cHRM"}

// buildInsights describes what a rewrite of the file loses beyond the
// category list.
func buildInsights(values map[string][]string) []ScanInsight {
	if len(values) == 0 {
		return nil
	}

	var insights []ScanInsight
	if in, ok := orientationInsight(values); ok {
		insights = append(insights, in)
	}
	if in, ok := colourInsight(values); ok {
		insights = append(insights, in)
	}
	if in, ok := captureInsight(values); ok {
		insights = append(insights, in)
	}

	insights = append(insights, ScanInsight{
		Kind:    "Dropped",
		Message: fmt.Sprintf("%d metadata entries", countEntries(values)),
	})
	return insights
}

// orientationInsight flags files that rely on the EXIF rotation flag. Pixels
// are written as stored, so such images come out turned.
func orientationInsight(values map[string][]string) (ScanInsight, bool) {
	raw := strings.Trim(firstValue(values, "Orientation"), "[] ")
	if raw == "" || raw == "1" {
		return ScanInsight{}, false
	}
	return ScanInsight{
		Kind:    "Orientation",
		Message: fmt.Sprintf("rotation flag %s is lost, image may display turned", raw),
	}, true
}

func colourInsight(values map[string][]string) (ScanInsight, bool) {
	var chunks []string
	for _, name := range pngColourChunks {
		if _, ok := values[pngChunkKey(name)]; ok {
			chunks = append(chunks, name)
		}
	}
	if len(chunks) == 0 {
		return ScanInsight{}, false
	}
	return ScanInsight{
		Kind:    "Colour",
		Message: "profile chunks " + strings.Join(chunks, ", ") + " are lost",
	}, true
}

func captureInsight(values map[string][]string) (ScanInsight, bool) {
	var ts string
	for _, key := range []string{"DateTimeOriginal", "DateTimeDigitized", "DateTime"} {
		if ts = firstValue(values, key); ts != "" {
			break
		}
	}
	if ts == "" {
		return ScanInsight{}, false
	}

	// EXIF writes dates as 2006:01:02 15:04:05
	if len(ts) >= 10 {
		ts = strings.ReplaceAll(ts[:10], ":", "-") + ts[10:]
	}
	return ScanInsight{
		Kind:    "Captured",
		Message: ts + " is lost, only the file time remains",
	}, true
}

func countEntries(values map[string][]string) int {
	n := 0
	for _, list := range values {
		n += len(list)
	}
	return n
}

func firstValue(values map[string][]string, key string) string {
	if list, ok := values[key]; ok && len(list) > 0 {
		return list[0]
	}
	return ""
}

func pngChunkKey(name string) string {
	return "png:" + name
}
