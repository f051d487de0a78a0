package probe

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/JakeFAU/fetchgate/internal/media"
)

// MapMetadata converts the extractor's response into Metadata. It never
// fails: missing or malformed fields map to zero values. For collections only
// the first entry is inspected. The size estimate is the largest of the
// direct size, the approximate size, and every declared format size.
func MapMetadata(raw map[string]any) media.Metadata {
	info := firstEntry(raw)
	if info == nil {
		return media.Metadata{}
	}

	meta := media.Metadata{Title: stringField(info, "title")}
	best := max(intField(info, "filesize"), intField(info, "filesize_approx"))

	formats, _ := info["formats"].([]any)
	for _, f := range formats {
		entry, ok := f.(map[string]any)
		if !ok {
			continue
		}
		size := max(intField(entry, "filesize"), intField(entry, "filesize_approx"))
		meta.Formats = append(meta.Formats, media.Format{
			ID:        stringField(entry, "format_id"),
			Ext:       stringField(entry, "ext"),
			SizeBytes: size,
		})
		best = max(best, size)
	}

	meta.EstimatedSizeBytes = best
	return meta
}

func firstEntry(raw map[string]any) map[string]any {
	if raw == nil {
		return nil
	}
	entries, ok := raw["entries"].([]any)
	if !ok {
		return raw
	}
	for _, e := range entries {
		if entry, ok := e.(map[string]any); ok {
			return entry
		}
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int64 {
	var v float64
	switch n := m[key].(type) {
	case float64:
		v = n
	case int:
		return max(int64(n), 0)
	case int64:
		return max(n, 0)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		v = f
	default:
		return 0
	}
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(math.Ceil(v))
}
