package parser

import "fmt"

// TruncateString bounds s to max bytes, appending a marker that records
// how large the original value was. Values at or under the limit pass
// through unchanged.
func TruncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("…[truncated %d bytes]", len(s))
}

// TruncateInput returns a copy of a tool input map with every oversized
// string value truncated. Nested maps and slices are walked; the input
// map is never mutated.
func TruncateInput(input map[string]any, max int) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = truncateValue(v, max)
	}
	return out
}

func truncateValue(v any, max int) any {
	switch val := v.(type) {
	case string:
		return TruncateString(val, max)
	case map[string]any:
		return TruncateInput(val, max)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = truncateValue(item, max)
		}
		return out
	default:
		return v
	}
}
