package types

import (
	"fmt"
	"sort"
	"strings"
)

// Gateway metadata limits. The payment gateway rejects nested metadata, long
// values, and oversized maps, so everything is flattened before it leaves the
// process.
const (
	MetadataMaxKeys     = 50
	MetadataMaxValueLen = 500
)

// Metadata is a bounded flat string map attached to payments and ledger rows.
type Metadata map[string]string

// FlattenMetadata converts an arbitrary string-keyed structure into a flat
// Metadata map. Nested object keys are joined with underscores, arrays are
// comma-joined, values are truncated to MetadataMaxValueLen and at most
// MetadataMaxKeys entries survive (lexicographic order keeps the result
// deterministic).
func FlattenMetadata(input map[string]any) Metadata {
	flat := map[string]string{}
	for key, value := range input {
		flattenInto(flat, key, value)
	}

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > MetadataMaxKeys {
		keys = keys[:MetadataMaxKeys]
	}

	out := make(Metadata, len(keys))
	for _, k := range keys {
		out[k] = truncate(flat[k], MetadataMaxValueLen)
	}
	return out
}

func flattenInto(dst map[string]string, prefix string, value any) {
	switch v := value.(type) {
	case nil:
		dst[prefix] = ""
	case map[string]any:
		for key, nested := range v {
			flattenInto(dst, prefix+"_"+key, nested)
		}
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, stringify(item))
		}
		dst[prefix] = strings.Join(parts, ",")
	default:
		dst[prefix] = stringify(v)
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		// JSON numbers decode as float64; render integers without a decimal point.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
