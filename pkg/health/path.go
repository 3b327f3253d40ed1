package health

import (
	"strconv"
	"strings"
)

// normalizePath collapses dynamic ID segments (UUIDs, numeric IDs, and
// other mixed-alphanumeric identifiers) to ":id", grounded on the
// teacher's pkg/contextapi/server normalizePath cardinality guard so
// future per-route metrics never explode on unbounded label values.
func normalizePath(path string) string {
	segments := splitPath(path)
	trailingSlash := strings.HasSuffix(path, "/") && path != "/"

	for i, seg := range segments {
		if seg != "" && looksLikeID(seg) {
			segments[i] = ":id"
		}
	}

	result := "/" + strings.Join(segments, "/")
	if trailingSlash && !strings.HasSuffix(result, "/") {
		result += "/"
	}
	return result
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return []string{}
	}
	return strings.Split(trimmed, "/")
}

func looksLikeID(seg string) bool {
	if _, err := strconv.Atoi(seg); err == nil {
		return true
	}
	hasDigit, hasHyphen := false, false
	for _, r := range seg {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '-':
			hasHyphen = true
		}
	}
	return hasDigit && (hasHyphen || len(seg) >= 8)
}
