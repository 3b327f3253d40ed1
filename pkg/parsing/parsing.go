// Package parsing extracts and repairs the JSON object an LLM response is
// expected to contain. Model output is frequently wrapped in prose or
// markdown fences, or contains trailing commentary after a valid object;
// this package tries progressively looser strategies before giving up.
package parsing

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/opsmail/emailpipeline/pkg/shared/errors"
)

// ExtractJSONObject returns the outermost JSON object found in raw model
// output, trying strategies from strictest to loosest:
//  1. the whole trimmed string is valid JSON.
//  2. a fenced ```json ... ``` or ``` ... ``` block.
//  3. the substring between the first '{' and its matching closing '}'.
func ExtractJSONObject(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)

	if gjson.Valid(trimmed) && strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	if fenced, ok := extractFenced(trimmed); ok {
		candidate := strings.TrimSpace(fenced)
		if gjson.Valid(candidate) {
			return candidate, nil
		}
	}

	if obj, ok := extractBalancedObject(trimmed); ok {
		return obj, nil
	}

	return "", errors.ParseError("model output", "JSON object", errors.FailedTo("locate a JSON object in the response", nil))
}

func extractFenced(text string) (string, bool) {
	const fence = "```"
	start := strings.Index(text, fence)
	if start == -1 {
		return "", false
	}
	rest := text[start+len(fence):]
	// Skip an optional language tag on the opening fence line (e.g. "json").
	if nl := strings.IndexByte(rest, '\n'); nl != -1 && !strings.ContainsAny(rest[:nl], "{}") {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, fence)
	if end == -1 {
		return "", false
	}
	return rest[:end], true
}

// extractBalancedObject scans for the first '{' and returns the substring
// up to its matching '}', respecting string literals so braces inside
// quoted values don't throw off the depth count.
func extractBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal, braces don't affect depth
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if gjson.Valid(candidate) {
					return candidate, true
				}
				return "", false
			}
		}
	}
	return "", false
}

// Get is a thin, named wrapper over gjson.Get so call sites in
// pkg/analyst/pkg/strategist read as domain field access rather than raw
// gjson path syntax scattered through the codebase.
func Get(json, path string) gjson.Result {
	return gjson.Get(json, path)
}
