package agent

import (
	"encoding/json"
	"strings"
)

// ExtractJSON finds a JSON object or array in LLM response text. Models
// often wrap their output in markdown fences or surround it with prose.
func ExtractJSON(text string) string {
	// 1. Try fenced JSON block: ```json\n...\n```
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + 7
		// Skip optional newline after ```json
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if candidate != "" {
				return candidate
			}
		}
	}

	// 2. Try generic fenced block: ```\n...\n```
	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSON(candidate) {
				return candidate
			}
		}
	}

	// 3. Try raw JSON: find first { or [ and match closing
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			candidate := extractBalanced(text[i:])
			if candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}

	return ""
}

func isJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// extractBalanced extracts a balanced JSON structure from the start of the string.
func extractBalanced(s string) string {
	if len(s) == 0 {
		return ""
	}

	open := s[0]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			escaped = false
			continue
		}

		if ch == '\\' && inString {
			escaped = true
			continue
		}

		if ch == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		if ch == open {
			depth++
		} else if ch == close {
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}

	return ""
}
