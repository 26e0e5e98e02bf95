package llm

import (
	"regexp"
	"strings"
)

// Precompiled regex patterns (compiled once at package init)
var jsonCodeBlockRegex = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// ExtractJSON extracts JSON content from a completion that may wrap it in
// markdown code blocks, and attempts to close truncated arrays/objects.
func ExtractJSON(s string) string {
	matches := jsonCodeBlockRegex.FindStringSubmatch(s)
	if len(matches) > 1 {
		s = strings.TrimSpace(matches[1])
	} else {
		s = strings.TrimSpace(s)
	}

	// Arrays first: stage outputs that are lists arrive as top-level arrays
	arrayStart := strings.Index(s, "[")
	objectStart := strings.Index(s, "{")
	if arrayStart != -1 && (objectStart == -1 || arrayStart < objectStart) {
		arrayEnd := findMatchingBracket(s, arrayStart, '[', ']')
		if arrayEnd != -1 {
			return s[arrayStart : arrayEnd+1]
		}
		// Truncated array - try to close it
		lastQuote := strings.LastIndex(s, "\"")
		if lastQuote > arrayStart {
			trimmed := strings.TrimRight(s[arrayStart:], " \n\t,")
			return trimmed + "]"
		}
	}

	if objectStart != -1 {
		objectEnd := findMatchingBracket(s, objectStart, '{', '}')
		if objectEnd != -1 {
			return s[objectStart : objectEnd+1]
		}
		lastQuote := strings.LastIndex(s, "\"")
		if lastQuote > objectStart {
			trimmed := strings.TrimRight(s[objectStart:], " \n\t,")
			return trimmed + "}"
		}
	}

	return s
}

// findMatchingBracket finds the matching closing bracket for an opening
// bracket, skipping bracket characters inside string literals.
// Returns -1 if no matching bracket is found.
func findMatchingBracket(s string, startPos int, openChar, closeChar rune) int {
	count := 0
	inString := false
	escaped := false

	for i := startPos; i < len(s); i++ {
		ch := rune(s[i])

		if escaped {
			escaped = false
			continue
		}

		if ch == '\\' {
			escaped = true
			continue
		}

		if ch == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if ch == openChar {
				count++
			} else if ch == closeChar {
				count--
				if count == 0 {
					return i
				}
			}
		}
	}

	return -1
}

// SanitizeJSON fixes common JSON issues from LLM responses, specifically
// unescaped literal newlines inside string values.
func SanitizeJSON(s string) string {
	var result strings.Builder
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			result.WriteByte(ch)
			escaped = false
			continue
		}

		if ch == '\\' {
			result.WriteByte(ch)
			escaped = true
			continue
		}

		if ch == '"' {
			result.WriteByte(ch)
			inString = !inString
			continue
		}

		if inString && (ch == '\n' || ch == '\r') {
			result.WriteString("\\n")
			// Skip \r if followed by \n
			if ch == '\r' && i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			continue
		}

		result.WriteByte(ch)
	}

	return result.String()
}
