package agent

import (
	"regexp"
	"strings"
)

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// CleanJSON recovers a JSON object from typical model output: it strips
// markdown code fences, cuts from the first '{' to the last '}', escapes raw
// newlines inside string literals and drops trailing commas. Input with no
// braces is returned trimmed.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && nl < 12 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return strings.TrimSpace(s)
	}
	s = s[start : end+1]

	s = escapeNewlinesInStrings(s)
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

func escapeNewlinesInStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inStr, esc := false, false
	for _, ch := range s {
		if !inStr {
			b.WriteRune(ch)
			if ch == '"' {
				inStr = true
			}
			continue
		}
		switch {
		case esc:
			esc = false
			b.WriteRune(ch)
		case ch == '\\':
			esc = true
			b.WriteRune(ch)
		case ch == '"':
			inStr = false
			b.WriteRune(ch)
		case ch == '\n':
			b.WriteString(`\n`)
		case ch == '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(ch)
		}
	}
	return b.String()
}
