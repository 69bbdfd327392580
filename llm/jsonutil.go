package llm

import (
	"regexp"
	"strings"
)

var (
	// fencedPattern matches the body of a markdown code block.
	fencedPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\s*```")
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON pulls the first JSON object or array out of a model reply.
// It looks inside markdown code fences first, then falls back to the outermost
// brackets of the whole reply, and removes // comments and trailing commas.
func ExtractJSON(content string) string {
	if m := fencedPattern.FindStringSubmatch(content); len(m) > 1 {
		if raw := outermost(m[1]); raw != "" {
			return cleanJSON(raw)
		}
	}
	if raw := outermost(content); raw != "" {
		return cleanJSON(raw)
	}
	return ""
}

// outermost returns the text between the first opening bracket and the last
// matching closing bracket of the same kind.
func outermost(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}

func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return trailingCommaPattern.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

// stripLineComment removes a // comment that is outside any string value.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/':
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
