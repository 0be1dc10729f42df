package flow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/solarlytics/analyst/internal/models"
)

// ParseClassification extracts a validated Classification from raw classifier
// output. Models wrap JSON in code fences, hallucinate comments, or surround
// the object with prose; all of that is tolerated. Any failure returns an
// error and the caller falls back to free-form routing.
func ParseClassification(raw string) (*models.Classification, error) {
	cleaned := stripCodeFences(raw)
	cleaned = stripJSONComments(cleaned)

	obj, ok := extractFirstJSONObject(cleaned)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in classifier output")
	}

	var cls models.Classification
	if err := json.Unmarshal([]byte(obj), &cls); err != nil {
		return nil, fmt.Errorf("failed to decode classification: %w", err)
	}
	if err := cls.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classification: %w", err)
	}
	return &cls, nil
}

// stripCodeFences removes markdown code fence lines, keeping their contents.
func stripCodeFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// stripJSONComments removes // line comments and /* */ block comments that
// are outside string literals.
func stripJSONComments(s string) string {
	var b strings.Builder
	inString := false
	escaped := false
	i := 0
	for i < len(s) {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			i++
			continue
		}
		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
			i++
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			i += 2
			for i+1 < len(s) && !(s[i] == '*' && s[i+1] == '/') {
				i++
			}
			i += 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// extractFirstJSONObject returns the first balanced {...} in s, respecting
// string literals, tolerating leading and trailing prose.
func extractFirstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
