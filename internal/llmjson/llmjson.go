// Package llmjson locates and decodes JSON objects embedded in free-form
// model responses.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoObject is returned when the response holds no balanced JSON object.
var ErrNoObject = errors.New("no JSON object in response")

// FirstObject returns the first balanced {...} in resp that is valid JSON.
// Models often wrap output in markdown fences or prepend filler; fences are
// stripped first, then each candidate opening brace is tried in order.
func FirstObject(resp string) (string, error) {
	s := stripFences(resp)

	for start := strings.IndexByte(s, '{'); start != -1; {
		end := matchBrace(s, start)
		if end != -1 {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next == -1 {
			break
		}
		start += next + 1
	}
	return "", ErrNoObject
}

// Decode finds the first JSON object in resp and unmarshals it into v.
func Decode(resp string, v any) error {
	obj, err := FirstObject(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("unmarshal object: %w", err)
	}
	return nil
}

func stripFences(resp string) string {
	s := strings.TrimSpace(resp)
	idx := strings.Index(s, "```")
	if idx == -1 {
		return s
	}
	inner := s[idx+3:]
	inner = strings.TrimPrefix(inner, "json")
	if end := strings.Index(inner, "```"); end != -1 {
		inner = inner[:end]
	}
	// Fall back to the whole response when the fenced block has no object.
	if !strings.Contains(inner, "{") {
		return s
	}
	return inner
}

// matchBrace returns the index of the brace closing the one at open, or -1.
// Braces inside JSON strings are ignored.
func matchBrace(s string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
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
				return i
			}
		}
	}
	return -1
}
