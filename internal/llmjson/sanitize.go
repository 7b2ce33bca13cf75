// Package llmjson turns free-form model output into JSON values. Every model
// response goes through the same steps: drop reasoning blocks, unwrap code
// fences, locate a balanced object or array, then decode it.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a response contains no decodable JSON value.
var ErrNoJSON = errors.New("no JSON value in response")

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Sanitize returns the first balanced JSON object or array found in raw,
// after removing <think> blocks and markdown code fences.
func Sanitize(raw string) (string, error) {
	spans := candidates(clean(raw))
	if len(spans) == 0 {
		return "", ErrNoJSON
	}
	return spans[0], nil
}

// Decode sanitizes raw and unmarshals the first span that fits v, which
// must be a non-nil pointer. Spans that fail to decode are skipped, so
// bracketed prose such as "[Official Video]" ahead of the real payload does
// not hide it. Each span decodes into a fresh value; v is only written by
// the span that succeeds.
func Decode(raw string, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("llmjson: Decode needs a non-nil pointer, got %T", v)
	}
	spans := candidates(clean(raw))
	if len(spans) == 0 {
		return ErrNoJSON
	}
	var firstErr error
	for _, s := range spans {
		fresh := reflect.New(rv.Elem().Type())
		err := json.Unmarshal([]byte(s), fresh.Interface())
		if err == nil {
			rv.Elem().Set(fresh.Elem())
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return fmt.Errorf("%w: %v", ErrNoJSON, firstErr)
}

func clean(raw string) string {
	s := thinkBlock.ReplaceAllString(raw, "")
	// An unterminated think block swallows everything up to the first bracket.
	if i := strings.Index(s, "<think>"); i != -1 {
		s = s[:i] + s[i+len("<think>"):]
	}
	s = strings.ReplaceAll(s, "</think>", "")

	if idx := strings.Index(s, "```"); idx != -1 {
		body := s[idx+3:]
		body = strings.TrimPrefix(body, "json")
		body = strings.TrimPrefix(body, "JSON")
		if end := strings.Index(body, "```"); end != -1 {
			body = body[:end]
		}
		if strings.ContainsAny(body, "{[") {
			s = body
		}
	}
	return strings.TrimSpace(s)
}

// candidates returns every balanced {...} or [...] span in s, in order of
// their opening position. Brackets inside string literals are ignored.
func candidates(s string) []string {
	var out []string
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		if end := matchClose(s, i); end != -1 {
			out = append(out, s[i:end+1])
		}
	}
	return out
}

func matchClose(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				if (s[start] == '{') != (c == '}') {
					return -1
				}
				return i
			}
		}
	}
	return -1
}
