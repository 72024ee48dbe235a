package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when a completion holds no well-formed JSON value
var ErrNoJSON = errors.New("no JSON object in completion")

// ExtractJSON returns the first well-formed JSON object or array in text,
// ignoring markdown code fences and any prose around the payload. Balanced
// spans that are not JSON, like "[based on 4 utterances]", are skipped.
// Braces inside string literals are not counted.
func ExtractJSON(text string) (string, error) {
	text = stripFences(text)

	start := strings.IndexAny(text, "{[")
	for start >= 0 {
		if end := matchClose(text, start); end > start && json.Valid([]byte(text[start:end+1])) {
			return text[start : end+1], nil
		}
		next := strings.IndexAny(text[start+1:], "{[")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", ErrNoJSON
}

// Decode extracts the first well-formed JSON value in text and unmarshals it into v
func Decode(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	// Drop the opening fence line (``` or ```json)
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	if i := strings.LastIndex(text, "```"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// matchClose returns the index of the bracket closing text[start], or -1
func matchClose(text string, start int) int {
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}
