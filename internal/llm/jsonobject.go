package llm

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ExtractObject returns the first top-level JSON object in text. Braces inside JSON
// strings are ignored, so commentary and markdown fences around the object do not matter.
// When the first object is never closed, the span from the first "{" to the last "}" is
// returned instead.
func ExtractObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
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
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}

	if end := strings.LastIndexByte(text, '}'); end > start {
		return text[start : end+1], true
	}
	return "", false
}

// DecodeObject extracts the first JSON object from text and decodes it into v.
func DecodeObject(text string, v any) error {
	obj, ok := ExtractObject(text)
	if !ok {
		return ErrNoJSONObject
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.UseNumber()
	return dec.Decode(v)
}
