package research

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// decodeModelJSON decodes a model reply into v. It tries a fenced code block
// first, then the whole reply, then the first balanced JSON object in it.
func decodeModelJSON(content string, v any) bool {
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		if json.Unmarshal([]byte(m[1]), v) == nil {
			return true
		}
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}
	if json.Unmarshal([]byte(trimmed), v) == nil {
		return true
	}
	if obj := firstJSONObject(trimmed); obj != "" {
		return json.Unmarshal([]byte(obj), v) == nil
	}
	return false
}

func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
