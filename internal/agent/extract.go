package agent

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON finds the JSON object in free-form model output. Candidates
// are tried in order: the whole trimmed text, a fenced code block, the first
// balanced {...} span, and finally a repaired truncated object. Numbers are
// decoded as json.Number.
func ExtractJSON(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}

	if strings.HasPrefix(text, "{") {
		if obj, ok := decodeObject(text); ok {
			return obj, true
		}
	}

	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		if obj, ok := decodeObject(m[1]); ok {
			return obj, true
		}
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, false
	}

	// Prose may hold stray balanced braces before the object. An unbalanced
	// span runs to the end of the text and is left for repair.
	tail, depth := start, 0
	for i := start; ; {
		span, open := balancedSpan(text[i:])
		if open != 0 {
			tail, depth = i, open
			break
		}
		if obj, ok := decodeObject(span); ok {
			return obj, true
		}
		next := strings.IndexByte(text[i+len(span):], '{')
		if next < 0 {
			break
		}
		i += len(span) + next
	}

	if end := strings.LastIndexByte(text, '}'); end > start {
		if obj, ok := decodeObject(text[start : end+1]); ok {
			return obj, true
		}
	}

	return repairTruncated(text[tail:], depth)
}

// repairTruncated closes an object cut off mid-stream: trailing commas are
// dropped and closing braces appended.
func repairTruncated(fragment string, depth int) (map[string]any, bool) {
	trimmed := strings.TrimRight(strings.TrimSpace(fragment), ",")
	trimmed = strings.TrimSpace(trimmed)

	candidates := []string{trimmed + "\n}"}
	if depth > 1 {
		candidates = append(candidates, trimmed+strings.Repeat("}", depth))
	}
	for _, c := range candidates {
		if obj, ok := decodeObject(c); ok {
			return obj, true
		}
	}
	return nil, false
}

// balancedSpan returns the prefix of s (which starts with '{') up to the brace
// that closes it, skipping braces inside strings. If s ends first, the whole
// string is returned with the remaining open depth.
func balancedSpan(s string) (string, int) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
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
				return s[:i+1], 0
			}
		}
	}
	return s, depth
}

func decodeObject(s string) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	// Reject trailing garbage after the object.
	if dec.More() {
		return nil, false
	}
	return obj, true
}
