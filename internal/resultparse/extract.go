package resultparse

import (
	"encoding/json"
	"strings"
)

// Limits on ExtractObject work: candidate starts tried and bytes scanned.
const (
	maxObjectStarts  = 64
	maxExtractLength = 512 << 10
)

// ExtractObject returns the first brace-balanced {...} substring of s that is
// valid JSON. Braces inside JSON strings are ignored while balancing. At most
// maxObjectStarts opening braces within the first maxExtractLength bytes are
// tried.
func ExtractObject(s string) (string, bool) {
	if len(s) > maxExtractLength {
		s = s[:maxExtractLength]
	}
	start := strings.IndexByte(s, '{')
	for tries := 0; start >= 0 && tries < maxObjectStarts; tries++ {
		end := matchBrace(s, start)
		if end < 0 {
			// No closing brace remains, so no later start can balance.
			if strings.IndexByte(s[start+1:], '}') < 0 {
				break
			}
		} else if candidate := s[start : end+1]; json.Valid([]byte(candidate)) {
			return candidate, true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// OutermostObject returns the object opened by the first '{' in s when it is
// balanced and valid JSON. Nested objects are never considered on their own,
// so a reply cut off mid-object yields false rather than an inner fragment.
func OutermostObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	end := matchBrace(s, start)
	if end < 0 {
		return "", false
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}

// matchBrace returns the index of the brace closing the one at start, or -1.
func matchBrace(s string, start int) int {
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
				return i
			}
		}
	}
	return -1
}
