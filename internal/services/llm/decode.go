package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const snippetRunes = 160

// DecodeJSON decodes a model reply into target. Replies that wrap the object
// in a code fence or surround it with prose are reduced to the first
// balanced JSON object or array before decoding.
func DecodeJSON(content string, target any) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.New("empty payload")
	}
	err := json.Unmarshal([]byte(content), target)
	if err == nil {
		return nil
	}
	body, ok := extractJSON(content)
	if !ok || body == content {
		return fmt.Errorf("%w (payload snippet: %s)", err, snippet(content))
	}
	if err := json.Unmarshal([]byte(body), target); err != nil {
		return fmt.Errorf("%w (extracted snippet: %s)", err, snippet(body))
	}
	return nil
}

// extractJSON returns the first top-level object or array in s. Brackets
// inside string literals are ignored.
func extractJSON(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	if runes := []rune(clean); len(runes) > snippetRunes {
		return string(runes[:snippetRunes]) + "..."
	}
	return clean
}
