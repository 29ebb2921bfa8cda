package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// thinkBlockPattern matches reasoning blocks some models emit before answering.
var thinkBlockPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ExtractJSON returns the first valid JSON object or array embedded in an LLM
// response. Reasoning blocks, markdown fences and surrounding prose are ignored.
func ExtractJSON(response string) (string, error) {
	cleaned := thinkBlockPattern.ReplaceAllString(response, "")

	for i := 0; i < len(cleaned); i++ {
		var closeChar byte
		switch cleaned[i] {
		case '{':
			closeChar = '}'
		case '[':
			closeChar = ']'
		default:
			continue
		}

		candidate, ok := balancedFrom(cleaned[i:], cleaned[i], closeChar)
		if ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no valid JSON found in response")
}

// balancedFrom returns the prefix of s (which starts with openChar) up to the
// matching closeChar, skipping brackets inside string literals.
func balancedFrom(s string, openChar, closeChar byte) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == openChar:
			depth++
		case c == closeChar:
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}

	return "", false
}

// ParseJSONResponse extracts JSON from a response and unmarshals it into T.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}

	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}

	return result, nil
}
