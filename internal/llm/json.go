package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

var errEmptyResponse = errors.New("empty response")

// StripCodeFence removes a surrounding markdown code block, if any.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	endIdx := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	if len(lines) == 1 {
		text = strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")
		return strings.TrimSpace(strings.TrimPrefix(text, "json"))
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}

// ParseJSONResponse parses a JSON object from an LLM response, handling
// markdown code blocks.
func ParseJSONResponse(text string) (map[string]any, error) {
	text = StripCodeFence(text)
	if text == "" {
		return nil, errEmptyResponse
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errEmptyResponse
	}
	return result, nil
}
