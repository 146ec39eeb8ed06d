package ocr

import (
	"encoding/json"
	"fmt"
	"strings"
)

type lineResponse struct {
	Lines []Line `json:"lines"`
}

// parseLineJSON parses the JSON line transcript returned by the engine
func parseLineJSON(text string) ([]Line, error) {
	// Remove markdown code blocks if present
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	text = text[startIdx : endIdx+1]

	var resp lineResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	lines := validateLines(resp.Lines)
	if len(lines) == 0 {
		return nil, fmt.Errorf("no text lines in response")
	}

	return lines, nil
}
