// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// Backticks are written as \x60 because raw strings cannot contain them.

	// jsonObjectRegex extracts a JSON object wrapped in a markdown fence.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array wrapped in a markdown fence.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
)

// ParseJSONResponse decodes a model response into T. Models often wrap JSON
// in a markdown fence or surround it with prose; both are tolerated.
func ParseJSONResponse[T any](response string) (*T, error) {
	payload := ExtractJSON(response)
	var result T
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(payload, 500))
	}
	return &result, nil
}

// ExtractJSON returns the JSON object or array embedded in response.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)
	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	if strings.HasPrefix(response, "```") {
		var matches []string
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			return matches[1]
		}
		return response
	}
	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	// Look for the structure inside conversational text.
	if isObject {
		first, last := strings.Index(response, "{"), strings.LastIndex(response, "}")
		if first != -1 && last > first {
			return response[first : last+1]
		}
	}
	if isArray {
		first, last := strings.Index(response, "["), strings.LastIndex(response, "]")
		if first != -1 && last > first {
			return response[first : last+1]
		}
	}
	return response
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	// Byte truncation is good enough for error messages.
	return s[:maxLen] + "..."
}
