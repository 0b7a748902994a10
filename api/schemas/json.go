// api/schemas/json.go
package schemas

import (
	"fmt"
	"regexp"
	"strings"
)

// jsonBlockRegex extracts a JSON payload from a markdown code fence.
var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSONBlock robustly pulls a JSON object or array out of an LLM
// response, handling markdown code fences and surrounding prose. Reasoning
// services are asked for bare JSON but do not always comply.
func ExtractJSONBlock(response string) (string, error) {
	response = strings.TrimSpace(response)

	if matches := jsonBlockRegex.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1]), nil
	}

	first := strings.IndexAny(response, "{[")
	if first == -1 {
		return "", fmt.Errorf("no JSON found in response")
	}
	var last int
	if response[first] == '{' {
		last = strings.LastIndex(response, "}")
	} else {
		last = strings.LastIndex(response, "]")
	}
	if last <= first {
		return "", fmt.Errorf("no JSON found in response")
	}
	return response[first : last+1], nil
}
