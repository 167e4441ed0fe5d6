package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencedJSON   = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	fencedPlain  = regexp.MustCompile("(?s)```\\s*(\\{.*?\\})\\s*```")
	inlineObject = regexp.MustCompile(`\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)
)

// selection is the wire shape of the JSON contract.
type selection struct {
	Response string `json:"response"`
	Function string `json:"function"`
}

// DefaultParseSelection extracts a {"response", "function"} object from raw
// model text. It tolerates the mess real models produce: markdown code
// fences, doubled or tripled braces, and chatter before or after the object.
// When no usable object is found the whole text becomes the narrative of a
// NoActionName selection, so the player still gets an answer.
func DefaultParseSelection(text string) FunctionCall {
	raw, ok := extractJSON(text)
	if ok {
		var sel selection
		if err := json.Unmarshal([]byte(raw), &sel); err == nil && sel.Function != "" {
			return FunctionCall{Name: sel.Function, Response: sel.Response}
		}
	}
	return FunctionCall{Name: NoActionName, Response: text}
}

// extractJSON finds the most plausible JSON object in text.
func extractJSON(text string) (string, bool) {
	// Some models escape braces; collapse them back down.
	for strings.Contains(text, "{{{") || strings.Contains(text, "}}}") {
		text = strings.ReplaceAll(text, "{{{", "{")
		text = strings.ReplaceAll(text, "}}}", "}")
	}
	text = strings.ReplaceAll(text, "{{", "{")
	text = strings.ReplaceAll(text, "}}", "}")

	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := fencedPlain.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := inlineObject.FindString(text); m != "" {
		return m, true
	}
	return "", false
}
