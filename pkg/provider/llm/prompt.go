package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// responseInstructions is the JSON contract taught to fallback providers.
const responseInstructions = `RESPONSE FORMAT (EXACTLY THIS):
{
  "response": "Your reply to the player (short, in character)",
  "function": "function_name"
}

EXAMPLE:
{
  "response": "Arrgh, I head north towards the tree!",
  "function": "walk_to_tree"
}

When no function fits:
{
  "response": "I do not understand what you want.",
  "function": "no_action"
}

IMPORTANT:
- Reply ONLY with valid JSON
- No explanations outside the JSON
- No markdown formatting
- NEVER use the function name inside the "response" text
- The "response" text is for the player, the "function" name is internal system metadata`

// DefaultBuildPrompt inlines the function catalogue and the JSON response
// contract into the system message. Providers without native tool calling use
// it as their BuildPrompt step.
func DefaultBuildPrompt(basePrompt string, functions []Function, messages []Message) []Message {
	type fn struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	}
	catalogue := make([]fn, len(functions))
	for i, f := range functions {
		params := f.Parameters
		if params == nil {
			params = map[string]any{}
		}
		catalogue[i] = fn{Name: f.Name, Description: f.Description, Parameters: params}
	}
	catalogueJSON, err := json.MarshalIndent(catalogue, "", "  ")
	if err != nil {
		// A map[string]any of JSON schema values always marshals; guard anyway.
		catalogueJSON = []byte("[]")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\n", basePrompt)
	sb.WriteString("IMPORTANT: You are talking to a machine. ALWAYS answer in JSON format!\n\n")
	fmt.Fprintf(&sb, "AVAILABLE FUNCTIONS:\n%s\n\n", catalogueJSON)
	sb.WriteString(responseInstructions)

	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: sb.String()})
	return append(out, messages...)
}
