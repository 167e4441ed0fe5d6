package llm

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// NoActionName is the sentinel the model selects when no defined action fits.
// It is always part of the offered catalogue and it is what an unparseable or
// hallucinated selection degrades to.
const NoActionName = "no_action"

// legacyNoActionName is the sentinel older game definitions taught their
// models to emit. It is normalised to NoActionName on parse.
const legacyNoActionName = "keine_aktion"

// Message is a single message in a model conversation.
type Message struct {
	// Role is RoleSystem, RoleUser, or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// Function describes one selectable action offered to the model.
type Function struct {
	// Name is the unique handle the model selects by.
	Name string

	// Description explains what the action does, in the game's own words.
	Description string

	// Parameters is an optional JSON Schema for the function's arguments.
	// Game actions carry none; the narrative travels in the response field.
	Parameters map[string]any
}

// FunctionCall is the model's parsed selection: which action to fire and the
// narrative that goes with it.
type FunctionCall struct {
	// Name is the selected function, possibly NoActionName.
	Name string

	// Response is the in-character narrative for the player.
	Response string
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the outcome of one model call.
type Response struct {
	// Content is the narrative text. After parsing it equals
	// FunctionCall.Response.
	Content string

	// Model is the backend model identifier that produced the response.
	Model string

	// FunctionCall is the parsed selection, nil until parsing has run.
	FunctionCall *FunctionCall

	// Usage contains token accounting when the backend reports it.
	Usage Usage

	// FinishReason is the backend's stop reason, when reported.
	FinishReason string
}

// NoActionFunction returns the sentinel catalogue entry. Callers append it to
// the offered set every turn.
func NoActionFunction() Function {
	return Function{
		Name:        NoActionName,
		Description: "Use this when no other action fits the player's input, or to answer a question without acting.",
	}
}

// Settings is the provider configuration shared by all backends.
type Settings struct {
	// APIKey authenticates against the backend.
	APIKey string

	// Model is the backend model identifier.
	Model string

	// BaseURL overrides the backend endpoint. Empty means provider default.
	BaseURL string

	// Temperature controls sampling randomness. Game turns want it low.
	Temperature float64

	// MaxTokens caps the completion length. Zero means backend default.
	MaxTokens int
}
