// Package config provides the configuration schema, loader, and provider
// registry for the fabula narrative server.
package config

import "fabula/pkg/provider/llm"

// LogLevel controls log verbosity for the fabula server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [Load] when the corresponding field is absent.
const (
	DefaultListenAddr            = ":8080"
	DefaultTemperature           = 0.1
	DefaultMaxTokens             = 2000
	DefaultMaxHistoryLength      = 20
	DefaultRequestTimeoutSeconds = 30
	DefaultIdleTimeoutMinutes    = 30
)

// Config is the root configuration structure for fabula.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// GameName selects the game bundle directory below MapsDirectory.
	GameName string `yaml:"game_name"`

	// MapsDirectory is the directory holding the game bundles, one
	// subdirectory per game.
	MapsDirectory string `yaml:"maps_directory"`

	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	TTS     TTSConfig     `yaml:"tts"`
	Session SessionConfig `yaml:"session"`
	Debug   DebugConfig   `yaml:"debug"`
}

// ServerConfig holds network and logging settings for the fabula server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LLMConfig selects and tunes the model backend driving the narration.
type LLMConfig struct {
	// Provider selects the registered model backend (e.g., "openai",
	// "gemini", "ollama"). Looked up in the [Registry].
	Provider string `yaml:"provider"`

	// Model is the backend model identifier (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// APIKey authenticates against the backend, if it needs one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default API endpoint.
	// Leave empty to use the backend's built-in default.
	BaseURL string `yaml:"base_url"`

	// Temperature is the sampling temperature. Game turns want it low;
	// the default is 0.1.
	Temperature *float64 `yaml:"temperature"`

	// MaxTokens caps the completion length per call. Defaults to 2000.
	MaxTokens int `yaml:"max_tokens"`

	// MaxHistoryLength caps the per-session turn log. Defaults to 20.
	MaxHistoryLength int `yaml:"max_history_length"`

	// RequestTimeoutSeconds bounds the model exchange of one turn.
	// Defaults to 30.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`

	// Fallbacks lists backends tried in order when the primary one fails.
	// Each runs behind its own circuit breaker.
	Fallbacks []FallbackEntry `yaml:"fallbacks"`
}

// FallbackEntry is one fallback model backend.
type FallbackEntry struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// TTSConfig selects the speech backend narrating the story out loud.
// An empty Provider disables speech entirely.
type TTSConfig struct {
	// Provider selects the registered speech backend ("elevenlabs",
	// "coqui"). Looked up in the [Registry].
	Provider string `yaml:"provider"`

	// APIKey authenticates against the backend, if it needs one.
	APIKey string `yaml:"api_key"`

	// BaseURL is the backend endpoint for local servers (coqui).
	BaseURL string `yaml:"base_url"`

	// VoiceID is the provider-specific voice identifier (elevenlabs).
	VoiceID string `yaml:"voice_id"`

	// Options holds provider-specific values not covered by the standard
	// fields above (e.g., "language", "model", "output_format").
	Options map[string]any `yaml:"options"`
}

// SessionConfig tunes the session manager.
type SessionConfig struct {
	// IdleTimeoutMinutes is how long a session may sit inactive before it
	// is reaped. Defaults to 30.
	IdleTimeoutMinutes int `yaml:"idle_timeout_minutes"`
}

// DebugConfig holds development switches.
type DebugConfig struct {
	// LLM logs the full request and response message lists of every model
	// call at Debug level. Prompts contain the whole game state; keep this
	// off outside development.
	LLM bool `yaml:"llm"`
}

// Settings converts the LLM block into the provider settings struct,
// with defaults applied for absent fields.
func (c LLMConfig) Settings() llm.Settings {
	temperature := DefaultTemperature
	if c.Temperature != nil {
		temperature = *c.Temperature
	}
	maxTokens := c.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	return llm.Settings{
		APIKey:      c.APIKey,
		Model:       c.Model,
		BaseURL:     c.BaseURL,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// Settings converts a fallback entry into provider settings. Temperature and
// token cap are inherited from the primary block so fallbacks behave alike.
func (f FallbackEntry) Settings(primary LLMConfig) llm.Settings {
	s := primary.Settings()
	s.APIKey = f.APIKey
	s.Model = f.Model
	s.BaseURL = f.BaseURL
	return s
}
