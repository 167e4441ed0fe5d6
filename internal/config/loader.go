package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "mock"},
	"tts": {"elevenlabs", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown keys are rejected so typos surface at
// startup instead of silently selecting a default.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills absent fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = DefaultMaxTokens
	}
	if cfg.LLM.MaxHistoryLength == 0 {
		cfg.LLM.MaxHistoryLength = DefaultMaxHistoryLength
	}
	if cfg.LLM.RequestTimeoutSeconds == 0 {
		cfg.LLM.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if cfg.Session.IdleTimeoutMinutes == 0 {
		cfg.Session.IdleTimeoutMinutes = DefaultIdleTimeoutMinutes
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Game bundle resolution
	if cfg.MapsDirectory == "" {
		errs = append(errs, errors.New("maps_directory is required"))
	}
	if cfg.GameName == "" {
		errs = append(errs, errors.New("game_name is required"))
	}

	// LLM
	if cfg.LLM.Provider == "" {
		errs = append(errs, errors.New("llm.provider is required"))
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if t := cfg.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0, 2]", *t))
	}
	if cfg.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens %d must not be negative", cfg.LLM.MaxTokens))
	}
	if cfg.LLM.MaxHistoryLength < 0 {
		errs = append(errs, fmt.Errorf("llm.max_history_length %d must not be negative", cfg.LLM.MaxHistoryLength))
	}
	if cfg.LLM.RequestTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("llm.request_timeout_seconds %d must not be negative", cfg.LLM.RequestTimeoutSeconds))
	}
	for i, fb := range cfg.LLM.Fallbacks {
		prefix := fmt.Sprintf("llm.fallbacks[%d]", i)
		if fb.Provider == "" {
			errs = append(errs, fmt.Errorf("%s.provider is required", prefix))
		}
		if fb.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
		validateProviderName("llm", fb.Provider)
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.LLM.Provider)
	validateProviderName("tts", cfg.TTS.Provider)

	// Session
	if cfg.Session.IdleTimeoutMinutes < 0 {
		errs = append(errs, fmt.Errorf("session.idle_timeout_minutes %d must not be negative", cfg.Session.IdleTimeoutMinutes))
	}

	// Legal-but-suspicious values.
	if t := cfg.LLM.Temperature; t != nil && *t > 1 {
		slog.Warn("llm.temperature above 1 makes the narrator erratic", "temperature", *t)
	}
	if cfg.TTS.Provider == "" {
		slog.Warn("tts.provider is empty; narration will be text only")
	}
	if cfg.Debug.LLM {
		slog.Warn("debug.llm is enabled; full prompts will appear in the debug log")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
