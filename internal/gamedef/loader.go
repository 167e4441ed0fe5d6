package gamedef

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Model is the raw state graph document: states keyed by editor id, and the
// connections between them. Document order of both maps is preserved because
// it is the order actions are offered to the model in.
type Model struct {
	States      []StateEntry
	Connections []ConnectionEntry
}

// StateEntry pairs an editor state id with its definition.
type StateEntry struct {
	ID    string
	State StateDef
}

// ConnectionEntry pairs an editor connection id with its definition.
type ConnectionEntry struct {
	ID         string
	Connection ConnectionDef
}

// StateDef is one state as the authoring tool exports it. Canvas geometry and
// other editor-only keys are ignored.
type StateDef struct {
	Name      string       `yaml:"name"`
	StateType string       `yaml:"stateType"`
	UserData  StateData    `yaml:"userData"`
	Triggers  []TriggerDef `yaml:"trigger"`
}

// StateData is the game payload of a state.
type StateData struct {
	SystemPrompt       string `yaml:"system_prompt"`
	AmbientSound       string `yaml:"ambient_sound"`
	AmbientSoundVolume *int   `yaml:"ambient_sound_volume"`
}

// TriggerDef is an internal trigger declared on a state.
type TriggerDef struct {
	Name                string   `yaml:"name"`
	Description         string   `yaml:"description"`
	SystemPrompt        string   `yaml:"system_prompt"`
	Conditions          []string `yaml:"conditions"`
	Actions             []string `yaml:"actions"`
	SoundEffect         string   `yaml:"sound_effect"`
	SoundEffectVolume   *int     `yaml:"sound_effect_volume"`
	SoundEffectDuration float64  `yaml:"sound_effect_duration"`
}

// ConnectionDef is a connection between two states.
type ConnectionDef struct {
	Name     string         `yaml:"name"`
	Source   Endpoint       `yaml:"source"`
	Target   Endpoint       `yaml:"target"`
	UserData ConnectionData `yaml:"userData"`
}

// Endpoint references a state by its editor id.
type Endpoint struct {
	Node string `yaml:"node"`
}

// ConnectionData is the game payload of a connection.
type ConnectionData struct {
	Description         string   `yaml:"description"`
	SystemPrompt        string   `yaml:"system_prompt"`
	Conditions          []string `yaml:"conditions"`
	Actions             []string `yaml:"actions"`
	SoundEffect         string   `yaml:"sound_effect"`
	SoundEffectVolume   *int     `yaml:"sound_effect_volume"`
	SoundEffectDuration float64  `yaml:"sound_effect_duration"`
}

// UnmarshalYAML decodes the model while keeping the document order of the
// states and connections maps. A plain map decode would shuffle them.
func (m *Model) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		States      yaml.Node `yaml:"states"`
		Connections yaml.Node `yaml:"connections"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if err := eachMappingEntry(&raw.States, func(id string, val *yaml.Node) error {
		var st StateDef
		if err := val.Decode(&st); err != nil {
			return fmt.Errorf("state %q: %w", id, err)
		}
		m.States = append(m.States, StateEntry{ID: id, State: st})
		return nil
	}); err != nil {
		return err
	}

	return eachMappingEntry(&raw.Connections, func(id string, val *yaml.Node) error {
		var conn ConnectionDef
		if err := val.Decode(&conn); err != nil {
			return fmt.Errorf("connection %q: %w", id, err)
		}
		m.Connections = append(m.Connections, ConnectionEntry{ID: id, Connection: conn})
		return nil
	})
}

// eachMappingEntry walks a YAML mapping in document order. An absent node is
// treated as an empty mapping.
func eachMappingEntry(node *yaml.Node, fn func(key string, val *yaml.Node) error) error {
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("expected a mapping, got %s", node.Tag)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := fn(node.Content[i].Value, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// Config is the raw personality document that accompanies a model.
type Config struct {
	Personality   string          `yaml:"personality"`
	WelcomePrompt string          `yaml:"welcome_prompt"`
	Inventory     []InventoryItem `yaml:"inventory"`
}

// InventoryItem is one initial variable.
type InventoryItem struct {
	Key   string `yaml:"key"`
	Value any    `yaml:"value"`
}

// LoadModelFromReader parses a model document.
func LoadModelFromReader(r io.Reader) (*Model, error) {
	var m Model
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("gamedef: decode model: %w", err)
	}
	return &m, nil
}

// LoadConfigFromReader parses a config document.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	var c Config
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("gamedef: decode config: %w", err)
	}
	return &c, nil
}

// LoadBundle loads the raw documents of a game bundle from a directory
// holding model.json (or model.yaml) and, optionally, config.json (or
// config.yaml). A missing config document means no personality and an empty
// inventory.
func LoadBundle(dir string) (*Model, *Config, error) {
	modelPath, err := firstExisting(dir, "model.json", "model.yaml", "model.yml")
	if err != nil {
		return nil, nil, fmt.Errorf("gamedef: %w", err)
	}

	mf, err := os.Open(modelPath)
	if err != nil {
		return nil, nil, fmt.Errorf("gamedef: open %q: %w", modelPath, err)
	}
	defer mf.Close()
	model, err := LoadModelFromReader(mf)
	if err != nil {
		return nil, nil, fmt.Errorf("gamedef: %q: %w", modelPath, err)
	}

	config := &Config{}
	if configPath, err := firstExisting(dir, "config.json", "config.yaml", "config.yml"); err == nil {
		cf, err := os.Open(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("gamedef: open %q: %w", configPath, err)
		}
		defer cf.Close()
		if config, err = LoadConfigFromReader(cf); err != nil {
			return nil, nil, fmt.Errorf("gamedef: %q: %w", configPath, err)
		}
	}

	return model, config, nil
}

// LoadDir loads and compiles a game bundle from a directory.
func LoadDir(dir string) (*Definition, error) {
	model, config, err := LoadBundle(dir)
	if err != nil {
		return nil, err
	}
	return Compile(model, config)
}

// firstExisting returns the first of the candidate file names that exists in
// dir. It reports fs.ErrNotExist when none does.
func firstExisting(dir string, names ...string) (string, error) {
	for _, name := range names {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("none of %v found in %q: %w", names, dir, fs.ErrNotExist)
}
