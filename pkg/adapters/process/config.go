package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/parley/pkg/schema"
	"gopkg.in/yaml.v3"
)

// CommandConfig declares an external program exposed as a dialog command.
type CommandConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`
	// Inputs lists property paths ("user.name", "$choice") exported as PARLEY_ARG_* variables.
	Inputs []string `yaml:"inputs" json:"inputs"`
	// Timeout bounds a single run. Zero means DefaultTimeout.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Returns, when set, is the shape the "set" object of the program's output must have.
	Returns schema.Schema `yaml:"returns" json:"returns"`
}

// ConfigFile represents the structure of commands.yaml.
type ConfigFile struct {
	Commands []CommandConfig `yaml:"commands" json:"commands"`
}

// LoadCommands reads a configuration file (YAML or JSON) and returns the commands by name.
// A missing file yields no commands.
func LoadCommands(path string) (map[string]CommandConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]CommandConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read commands config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	commands := make(map[string]CommandConfig, len(cfg.Commands))
	for i, c := range cfg.Commands {
		if c.Name == "" || c.Command == "" {
			return nil, fmt.Errorf("%s: command #%d needs a name and a command", path, i+1)
		}
		if _, dup := commands[c.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate command %q", path, c.Name)
		}
		commands[c.Name] = c
	}
	return commands, nil
}
