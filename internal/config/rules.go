package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ContainerEntry describes a container to create at startup.
type ContainerEntry struct {
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
	Icon  string `yaml:"icon"`
}

// Rules is the top-level YAML rules file.
type Rules struct {
	InternalPages []string         `yaml:"internal_pages"`
	Containers    []ContainerEntry `yaml:"containers"`
}

// LoadRules reads and validates a rules YAML file.
// Returns an os.ErrNotExist-wrapped error if the file is absent (caller
// silently skips in that case).
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules config: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("rules config: %w", err)
	}
	for i, page := range rules.InternalPages {
		if strings.TrimSpace(page) == "" {
			return nil, fmt.Errorf("rules config: internal_pages[%d] is empty", i)
		}
	}
	seen := make(map[string]struct{}, len(rules.Containers))
	for i, c := range rules.Containers {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("rules config: containers[%d] missing name", i)
		}
		if _, dup := seen[c.Name]; dup {
			return nil, fmt.Errorf("rules config: containers[%d] duplicates %q", i, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return &rules, nil
}
