package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadDocument reads a mapping or settings file written in YAML or JSON and
// returns it as JSON. An empty path yields nil.
func (c *Config) LoadDocument(path string) (json.RawMessage, error) {
	if path == "" {
		return nil, nil
	}
	path = c.ResolvePath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("converting %s to JSON: %w", path, err)
	}
	return out, nil
}
