package config

import (
	"os"

	"go.yaml.in/yaml/v2"
)

// LoadFile reads a YAML config file and merges it onto base. Keys absent
// from the file leave base's existing values untouched, so callers
// typically pass Default() as base. A missing file is not an error.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return Config{}, err
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
