package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// LoadConfig builds a Config from defaults, the file at path (YAML, or TOML
// for a .toml extension) and TERMCMD_* environment variables, then validates
// it. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := DecodeConfig(path, data, &cfg); err != nil {
				return Config{}, err
			}
		case os.IsNotExist(err):
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DecodeConfig overlays data onto cfg, choosing the format from path's extension.
func DecodeConfig(path string, data []byte, cfg *Config) error {
	if IsTOML(path) {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
		return nil
	}
	if err := yamlv3.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// IsTOML reports whether path names a TOML file.
func IsTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
