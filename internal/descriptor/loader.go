package descriptor

import (
	"fmt"
	"os"

	"github.com/msageha/termcmd/internal/model"
	"github.com/pelletier/go-toml/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// File is the on-disk layout of a descriptor file.
type File struct {
	Commands []model.CommandDescriptor `yaml:"commands" toml:"commands"`
}

// LoadFile reads descriptors from a YAML file, or TOML for a .toml extension.
func LoadFile(path string) ([]model.CommandDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptors %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes descriptor file content. path only selects the format.
func Parse(path string, data []byte) ([]model.CommandDescriptor, error) {
	var f File
	if model.IsTOML(path) {
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse descriptors %s: %w", path, err)
		}
	} else {
		if err := yamlv3.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse descriptors %s: %w", path, err)
		}
	}
	return f.Commands, nil
}

// LoadInto reads path and replaces the contents of store with it.
func LoadInto(store *MemoryStore, path string) (int, error) {
	descriptors, err := LoadFile(path)
	if err != nil {
		return 0, err
	}
	if err := store.Replace(descriptors); err != nil {
		return 0, fmt.Errorf("load descriptors %s: %w", path, err)
	}
	return len(descriptors), nil
}
