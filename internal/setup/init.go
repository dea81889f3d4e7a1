// Package setup handles termcmd workspace initialization.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/msageha/termcmd/internal/descriptor"
	"github.com/msageha/termcmd/internal/model"
	atomicyaml "github.com/msageha/termcmd/internal/yaml"
	"github.com/msageha/termcmd/templates"
)

// DirName is the workspace directory created inside a project.
const DirName = ".termcmd"

// Run initializes the .termcmd/ directory in projectDir and returns its path.
func Run(projectDir string) (string, error) {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, DirName)
	if _, err := os.Stat(base); err == nil {
		return "", fmt.Errorf("%s already exists", base)
	}

	for _, d := range []string{"locks", "logs", "spool", atomicyaml.QuarantineDir} {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return "", fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	if err := writeConfig(filepath.Join(base, "config.yaml")); err != nil {
		return "", err
	}
	if err := writeCommands(filepath.Join(base, "commands.yaml")); err != nil {
		return "", err
	}
	return base, nil
}

// Find returns the .termcmd/ directory in start or its closest ancestor, or
// "" when there is none.
func Find(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func writeConfig(dst string) error {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return fmt.Errorf("read config template: %w", err)
	}
	cfg := model.DefaultConfig()
	if err := model.DecodeConfig(dst, data, &cfg); err != nil {
		return fmt.Errorf("parse config template: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config template: %w", err)
	}
	if err := atomicyaml.AtomicWriteRaw(dst, data); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}
	return nil
}

func writeCommands(dst string) error {
	data, err := fs.ReadFile(templates.FS, "commands.yaml")
	if err != nil {
		return fmt.Errorf("read commands template: %w", err)
	}
	descriptors, err := descriptor.Parse(dst, data)
	if err != nil {
		return err
	}
	if err := descriptor.Validate(nil, descriptors); err != nil {
		return fmt.Errorf("commands template: %w", err)
	}
	if err := atomicyaml.AtomicWriteRaw(dst, data); err != nil {
		return fmt.Errorf("write commands.yaml: %w", err)
	}
	return nil
}
