package daemon

import (
	"os"
	"path/filepath"

	"github.com/msageha/termcmd/internal/model"
)

// ConfigPath returns the config file of workDir: config.toml when present,
// otherwise config.yaml.
func ConfigPath(workDir string) string {
	tomlPath := filepath.Join(workDir, "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		return tomlPath
	}
	return filepath.Join(workDir, "config.yaml")
}

// LoadConfig loads the configuration of workDir.
func LoadConfig(workDir string) (model.Config, error) {
	return model.LoadConfig(ConfigPath(workDir))
}
