package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"orchestrator/internal/model"
)

// PluginFile is the declarative plugin configuration file's shape (§4.C):
// a small settings table plus a list of plugin entries. A missing file
// means no plugins, not an error.
type PluginFile struct {
	Settings PluginSettings  `yaml:"settings"`
	Plugins  []PluginEntry   `yaml:"plugins"`
}

// PluginSettings is the file's settings table.
type PluginSettings struct {
	StartupTimeoutSeconds int `yaml:"startup_timeout_seconds"`
	MaxRestarts           int `yaml:"max_restarts"`
}

// PluginEntry describes one plugin the Supervisor should know about.
type PluginEntry struct {
	Name      string               `yaml:"name"`
	Command   []string             `yaml:"command"`
	Cwd       string               `yaml:"cwd"`
	AutoStart bool                 `yaml:"auto_start"`
	Restart   model.RestartPolicy  `yaml:"restart"`
	LogFile   string               `yaml:"log_file"`
}

// LoadPluginFile reads and parses path. A missing file is not an error: it
// yields a PluginFile with zero plugins, matching §4.C's "missing file ⇒
// no plugins."
func LoadPluginFile(path string) (*PluginFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &PluginFile{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read plugin config %q", path)
	}

	var file PluginFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "parse plugin config %q", path)
	}
	if file.Settings.MaxRestarts == 0 {
		file.Settings.MaxRestarts = 3
	}
	if file.Settings.StartupTimeoutSeconds == 0 {
		file.Settings.StartupTimeoutSeconds = 60
	}
	return &file, nil
}
