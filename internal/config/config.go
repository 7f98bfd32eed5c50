package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort     = 3000
	DefaultDataFile = "taskbox.json"
)

// Config models taskbox.yml.
type Config struct {
	Server struct {
		Port        int      `yaml:"port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Storage struct {
		File string `yaml:"file"`
	} `yaml:"storage"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Default()
	}
	applyEnv(cfg)
	return cfg, nil
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Unset fields are
// filled with defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config.server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Storage.File == "" {
		return fmt.Errorf("config.storage.file is required")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	cfg.Server.Port = DefaultPort
	cfg.Server.CORSOrigins = []string{"*"}
	cfg.Storage.File = DefaultDataFile
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return &cfg
}

// applyEnv layers environment overrides on top of file values. PORT keeps the
// precedence the service always had: env wins over taskbox.yml.
func applyEnv(cfg *Config) {
	if raw := os.Getenv("PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
	if file := os.Getenv("TASKBOX_DATA_FILE"); file != "" {
		cfg.Storage.File = file
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskbox.yml")
}

// DataPath resolves the storage file relative to the workspace unless it is
// absolute.
func (c *Config) DataPath(workspace string) string {
	if filepath.IsAbs(c.Storage.File) {
		return c.Storage.File
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, c.Storage.File)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  port: 3000
  cors_origins: ["*"]

storage:
  file: taskbox.json

log:
  level: info
  format: text
`
