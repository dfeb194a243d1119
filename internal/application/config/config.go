// ABOUTME: YAML configuration parsing and validation
// ABOUTME: Defines stream source entries, reconnect policy, and logging options
package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Sources []SourceConfig `yaml:"sources"`
	Output  OutputConfig   `yaml:"output"`
	Logging LoggingConfig  `yaml:"logging"`
}

type SourceConfig struct {
	ID             string            `yaml:"id"`
	URL            string            `yaml:"url"`
	RequestHeaders map[string]string `yaml:"request_headers"`

	ConnectTimeoutMs  int `yaml:"connect_timeout_ms"`
	ReadWaitMs        int `yaml:"read_wait_ms"`
	ChunkHeaderWaitMs int `yaml:"chunk_header_wait_ms"`
	BufferBytes       int `yaml:"buffer_bytes"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMs  int `yaml:"delay_ms"`
}

type OutputConfig struct {
	// Path receives the pulled bytes; "-" or empty means stdout.
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// LoadEnvFiles loads environment variables from .env files that exist,
// in the order given.
func LoadEnvFiles(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			godotenv.Load(p)
		}
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnvVars replaces ${VAR_NAME} occurrences with environment
// values so stream URLs and headers can carry credentials without being
// committed to the config file.
func substituteEnvVars(content []byte) []byte {
	return envVarPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if v, ok := os.LookupEnv(string(name)); ok {
			return []byte(v)
		}
		return match
	})
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(substituteEnvVars(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.ConnectTimeoutMs == 0 {
			s.ConnectTimeoutMs = 5000
		}
		if s.ReadWaitMs == 0 {
			s.ReadWaitMs = 500
		}
		if s.ChunkHeaderWaitMs == 0 {
			s.ChunkHeaderWaitMs = 1500
		}
		if s.BufferBytes == 0 {
			s.BufferBytes = 65536
		}
		if s.Reconnect.Attempts == 0 {
			s.Reconnect.Attempts = 3
		}
		if s.Reconnect.DelayMs == 0 {
			s.Reconnect.DelayMs = 1000
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("config: at least one source is required")
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("config: source without an id")
		}
		if seen[s.ID] {
			return fmt.Errorf("config: duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
		if s.URL == "" {
			return fmt.Errorf("config: source %q has no url", s.ID)
		}
	}
	return nil
}

// Source returns the source entry with the given id, or the first entry
// when id is empty.
func (c *Config) Source(id string) (*SourceConfig, error) {
	if id == "" {
		return &c.Sources[0], nil
	}
	for i := range c.Sources {
		if c.Sources[i].ID == id {
			return &c.Sources[i], nil
		}
	}
	return nil, fmt.Errorf("config: no source with id %q", id)
}
