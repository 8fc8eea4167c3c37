package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault looks for repomedic.yaml in the working directory, then
// ~/.repomedic/config.yaml. When neither exists, defaults apply.
func LoadDefault() (*Config, error) {
	candidates := []string{"repomedic.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".repomedic", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Default(), nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Workspace.Dir == "" {
		cfg.Workspace.Dir = "workspace"
	}
	if cfg.Workspace.ResultsDir == "" {
		cfg.Workspace.ResultsDir = "results"
	}
	if cfg.Run.RetryLimit == 0 {
		cfg.Run.RetryLimit = 5
	}
	if cfg.Run.EscalationThreshold == 0 {
		cfg.Run.EscalationThreshold = 2
	}
	if cfg.Events.Capacity == 0 {
		cfg.Events.Capacity = 2000
	}
	if cfg.Oracle.Model == "" {
		cfg.Oracle.Model = "openai/gpt-oss-20b"
	}
	if cfg.Oracle.BaseURL == "" {
		cfg.Oracle.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.Oracle.TimeoutSeconds == 0 {
		cfg.Oracle.TimeoutSeconds = 60
	}
	if cfg.Test.SetupTimeoutSeconds == 0 {
		cfg.Test.SetupTimeoutSeconds = 180
	}
	if cfg.Test.CheckTimeoutSeconds == 0 {
		cfg.Test.CheckTimeoutSeconds = 60
	}
	if cfg.Test.TestTimeoutSeconds == 0 {
		cfg.Test.TestTimeoutSeconds = 300
	}
}
