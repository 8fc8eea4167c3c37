// Package config loads the service configuration from YAML with sensible
// defaults for every field.
package config

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Run       RunConfig       `yaml:"run"`
	Events    EventsConfig    `yaml:"events"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Test      TestConfig      `yaml:"test"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// WorkspaceConfig places the checkout and the run artifacts.
type WorkspaceConfig struct {
	Dir        string `yaml:"dir"`
	ResultsDir string `yaml:"results_dir"`
}

// RunConfig bounds the remediation loop.
type RunConfig struct {
	RetryLimit          int `yaml:"retry_limit"`
	EscalationThreshold int `yaml:"escalation_threshold"`
}

// EventsConfig sizes the in-memory event log.
type EventsConfig struct {
	Capacity int `yaml:"capacity"`
}

// OracleConfig points at the model used for whole-file repairs.
type OracleConfig struct {
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// TestConfig bounds the phases of a test run, in seconds.
type TestConfig struct {
	SetupTimeoutSeconds int `yaml:"setup_timeout_seconds"`
	CheckTimeoutSeconds int `yaml:"check_timeout_seconds"`
	TestTimeoutSeconds  int `yaml:"test_timeout_seconds"`
}
