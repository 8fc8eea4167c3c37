package config

import "fmt"

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Run.RetryLimit < 1 {
		return fmt.Errorf("run.retry_limit must be at least 1, got %d", c.Run.RetryLimit)
	}
	if c.Run.EscalationThreshold < 1 {
		return fmt.Errorf("run.escalation_threshold must be at least 1, got %d", c.Run.EscalationThreshold)
	}
	if c.Events.Capacity < 1 {
		return fmt.Errorf("events.capacity must be at least 1, got %d", c.Events.Capacity)
	}
	if c.Oracle.TimeoutSeconds < 1 {
		return fmt.Errorf("oracle.timeout_seconds must be at least 1, got %d", c.Oracle.TimeoutSeconds)
	}
	for name, v := range map[string]int{
		"test.setup_timeout_seconds": c.Test.SetupTimeoutSeconds,
		"test.check_timeout_seconds": c.Test.CheckTimeoutSeconds,
		"test.test_timeout_seconds":  c.Test.TestTimeoutSeconds,
	} {
		if v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, v)
		}
	}
	return nil
}
