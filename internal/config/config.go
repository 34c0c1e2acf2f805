// Package config loads liftoff's TOML configuration and resolves it against
// environment variables and command-line flags.
package config

import "time"

// Config is the top-level configuration parsed from the TOML file.
type Config struct {
	API        APIConfig        `toml:"api" json:"api"`
	Deployment DeploymentConfig `toml:"deployment" json:"deployment"`
	Watch      WatchConfig      `toml:"watch" json:"watch"`
	Logging    LoggingConfig    `toml:"logging" json:"logging"`
}

// APIConfig locates and authenticates against the hosting service.
type APIConfig struct {
	URL        string `toml:"url" json:"url"`
	Token      string `toml:"token" json:"token"`
	CustomerID string `toml:"customer_id" json:"customer_id"`
	Timeout    string `toml:"timeout" json:"timeout"`
}

// DeploymentConfig supplies the deployment descriptor fields that are not
// derived from the project itself.
type DeploymentConfig struct {
	Name      string            `toml:"name" json:"name"`
	Domain    string            `toml:"domain" json:"domain"`
	Framework string            `toml:"framework" json:"framework"`
	Memory    string            `toml:"memory" json:"memory"`
	CPU       string            `toml:"cpu" json:"cpu"`
	Mode      string            `toml:"mode" json:"mode"`
	Env       map[string]string `toml:"env" json:"env"`
}

// WatchConfig tunes the watch session timing and exclusions.
type WatchConfig struct {
	DebounceInterval string   `toml:"debounce_interval" json:"debounce_interval"`
	PollInterval     string   `toml:"poll_interval" json:"poll_interval"`
	PollAttempts     int      `toml:"poll_attempts" json:"poll_attempts"`
	NotFoundGrace    int      `toml:"not_found_grace" json:"not_found_grace"`
	OverrideGrace    string   `toml:"override_grace" json:"override_grace"`
	SkipDirs         []string `toml:"skip_dirs" json:"skip_dirs"`
	SkipFiles        []string `toml:"skip_files" json:"skip_files"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level" json:"log_level"`
	LogFile          string `toml:"log_file" json:"log_file"`
	LogFormat        string `toml:"log_format" json:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days" json:"log_retention_days"`
}

// APITimeout returns the parsed HTTP timeout.
func (a *APIConfig) APITimeout() time.Duration {
	return parsedDuration(a.Timeout)
}

// Debounce returns the parsed debounce window.
func (w *WatchConfig) Debounce() time.Duration {
	return parsedDuration(w.DebounceInterval)
}

// Poll returns the parsed interval between status polls.
func (w *WatchConfig) Poll() time.Duration {
	return parsedDuration(w.PollInterval)
}

// Grace returns the parsed wait after an override delete.
func (w *WatchConfig) Grace() time.Duration {
	return parsedDuration(w.OverrideGrace)
}

// parsedDuration returns zero for an unparsable value; the watch package then
// substitutes its own default.
func parsedDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
