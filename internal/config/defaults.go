package config

// Default values for every configuration field. The watch timings mirror
// the constants in internal/watch so a config-less run behaves the same as
// a library caller passing zero values.
const (
	defaultAPIURL           = "https://api.liftoff.dev"
	defaultAPITimeout       = "60s"
	defaultMemory           = "512Mi"
	defaultCPU              = "0.5"
	defaultMode             = "preview"
	defaultDebounce         = "10s"
	defaultPollInterval     = "5s"
	defaultPollAttempts     = 60
	defaultNotFoundGrace    = 3
	defaultOverrideGrace    = "2s"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultLogRetentionDays = 30
)

// DefaultConfig returns a Config populated with all default values.
// Used as the base before TOML decoding overwrites fields the file sets.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			URL:     defaultAPIURL,
			Timeout: defaultAPITimeout,
		},
		Deployment: DeploymentConfig{
			Memory: defaultMemory,
			CPU:    defaultCPU,
			Mode:   defaultMode,
		},
		Watch: WatchConfig{
			DebounceInterval: defaultDebounce,
			PollInterval:     defaultPollInterval,
			PollAttempts:     defaultPollAttempts,
			NotFoundGrace:    defaultNotFoundGrace,
			OverrideGrace:    defaultOverrideGrace,
		},
		Logging: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogFormat:        defaultLogFormat,
			LogRetentionDays: defaultLogRetentionDays,
		},
	}
}
