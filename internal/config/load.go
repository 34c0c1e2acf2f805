package config

import (
	"errors"
	"fmt"
	"maps"
	"os"

	"github.com/BurntSushi/toml"
)

// CLIOverrides holds values from command-line flags. Pointer fields are nil
// when the flag was not given.
type CLIOverrides struct {
	ConfigPath string
	Name       *string
	Domain     *string
	Framework  *string
	Mode       *string
	Debounce   *string
	Env        map[string]string
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags. The result
// is validated again after the overrides are applied.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg, env)
	applyCLI(cfg, &cli)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config, env EnvOverrides) {
	if env.Token != "" {
		cfg.API.Token = env.Token
	}

	if env.CustomerID != "" {
		cfg.API.CustomerID = env.CustomerID
	}

	if env.APIURL != "" {
		cfg.API.URL = env.APIURL
	}
}

func applyCLI(cfg *Config, cli *CLIOverrides) {
	setIf(&cfg.Deployment.Name, cli.Name)
	setIf(&cfg.Deployment.Domain, cli.Domain)
	setIf(&cfg.Deployment.Framework, cli.Framework)
	setIf(&cfg.Deployment.Mode, cli.Mode)
	setIf(&cfg.Watch.DebounceInterval, cli.Debounce)

	if len(cli.Env) > 0 {
		merged := make(map[string]string, len(cfg.Deployment.Env)+len(cli.Env))
		maps.Copy(merged, cfg.Deployment.Env)
		maps.Copy(merged, cli.Env)
		cfg.Deployment.Env = merged
	}
}

func setIf(dst, src *string) {
	if src != nil {
		*dst = *src
	}
}

// RequireCredentials reports an error when the token needed for any
// remote call is missing.
func (c *Config) RequireCredentials() error {
	if c.API.Token == "" {
		return fmt.Errorf("no API token configured: set %s or [api] token in the config file", EnvToken)
	}

	return nil
}
