package config

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"time"
)

// Validation range constants.
const (
	minAPITimeout    = 1 * time.Second
	minDebounce      = 100 * time.Millisecond
	minPollInterval  = 500 * time.Millisecond
	minPollAttempts  = 1
	maxPollAttempts  = 1000
	minNotFoundGrace = 1
	minMemoryBytes   = 64 << 20
	minLogRetention  = 1
)

var (
	// Deployment names become subdomains, so they follow DNS label rules.
	deploymentNameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	envNameRe        = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

var (
	validModes      = map[string]bool{"preview": true, "development": true}
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}
)

// Validate checks all configuration values and returns every error found,
// joined, so all problems can be fixed in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateDeployment(&cfg.Deployment)...)
	errs = append(errs, validateWatch(&cfg.Watch)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

// ValidDeploymentName reports whether name is usable as a deployment name.
func ValidDeploymentName(name string) bool {
	return deploymentNameRe.MatchString(name)
}

func validateAPI(a *APIConfig) []error {
	var errs []error

	u, err := url.Parse(a.URL)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("api.url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("api.url: scheme must be http or https, got %q", a.URL))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("api.url: missing host in %q", a.URL))
	}

	errs = append(errs, validateMinDuration("api.timeout", a.Timeout, minAPITimeout)...)

	return errs
}

func validateDeployment(d *DeploymentConfig) []error {
	var errs []error

	if d.Name != "" && !ValidDeploymentName(d.Name) {
		errs = append(errs, fmt.Errorf(
			"deployment.name: %q must be lowercase letters, digits and hyphens (max 63)", d.Name))
	}

	if !validModes[d.Mode] {
		errs = append(errs, fmt.Errorf("deployment.mode: must be preview or development, got %q", d.Mode))
	}

	mem, err := ParseMemory(d.Memory)
	if err != nil {
		errs = append(errs, fmt.Errorf("deployment.memory: %w", err))
	} else if mem < minMemoryBytes {
		errs = append(errs, fmt.Errorf("deployment.memory: must be at least 64Mi, got %s", d.Memory))
	}

	cpu, err := strconv.ParseFloat(d.CPU, 64)
	if err != nil || cpu <= 0 {
		errs = append(errs, fmt.Errorf("deployment.cpu: must be a positive number, got %q", d.CPU))
	}

	for k := range d.Env {
		if !envNameRe.MatchString(k) {
			errs = append(errs, fmt.Errorf("deployment.env: invalid variable name %q", k))
		}
	}

	return errs
}

func validateWatch(w *WatchConfig) []error {
	var errs []error

	errs = append(errs, validateMinDuration("watch.debounce_interval", w.DebounceInterval, minDebounce)...)
	errs = append(errs, validateMinDuration("watch.poll_interval", w.PollInterval, minPollInterval)...)
	errs = append(errs, validateMinDuration("watch.override_grace", w.OverrideGrace, 0)...)

	if w.PollAttempts < minPollAttempts || w.PollAttempts > maxPollAttempts {
		errs = append(errs, fmt.Errorf("watch.poll_attempts: must be between %d and %d, got %d",
			minPollAttempts, maxPollAttempts, w.PollAttempts))
	}

	if w.NotFoundGrace < minNotFoundGrace {
		errs = append(errs, fmt.Errorf("watch.not_found_grace: must be >= %d, got %d",
			minNotFoundGrace, w.NotFoundGrace))
	}

	errs = append(errs, validatePatterns("watch.skip_dirs", w.SkipDirs)...)
	errs = append(errs, validatePatterns("watch.skip_files", w.SkipFiles)...)

	return errs
}

func validatePatterns(field string, patterns []string) []error {
	var errs []error

	for _, p := range patterns {
		if p == "" {
			errs = append(errs, fmt.Errorf("%s: empty pattern", field))
			continue
		}

		if _, err := path.Match(p, ""); err != nil {
			errs = append(errs, fmt.Errorf("%s: pattern %q: %w", field, p, err))
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be debug, info, warn or error, got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be auto, text or json, got %q", l.LogFormat))
	}

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("logging.log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	return errs
}

func validateMinDuration(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, value)}
	}

	return nil
}
