package config

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
)

const redactedToken = "<redacted>"

// Redacted returns a copy of c with the API token masked, safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.API.Token != "" {
		out.API.Token = redactedToken
	}

	out.Deployment.Env = maps.Clone(c.Deployment.Env)
	out.Watch.SkipDirs = slices.Clone(c.Watch.SkipDirs)
	out.Watch.SkipFiles = slices.Clone(c.Watch.SkipFiles)

	return &out
}

// RenderEffective writes the resolved configuration in TOML-like form to w.
// The token is always redacted.
func RenderEffective(c *Config, w io.Writer) error {
	ew := &errWriter{w: w}
	r := c.Redacted()

	ew.printf("# Effective configuration\n\n")

	ew.printf("[api]\n")
	ew.printf("  url         = %q\n", r.API.URL)
	ew.printf("  token       = %q\n", r.API.Token)
	ew.printf("  customer_id = %q\n", r.API.CustomerID)
	ew.printf("  timeout     = %q\n\n", r.API.Timeout)

	ew.printf("[deployment]\n")
	ew.printf("  name      = %q\n", r.Deployment.Name)
	ew.printf("  domain    = %q\n", r.Deployment.Domain)
	ew.printf("  framework = %q\n", r.Deployment.Framework)
	ew.printf("  memory    = %q\n", r.Deployment.Memory)
	ew.printf("  cpu       = %q\n", r.Deployment.CPU)
	ew.printf("  mode      = %q\n", r.Deployment.Mode)

	for _, k := range slices.Sorted(maps.Keys(r.Deployment.Env)) {
		ew.printf("  env.%s = %q\n", k, r.Deployment.Env[k])
	}

	ew.printf("\n[watch]\n")
	ew.printf("  debounce_interval = %q\n", r.Watch.DebounceInterval)
	ew.printf("  poll_interval     = %q\n", r.Watch.PollInterval)
	ew.printf("  poll_attempts     = %d\n", r.Watch.PollAttempts)
	ew.printf("  not_found_grace   = %d\n", r.Watch.NotFoundGrace)
	ew.printf("  override_grace    = %q\n", r.Watch.OverrideGrace)

	if len(r.Watch.SkipDirs) > 0 {
		ew.printf("  skip_dirs         = [%s]\n", joinQuoted(r.Watch.SkipDirs))
	}

	if len(r.Watch.SkipFiles) > 0 {
		ew.printf("  skip_files        = [%s]\n", joinQuoted(r.Watch.SkipFiles))
	}

	ew.printf("\n[logging]\n")
	ew.printf("  log_level          = %q\n", r.Logging.LogLevel)
	ew.printf("  log_file           = %q\n", r.Logging.LogFile)
	ew.printf("  log_format         = %q\n", r.Logging.LogFormat)
	ew.printf("  log_retention_days = %d\n", r.Logging.LogRetentionDays)

	return ew.err
}

// errWriter captures the first write error; later writes are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return strings.Join(quoted, ", ")
}
