package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/liftoff/internal/config"
	"github.com/tonimelisma/liftoff/internal/deployapi"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// logFileMaxSizeMB is the size at which lumberjack rotates the log file.
const logFileMaxSizeMB = 50

// CLIFlags are the persistent flags every command sees.
type CLIFlags struct {
	JSON    bool
	Verbose bool
	Quiet   bool
}

// CLIContext carries the resolved configuration and logger from the root
// pre-run into subcommands via the command context.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Flags  CLIFlags

	closeLog func() error
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext installed by the root pre-run.
// Panics if called from a command that bypassed it.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("liftoff: CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "liftoff",
		Short: "Continuous deploys from your working tree",
		Long: `liftoff watches a project directory and keeps a remote deployment in
sync with it: the first sync uploads the whole tree, later edits are sent
as small incremental changesets.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadCLIContext(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext); ok && cc.closeLog != nil {
				return cc.closeLog()
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newDeploymentsCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIContext resolves the effective configuration from the four-layer
// override chain, builds the logger, and stores both in the command context.
func loadCLIContext(cmd *cobra.Command) error {
	cli, err := cliOverrides(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := CLIFlags{JSON: flagJSON, Verbose: flagVerbose, Quiet: flagQuiet}

	logger, closeLog := buildLogger(&cfg.Logging, flags, os.Stderr, isatty.IsTerminal(os.Stderr.Fd()))

	cc := &CLIContext{Cfg: cfg, Logger: logger, Flags: flags, closeLog: closeLog}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// cliOverrides collects config overrides from whichever deployment flags
// the running command defines and the user set.
func cliOverrides(cmd *cobra.Command) (config.CLIOverrides, error) {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}
	flags := cmd.Flags()

	stringFlags := []struct {
		name string
		dst  **string
	}{
		{"name", &cli.Name},
		{"domain", &cli.Domain},
		{"framework", &cli.Framework},
		{"mode", &cli.Mode},
	}

	for _, f := range stringFlags {
		if flags.Lookup(f.name) == nil || !flags.Changed(f.name) {
			continue
		}

		v, err := flags.GetString(f.name)
		if err != nil {
			return cli, err
		}

		*f.dst = &v
	}

	if flags.Lookup("debounce") != nil && flags.Changed("debounce") {
		d, err := flags.GetDuration("debounce")
		if err != nil {
			return cli, err
		}

		s := d.String()
		cli.Debounce = &s
	}

	if flags.Lookup("env") != nil && flags.Changed("env") {
		pairs, err := flags.GetStringArray("env")
		if err != nil {
			return cli, err
		}

		if cli.Env, err = parseEnvPairs(pairs); err != nil {
			return cli, err
		}
	}

	return cli, nil
}

// parseEnvPairs turns repeated KEY=VALUE flags into a map. Later pairs win.
func parseEnvPairs(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))

	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--env %q: expected KEY=VALUE", p)
		}

		env[k] = v
	}

	return env, nil
}

// buildLogger creates the process logger. The config file sets the
// baseline level; --verbose and --quiet override it. When log_file is set,
// output goes to a rotating file instead of stderr.
func buildLogger(cfg *config.LoggingConfig, flags CLIFlags, stderr io.Writer, stderrTTY bool) (*slog.Logger, func() error) {
	level := slog.LevelInfo

	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	out := stderr
	interactive := stderrTTY
	closeFn := func() error { return nil }

	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename: expandHome(cfg.LogFile),
			MaxSize:  logFileMaxSizeMB,
			MaxAge:   cfg.LogRetentionDays,
			Compress: true,
		}

		out = lj
		interactive = false
		closeFn = lj.Close
	}

	opts := &slog.HandlerOptions{Level: level}

	useJSON := cfg.LogFormat == "json" || (cfg.LogFormat == "auto" && !interactive)
	if useJSON {
		return slog.New(slog.NewJSONHandler(out, opts)), closeFn
	}

	return slog.New(slog.NewTextHandler(out, opts)), closeFn
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return home + path[1:]
}

// newAPIClient builds the deployment API client from the resolved config.
func newAPIClient(cc *CLIContext) (*deployapi.Client, error) {
	if err := cc.Cfg.RequireCredentials(); err != nil {
		return nil, err
	}

	httpClient := deployapi.NewHTTPClient(cc.Cfg.API.Token, cc.Cfg.API.APITimeout())

	return deployapi.NewClient(cc.Cfg.API.URL, httpClient, cc.Cfg.API.CustomerID, cc.Logger), nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
