package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/liftoff/internal/config"
	"github.com/tonimelisma/liftoff/internal/history"
	"github.com/tonimelisma/liftoff/internal/watch"
)

// historyRetention is how long finished cycles stay in the history store.
const historyRetention = 90 * 24 * time.Hour

const cacheDirPermissions = 0o700

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Keep a deployment in sync with a project directory",
		Long: `Watch a project directory and deploy every change.

If no deployment with the project's name exists, the whole tree is uploaded
as an archive first. After that, edits are collected for the debounce
window and sent as one incremental changeset. Builds and restarts are
followed until they finish. Press Ctrl-C to stop; pending changes are
dropped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runWatch,
	}

	cmd.Flags().String("name", "", "deployment name (default: package.json name or directory name)")
	cmd.Flags().String("domain", "", "custom domain for the deployment")
	cmd.Flags().String("framework", "", "framework tag passed to the build service")
	cmd.Flags().String("mode", "", "deployment mode: preview or development")
	cmd.Flags().Duration("debounce", 0, "quiet period before changes are synced")
	cmd.Flags().Bool("override", false, "delete an existing deployment with the same name before starting")
	cmd.Flags().StringArray("env", nil, "environment variable for the deployment, KEY=VALUE (repeatable)")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	root := "."
	if len(args) > 0 {
		root = args[0]
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", root, err)
	}

	client, err := newAPIClient(cc)
	if err != nil {
		return err
	}

	desc, err := config.BuildDescriptor(cc.Cfg, absRoot)
	if err != nil {
		return err
	}

	override, err := cmd.Flags().GetBool("override")
	if err != nil {
		return err
	}

	releaseLock, err := writePIDFile(projectLockPath(config.LocksDir(), absRoot))
	if err != nil {
		return err
	}
	defer releaseLock()

	ctx, stop := shutdownContext(cmd.Context(), logger)
	defer stop()

	console := newConsoleObserver(os.Stdout, absRoot, isatty.IsTerminal(os.Stdout.Fd()), cc.Flags.JSON)
	observers := watch.MultiObserver{console}

	if store := openHistory(ctx, logger); store != nil {
		defer store.Close()

		observers = append(observers, history.NewRecorder(store, logger))
	}

	archiveDir := config.DefaultCacheDir()
	if archiveDir != "" {
		if err := os.MkdirAll(archiveDir, cacheDirPermissions); err != nil {
			logger.Warn("cannot create cache directory, using system temp",
				slog.String("dir", archiveDir), slog.String("error", err.Error()))

			archiveDir = ""
		}
	}

	session := watch.NewSession(&watch.SessionConfig{
		Root:          absRoot,
		Descriptor:    desc,
		Client:        client,
		Matcher:       watch.NewMatcher(cc.Cfg.Watch.SkipDirs, cc.Cfg.Watch.SkipFiles),
		Debounce:      cc.Cfg.Watch.Debounce(),
		PollInterval:  cc.Cfg.Watch.Poll(),
		PollAttempts:  cc.Cfg.Watch.PollAttempts,
		NotFoundGrace: cc.Cfg.Watch.NotFoundGrace,
		Override:      override,
		OverrideGrace: cc.Cfg.Watch.Grace(),
		ArchiveDir:    archiveDir,
		Observer:      observers,
		Logger:        logger,
	})

	cc.Statusf("Watching %s as deployment %q (%s mode)\n", absRoot, desc.Name, desc.Mode)

	if err := session.Run(ctx); err != nil {
		return err
	}

	cc.Statusf("Stopped watching %s\n", absRoot)

	return nil
}

// openHistory opens the sync history store and prunes old cycles. History
// is optional: failures are logged and nil is returned.
func openHistory(ctx context.Context, logger *slog.Logger) *history.Store {
	path := config.HistoryPath()
	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), cacheDirPermissions); err != nil {
		logger.Warn("sync history disabled", slog.String("error", err.Error()))
		return nil
	}

	store, err := history.Open(ctx, path, logger)
	if err != nil {
		logger.Warn("sync history disabled", slog.String("error", err.Error()))
		return nil
	}

	if _, err := store.Prune(ctx, historyRetention); err != nil {
		logger.Warn("pruning sync history failed", slog.String("error", err.Error()))
	}

	return store
}
