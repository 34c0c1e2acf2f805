package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/liftoff/internal/config"
	"github.com/tonimelisma/liftoff/internal/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [name]",
		Short: "Show recent sync cycles",
		Long: `Show recent sync cycles recorded by liftoff watch, newest first.
Without a name, cycles of every deployment are listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}

	cmd.Flags().IntP("limit", "n", history.DefaultRecentLimit, "maximum number of cycles to show")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	path := config.HistoryPath()
	if path == "" {
		return fmt.Errorf("cannot determine data directory for sync history")
	}

	if err := os.MkdirAll(filepath.Dir(path), cacheDirPermissions); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	store, err := history.Open(ctx, path, cc.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	cycles, err := store.Recent(ctx, name, limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		out := make([]cycleJSON, 0, len(cycles))
		for i := range cycles {
			out = append(out, cycleJSONFromCycle(&cycles[i]))
		}

		return printJSON(cmd.OutOrStdout(), out)
	}

	if len(cycles) == 0 {
		cc.Statusf("No sync history.\n")
		return nil
	}

	printCyclesTable(cmd.OutOrStdout(), cycles)

	return nil
}

func cycleJSONFromCycle(c *history.Cycle) cycleJSON {
	return cycleJSON{
		ID:          c.ID,
		Deployment:  c.Deployment,
		Kind:        c.Kind,
		Updated:     c.Updated,
		Deleted:     c.Deleted,
		ArchiveSize: c.ArchiveSize,
		Action:      c.Action,
		Outcome:     c.Outcome,
		Error:       c.Error,
		StartedAt:   c.StartedAt.UTC(),
		DurationMS:  c.Duration().Milliseconds(),
	}
}

func printCyclesTable(w io.Writer, cycles []history.Cycle) {
	rows := make([][]string, len(cycles))

	for i := range cycles {
		c := &cycles[i]

		size := "-"
		if c.ArchiveSize > 0 {
			size = humanize.Bytes(uint64(c.ArchiveSize))
		}

		rows[i] = []string{
			humanize.Time(c.StartedAt),
			c.Deployment,
			c.Kind,
			strconv.Itoa(c.Updated) + "/" + strconv.Itoa(c.Deleted),
			size,
			dash(c.Action),
			c.Outcome,
			formatDuration(c.Duration()),
			dash(c.Error),
		}
	}

	printTable(w,
		[]string{"STARTED", "DEPLOYMENT", "KIND", "UPD/DEL", "ARCHIVE", "ACTION", "OUTCOME", "TOOK", "ERROR"},
		rows)
}
