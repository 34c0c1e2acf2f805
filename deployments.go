package main

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/liftoff/internal/deployapi"
)

func newDeploymentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "deployments",
		Aliases: []string{"ls"},
		Short:   "List remote deployments",
		Args:    cobra.NoArgs,
		RunE:    runDeployments,
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a deployment",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}
}

func runDeployments(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	client, err := newAPIClient(cc)
	if err != nil {
		return err
	}

	list, err := client.ListDeployments(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing deployments: %w", err)
	}

	slices.SortFunc(list, func(a, b deployapi.Deployment) int { return strings.Compare(a.Name, b.Name) })

	if cc.Flags.JSON {
		if list == nil {
			list = []deployapi.Deployment{}
		}

		return printJSON(cmd.OutOrStdout(), list)
	}

	if len(list) == 0 {
		cc.Statusf("No deployments.\n")
		return nil
	}

	printDeploymentsTable(cmd.OutOrStdout(), list)

	return nil
}

func printDeploymentsTable(w io.Writer, list []deployapi.Deployment) {
	rows := make([][]string, len(list))
	for i, d := range list {
		rows[i] = []string{d.Name, string(d.Status), dash(d.Framework), dash(d.Domain), dash(d.Error)}
	}

	printTable(w, []string{"NAME", "STATUS", "FRAMEWORK", "DOMAIN", "ERROR"}, rows)
}

func runRm(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	name := args[0]

	client, err := newAPIClient(cc)
	if err != nil {
		return err
	}

	cc.Logger.Debug("rm", "deployment", name)

	existing, err := client.FindDeployment(cmd.Context(), name)
	if err != nil {
		return fmt.Errorf("looking up %q: %w", name, err)
	}

	if existing == nil {
		return fmt.Errorf("deployment %q not found", name)
	}

	if err := client.DeleteDeployment(cmd.Context(), name); err != nil {
		if errors.Is(err, deployapi.ErrNotFound) {
			return fmt.Errorf("deployment %q not found", name)
		}

		return fmt.Errorf("deleting %q: %w", name, err)
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), map[string]string{"deleted": name})
	}

	cc.Statusf("Deleted deployment %q\n", name)

	return nil
}
