package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/charmbracelet/huh"
	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/reset"
	"github.com/flemzord/memsync/pkg/app"
	"github.com/spf13/cobra"
)

// confirmReset asks the operator to approve a destructive reset. Replaced in
// tests.
var confirmReset = func(sum reset.Summary) (bool, error) {
	var ok bool
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Reset %s?", sum.Scope)).
			Description("Removed records cannot be recovered.").
			Affirmative("Reset").
			Negative("Cancel").
			Value(&ok),
	)).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Remove memories from the vector, graph and history stores",
		Long: `Reset removes records from every store that is not kept.

With --preserve-user or --preserve-agent only the records of that user or
agent survive; everything else in scope is removed. Exits 0 on success and
1 when the reset is declined or one of the stores fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := resetOptions(cmd)
			if err != nil {
				if errors.Is(err, reset.ErrNothingToReset) {
					fmt.Fprintln(cmd.ErrOrStderr(), err)
					return exitCode(1)
				}
				return err
			}

			rt, err := app.Build(cmd.Context(), runParams(cmd))
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			sum := rt.Reset.Summary(cmd.Context(), opts)
			printSummary(out, sum)

			if !opts.Force && !opts.DryRun {
				ok, err := confirmReset(sum)
				if err != nil {
					return fmt.Errorf("confirmation prompt: %w", err)
				}
				if !ok {
					fmt.Fprintln(out, "Reset cancelled.")
					return exitCode(1)
				}
				opts.Force = true
			}

			rep := rt.Reset.Reset(cmd.Context(), opts)
			printReport(out, rep)
			if !rep.Success {
				return exitCode(1)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.Bool("keep-vector", false, "Do not reset the vector store")
	f.Bool("keep-graph", false, "Do not reset the graph store")
	f.Bool("keep-history", false, "Do not reset the history log")
	f.Bool("force", false, "Skip the confirmation prompt")
	f.Bool("dry-run", false, "Print what would be removed without removing it")
	f.String("preserve-user", "", "Keep the memories of this user id")
	f.String("preserve-agent", "", "Keep the memories of this agent id")
	return cmd
}

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show what a reset would remove",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := resetOptions(cmd)
			if err != nil {
				return err
			}
			rt, err := app.Build(cmd.Context(), runParams(cmd))
			if err != nil {
				return err
			}
			defer rt.Close()

			printSummary(cmd.OutOrStdout(), rt.Reset.Summary(cmd.Context(), opts))
			return nil
		},
	}
	f := cmd.Flags()
	f.Bool("keep-vector", false, "Exclude the vector store")
	f.Bool("keep-graph", false, "Exclude the graph store")
	f.Bool("keep-history", false, "Exclude the history log")
	f.String("preserve-user", "", "Keep the memories of this user id")
	f.String("preserve-agent", "", "Keep the memories of this agent id")
	return cmd
}

// resetOptions reads the keep, preserve, force and dry-run flags. Flags a
// command does not define read as their zero value.
func resetOptions(cmd *cobra.Command) (reset.Options, error) {
	f := cmd.Flags()
	keepVector, _ := f.GetBool("keep-vector")
	keepGraph, _ := f.GetBool("keep-graph")
	keepHistory, _ := f.GetBool("keep-history")
	force, _ := f.GetBool("force")
	dryRun, _ := f.GetBool("dry-run")
	user, _ := f.GetString("preserve-user")
	agent, _ := f.GetString("preserve-agent")

	preserve := memory.Filters{}
	if user != "" {
		preserve[memory.KeyUserID] = user
	}
	if agent != "" {
		preserve[memory.KeyAgentID] = agent
	}
	return reset.FromFlags(keepVector, keepGraph, keepHistory, force, dryRun, preserve)
}

func printSummary(w io.Writer, sum reset.Summary) {
	fmt.Fprintf(w, "Reset scope: %s\n", sum.Scope)
	if len(sum.PreserveFilters) > 0 {
		fmt.Fprintf(w, "Preserving: %v\n", map[string]string(sum.PreserveFilters))
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPONENT\tIN SCOPE\tRECORDS\tDESCRIPTION")
	for _, c := range sum.Components {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", c.Component, c.InScope, c.Count, c.Description)
	}
	tw.Flush()
}

func printReport(w io.Writer, rep *reset.Report) {
	switch {
	case rep.DryRun:
		fmt.Fprintln(w, "Dry run, nothing removed.")
	case rep.Success:
		fmt.Fprintln(w, "Reset complete.")
	default:
		fmt.Fprintln(w, "Reset failed.")
	}
	for _, c := range rep.Scope.Components() {
		if n, ok := rep.Removed[c]; ok {
			fmt.Fprintf(w, "  %s: %d removed\n", c, n)
		}
	}
	for _, warn := range rep.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	for _, e := range rep.Errors {
		fmt.Fprintf(w, "  error: [%s] %s\n", e.Kind, e.Message)
	}
}
