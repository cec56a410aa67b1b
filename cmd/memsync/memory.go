package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flemzord/memsync/internal/consistency"
	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/resilience"
	"github.com/flemzord/memsync/pkg/app"
	"github.com/spf13/cobra"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Add, search and inspect memories",
	}
	cmd.AddCommand(
		memoryAddCmd(),
		memorySearchCmd(),
		memoryGetCmd(),
		memoryHistoryCmd(),
		memoryUpdateCmd(),
		memoryDeleteCmd(),
		memoryDeleteAllCmd(),
	)
	return cmd
}

// scopeFlags registers the identity flags on cmd.
func scopeFlags(cmd *cobra.Command) {
	cmd.Flags().String("user", "", "User id")
	cmd.Flags().String("agent", "", "Agent id")
	cmd.Flags().String("run", "", "Run id")
}

func scopeFilters(cmd *cobra.Command) memory.Filters {
	f := memory.Filters{}
	for flag, key := range map[string]string{
		"user":  memory.KeyUserID,
		"agent": memory.KeyAgentID,
		"run":   memory.KeyRunID,
	} {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			f[key] = v
		}
	}
	return f
}

// withRuntime builds the runtime, runs fn and releases the runtime.
func withRuntime(cmd *cobra.Command, fn func(rt *app.Runtime) error) error {
	rt, err := app.Build(cmd.Context(), runParams(cmd))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runSync executes one synchronized operation and prints its result. A
// failed operation exits with status 1 after the result is printed.
func runSync(cmd *cobra.Command, op consistency.Operation, p consistency.Payload, filters memory.Filters) error {
	return withRuntime(cmd, func(rt *app.Runtime) error {
		res := rt.Sync.SynchronizedOperation(cmd.Context(), op, p, filters)
		if err := printJSON(cmd, res); err != nil {
			return err
		}
		if !res.Success {
			return exitCode(1)
		}
		return nil
	})
}

func memoryAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <text>...",
		Short: "Store a message as memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			infer, _ := cmd.Flags().GetBool("infer")
			meta, _ := cmd.Flags().GetStringToString("meta")
			return runSync(cmd, consistency.OpAdd, consistency.Payload{
				Messages: []memory.Message{{Role: role, Content: strings.Join(args, " ")}},
				Metadata: meta,
				Infer:    infer,
			}, scopeFilters(cmd))
		},
	}
	scopeFlags(cmd)
	cmd.Flags().String("role", "user", "Message role")
	cmd.Flags().Bool("infer", false, "Extract facts with the LLM instead of storing the raw message")
	cmd.Flags().StringToString("meta", nil, "Extra metadata (key=value)")
	return cmd
}

func memorySearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search memories by similarity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			opts := memory.SearchOptions{Filters: scopeFilters(cmd), Limit: limit}
			if cmd.Flags().Changed("threshold") {
				th, _ := cmd.Flags().GetFloat64("threshold")
				opts.Threshold = &th
			}
			query := strings.Join(args, " ")

			return withRuntime(cmd, func(rt *app.Runtime) error {
				items, err := rt.Vector.Search(cmd.Context(), query, opts)
				if err != nil {
					return err
				}
				out := struct {
					Results   []memory.Item     `json:"results"`
					Relations []memory.Relation `json:"relations,omitempty"`
				}{Results: items}

				if rt.Graph.Enabled() && !rt.Sync.SingleStore() {
					rels, err := rt.Graph.Search(cmd.Context(), query, opts.Filters, limit)
					if err != nil {
						rt.Logger.Warn("graph search failed", "error", err)
					}
					out.Relations = rels
				}
				return printJSON(cmd, out)
			})
		},
	}
	scopeFlags(cmd)
	cmd.Flags().Int("limit", 10, "Maximum number of results")
	cmd.Flags().Float64("threshold", 0, "Minimum similarity score")
	return cmd
}

func memoryGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(rt *app.Runtime) error {
				it, err := rt.Vector.Get(cmd.Context(), args[0])
				if resilience.KindOf(err) == resilience.KindNotFound {
					fmt.Fprintf(cmd.ErrOrStderr(), "memory %s not found\n", args[0])
					return exitCode(1)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd, it)
			})
		},
	}
}

func memoryHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Print the change history of one memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(rt *app.Runtime) error {
				entries, err := rt.Vector.History(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, entries)
			})
		},
	}
}

func memoryUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <id> <text>...",
		Short: "Replace the text of a memory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, consistency.OpUpdate, consistency.Payload{
				MemoryID: args[0],
				Text:     strings.Join(args[1:], " "),
			}, nil)
		},
	}
}

func memoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, consistency.OpDelete, consistency.Payload{MemoryID: args[0]}, nil)
		},
	}
}

func memoryDeleteAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every memory of a user, agent or run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, consistency.OpDeleteAll, consistency.Payload{}, scopeFilters(cmd))
		},
	}
	scopeFlags(cmd)
	return cmd
}
