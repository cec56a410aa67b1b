// Package main is the entry point for the memsync CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/flemzord/memsync/internal/config"
	"github.com/flemzord/memsync/internal/core"
	"github.com/flemzord/memsync/internal/security"
	"github.com/flemzord/memsync/pkg/app"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// exitCode is returned by commands that already reported their failure and
// only need the process to exit with a specific status.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func main() {
	err := rootCmd().Execute()
	if err == nil {
		return
	}
	var code exitCode
	if errors.As(err, &code) {
		os.Exit(int(code))
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(2)
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "memsync",
		Short:         "Keep vector, graph and history memory stores consistent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.PersistentFlags().String("data-dir", "", "Override data_dir from the configuration")
	root.PersistentFlags().String("log-level", "", "Override log.level (debug, info, warn, error)")

	root.AddCommand(
		versionCmd(),
		serveCmd(),
		resetCmd(),
		summaryCmd(),
		memoryCmd(),
		configCmd(),
	)
	return root
}

// runParams collects the persistent flags shared by every command.
func runParams(cmd *cobra.Command) app.RunParams {
	cfgPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	level, _ := cmd.Flags().GetString("log-level")
	return app.RunParams{
		ConfigPath: cfgPath,
		Version:    version,
		Commit:     commit,
		Date:       date,
		DataDir:    dataDir,
		LogLevel:   level,
		Stderr:     cmd.ErrOrStderr(),
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "memsync %s (commit: %s, built: %s)\n", version, commit, date)
			namespaces := core.Namespaces()
			if len(namespaces) == 0 {
				fmt.Fprintln(out, "\nNo compiled modules.")
				return
			}
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, ns := range namespaces {
				fmt.Fprintf(out, "  %s:\n", ns)
				for _, mod := range core.GetModulesByNamespace(ns) {
					fmt.Fprintf(out, "    %s\n", mod.ID)
				}
			}
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway and scheduled resets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), runParams(cmd))
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	check := &cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration and provision every module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := runParams(cmd)
			params.ConfigPath = args[0]

			rt, err := app.Build(cmd.Context(), params)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			ids := config.Resolve(rt.Config)
			fmt.Fprintf(out, "Configuration OK (%d modules)\n", len(ids))
			for _, id := range ids {
				fmt.Fprintf(out, "  %s\n", id)
			}

			if show, _ := cmd.Flags().GetBool("show"); show {
				return printModuleConfigs(cmd, rt.Config, rt.Redactor)
			}
			return nil
		},
	}
	check.Flags().Bool("show", false, "Print module configurations with secrets redacted")
	cmd.AddCommand(check)
	return cmd
}

// printModuleConfigs writes each module's YAML block after redaction.
func printModuleConfigs(cmd *cobra.Command, cfg *config.Config, redactor *security.Redactor) error {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := cmd.OutOrStdout()
	for _, id := range ids {
		node := cfg.Modules[id]
		redactor.RedactNode(&node)
		raw, err := yaml.Marshal(&node)
		if err != nil {
			return fmt.Errorf("marshaling %s config: %w", id, err)
		}
		fmt.Fprintf(out, "\n%s:\n", id)
		for _, line := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n") {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
	return nil
}
