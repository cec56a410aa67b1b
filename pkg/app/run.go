// Package app provides the shared runtime behind every memsync command: it
// loads the configuration, provisions the store modules and wires the
// resilience, consistency and reset layers on top of them.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/flemzord/memsync/internal/config"
	"github.com/flemzord/memsync/internal/cron"
	"github.com/flemzord/memsync/internal/gateway"
	"github.com/flemzord/memsync/internal/reset"
)

// RunParams configures the runtime.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides data_dir from the configuration.
	DataDir string

	// LogLevel overrides log.level from the configuration.
	LogLevel string

	// Stderr receives log output. Defaults to os.Stderr.
	Stderr io.Writer
}

// LoadConfig resolves, loads, defaults and validates the configuration.
func LoadConfig(params RunParams) (*config.Config, string, error) {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, "", err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", err
	}
	switch {
	case params.DataDir != "":
		cfg.DataDir = params.DataDir
	case cfg.DataDir == "":
		cfg.DataDir = DefaultDataDir()
	}
	if params.LogLevel != "" {
		cfg.Log.Level = params.LogLevel
	}
	cfg.ApplyDefaults()

	if err := config.Validate(cfg); err != nil {
		return nil, "", err
	}
	return cfg, cfgPath, nil
}

// Run builds the runtime, appends the HTTP gateway and the reset scheduler,
// and blocks until ctx is done or a shutdown signal is received.
func Run(ctx context.Context, params RunParams) error {
	rt, err := Build(ctx, params)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.wireServe(); err != nil {
		return err
	}
	rt.Logger.Info("memsync starting",
		"version", params.Version,
		"commit", params.Commit,
		"modules", len(rt.App.Modules()),
	)
	return rt.App.Run(ctx)
}

// wireServe appends the long-running components to the App lifecycle.
func (rt *Runtime) wireServe() error {
	gw, err := gateway.New(gateway.Config{
		Bind:        rt.Config.Gateway.Bind,
		BearerToken: rt.Config.Gateway.BearerToken,
	}, gateway.Deps{
		Breakers: rt.Breakers(),
		Gatherer: rt.Registry,
		Registry: rt.Registry,
		Resetter: rt.Reset,
		Logger:   rt.Logger.With("component", "gateway"),
	})
	if err != nil {
		return err
	}
	rt.App.Append(gw)

	if len(rt.Config.Reset.Jobs) == 0 {
		return nil
	}
	sched := cron.NewScheduler(rt.Logger.With("component", "cron"))
	for _, j := range rt.Config.Reset.Jobs {
		scope, err := reset.ParseScope(j.Scope)
		if err != nil {
			return err
		}
		job := &cron.ResetJob{
			JobName:      j.Name,
			ScheduleExpr: j.Schedule,
			Options: reset.Options{
				Scope:           scope,
				PreserveFilters: j.Preserve,
			},
			Resetter: rt.Reset,
			Logger:   rt.Logger,
		}
		if err := sched.RegisterJob(job); err != nil {
			return err
		}
	}
	rt.App.Append(sched)
	return nil
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/memsync/memsync.yaml → ~/.config/memsync/memsync.yaml → ./memsync.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "memsync", "memsync.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "memsync", "memsync.yaml"))
	}

	candidates = append(candidates, "memsync.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/memsync if set, otherwise ~/.local/share/memsync per the XDG spec.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "memsync")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "memsync")
}
