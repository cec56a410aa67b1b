package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"
)

const shutdownTimeout = 30 * time.Second

// App owns the modules of one memsync process, in load order. Stores are
// loaded by LoadModules; long-running components (gateway, scheduler) are
// added afterwards with Append so they stop before the stores they use.
type App struct {
	ctx     *AppContext
	modules []moduleInstance
	logger  *slog.Logger
}

type moduleInstance struct {
	id      ModuleID
	module  Module
	started bool
}

// NewApp creates an App over ctx.
func NewApp(ctx *AppContext) *App {
	return &App{
		ctx:    ctx,
		logger: ctx.Logger.With("component", "core"),
	}
}

// Context returns the AppContext modules were loaded with.
func (a *App) Context() *AppContext { return a.ctx }

// LoadModules configures, provisions and validates the modules in ids, in
// order. On failure every module loaded so far is closed.
func (a *App) LoadModules(ids []string) error {
	for _, id := range ids {
		mod, err := a.ctx.LoadModule(id)
		if err != nil {
			if cerr := a.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
			return fmt.Errorf("loading module %s: %w", id, err)
		}
		a.add(mod, "module loaded")
	}
	return nil
}

// Append adds an already-built component. It starts after every module
// added before it and stops before them.
func (a *App) Append(mod Module) {
	a.add(mod, "module appended")
}

func (a *App) add(mod Module, msg string) {
	id := mod.ModuleInfo().ID
	a.modules = append(a.modules, moduleInstance{id: id, module: mod})
	a.logger.Debug(msg, "module", string(id))
}

// Modules returns the IDs of the loaded modules in load order.
func (a *App) Modules() []ModuleID {
	ids := make([]ModuleID, 0, len(a.modules))
	for _, mi := range a.modules {
		ids = append(ids, mi.id)
	}
	return ids
}

// Start starts every Starter in load order. When one fails, all modules are
// closed and the start error is returned.
func (a *App) Start() error {
	for i := range a.modules {
		mi := &a.modules[i]
		s, ok := mi.module.(Starter)
		if !ok {
			continue
		}
		a.logger.Info("starting module", "module", string(mi.id))
		if err := s.Start(); err != nil {
			err = fmt.Errorf("starting module %s: %w", mi.id, err)
			if cerr := a.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
			return err
		}
		mi.started = true
	}
	return nil
}

// Close stops every Stopper in reverse load order, started or not, and
// forgets all modules. Stop errors are logged and joined.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(a.modules) - 1; i >= 0; i-- {
		mi := &a.modules[i]
		s, ok := mi.module.(Stopper)
		if !ok {
			continue
		}
		if err := s.Stop(ctx); err != nil {
			a.logger.Error("module stop failed", "module", string(mi.id), "started", mi.started, "error", err)
			errs = append(errs, fmt.Errorf("stopping module %s: %w", mi.id, err))
		}
	}
	a.modules = nil
	return errors.Join(errs...)
}

// Run starts all modules and blocks until ctx is done or SIGINT/SIGTERM is
// received, then closes every module.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	a.logger.Info("shutting down")

	if err := a.Close(); err != nil {
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}
