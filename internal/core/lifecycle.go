package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Configurable is implemented by modules that accept YAML configuration.
// Configure receives the module's section of the "modules" map and runs
// before Provision. It is skipped when the section is absent.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner is implemented by modules that open resources (database
// files, API clients) and publish them with AppContext.RegisterService.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator is implemented by modules that can verify their configuration
// is complete and correct. Called after Provision().
// Validate should be read-only, with no side effects.
type Validator interface {
	Validate() error
}

// Starter is implemented by modules that run background work such as
// listeners or schedulers. Only long-running commands start modules.
type Starter interface {
	Start() error
}

// Stopper is implemented by modules holding resources. Stop is called in
// reverse load order, whether or not the module was started.
type Stopper interface {
	Stop(ctx context.Context) error
}
