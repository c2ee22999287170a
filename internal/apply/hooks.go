package apply

import (
	"context"

	"grimm.is/podnet/internal/runner"
)

// Validator runs the external syntax check for a written file.
type Validator interface {
	Validate(ctx context.Context, path string) error
}

// Activator makes a written, validated file live.
type Activator interface {
	Activate(ctx context.Context, path string) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, path string) error

func (f ValidatorFunc) Validate(ctx context.Context, path string) error { return f(ctx, path) }

// ActivatorFunc adapts a function to Activator.
type ActivatorFunc func(ctx context.Context, path string) error

func (f ActivatorFunc) Activate(ctx context.Context, path string) error { return f(ctx, path) }

// CommandStep validates or activates by running a command built from the
// target path. A non-zero exit is a failure.
type CommandStep struct {
	Runner  runner.Runner
	Command func(path string) runner.Command
}

func (s CommandStep) Validate(ctx context.Context, path string) error {
	_, err := runner.Check(ctx, s.Runner, s.Command(path))
	return err
}

func (s CommandStep) Activate(ctx context.Context, path string) error {
	_, err := runner.Check(ctx, s.Runner, s.Command(path))
	return err
}

// Hooks are the per-artifact collaborators of a transaction.
type Hooks struct {
	// Artifact names the kind of file for logs and metrics ("nftables", "netplan").
	Artifact  string
	Validator Validator
	Activator Activator
	// ReactivateOnRollback re-runs the activator after restoring the previous
	// content when activation had been attempted. Needed when activation
	// reads a whole directory (netplan) rather than the one file.
	ReactivateOnRollback bool
}
