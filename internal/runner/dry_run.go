package runner

import (
	"context"
	"sync"
)

// DryRun records commands instead of executing them. Every command succeeds
// unless Respond says otherwise.
type DryRun struct {
	mu       sync.Mutex
	Commands []Command

	// Respond, when set, decides the outcome of each command.
	Respond func(Command) (Result, error)
}

// NewDryRun creates a DryRun runner.
func NewDryRun() *DryRun {
	return &DryRun{Commands: make([]Command, 0)}
}

// Run records cmd.
func (d *DryRun) Run(ctx context.Context, cmd Command) (Result, error) {
	d.mu.Lock()
	d.Commands = append(d.Commands, cmd)
	respond := d.Respond
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, err
	}
	if respond != nil {
		return respond(cmd)
	}
	return Result{}, nil
}

// Lines returns the recorded commands as strings.
func (d *DryRun) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.Commands))
	for i, c := range d.Commands {
		out[i] = c.String()
	}
	return out
}

// Reset clears the recorded commands.
func (d *DryRun) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Commands = d.Commands[:0]
}
