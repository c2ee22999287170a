// Package runner executes the external commands every system mutation goes
// through: ip, sysctl, nft and netplan.
//
// The Runner interface is the seam between podnet and the host. Local runs
// commands on this machine, DryRun records them, and MockRunner scripts them
// in tests. A remote transport would be another Runner.
package runner

import (
	"context"
	"fmt"
	"strings"
)

// Command is one process invocation.
type Command struct {
	Name  string
	Args  []string
	Stdin string
}

// Cmd builds a Command.
func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// String renders the command line the way an operator would type it.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// WithStdin returns a copy of c that feeds input on stdin.
func (c Command) WithStdin(input string) Command {
	c.Stdin = input
	return c
}

// InNamespace wraps c so that it runs inside network namespace ns.
func InNamespace(ns string, c Command) Command {
	args := make([]string, 0, len(c.Args)+4)
	args = append(args, "netns", "exec", ns, c.Name)
	args = append(args, c.Args...)
	return Command{Name: "ip", Args: args, Stdin: c.Stdin}
}

// NetNS is a Runner that executes every command inside one namespace.
type NetNS struct {
	Namespace string
	Runner    Runner
}

func (n NetNS) Run(ctx context.Context, cmd Command) (Result, error) {
	return n.Runner.Run(ctx, InNamespace(n.Namespace, cmd))
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports whether the command exited zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes commands.
//
// Run returns an error only when the command could not be started or was
// cut short (context cancelled or timed out). A command that ran and exited
// non-zero returns a nil error and a Result carrying the exit code.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Check runs cmd and converts a non-zero exit into an error carrying stderr.
func Check(ctx context.Context, r Runner, cmd Command) (Result, error) {
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return res, err
	}
	if !res.Success() {
		return res, &ExitError{Command: cmd, Result: res}
	}
	return res, nil
}

// ExitError reports a command that exited non-zero.
type ExitError struct {
	Command Command
	Result  Result
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Result.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Result.Stdout)
	}
	if msg == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.Result.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.Result.ExitCode, msg)
}
