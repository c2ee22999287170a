package runner

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"grimm.is/podnet/internal/errors"
	"grimm.is/podnet/internal/logging"
)

// Local runs commands on this host.
type Local struct {
	logger *logging.Logger
}

// NewLocal creates a Local runner. A nil logger uses the default logger.
func NewLocal(logger *logging.Logger) *Local {
	if logger == nil {
		logger = logging.Default()
	}
	return &Local{logger: logger.WithComponent("runner")}
}

// Run executes cmd and waits for it to finish.
func (l *Local) Run(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	l.logger.Debug("exec", "cmd", cmd.String())
	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		kind := errors.KindInternal
		if ctxErr == context.DeadlineExceeded {
			kind = errors.KindTimeout
		}
		return res, errors.Wrapf(ctxErr, kind, "%s", cmd)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			l.logger.Debug("exec failed", "cmd", cmd.String(), "exit_code", res.ExitCode, "stderr", strings.TrimSpace(res.Stderr))
			return res, nil
		}
		res.ExitCode = -1
		return res, errors.Wrapf(err, errors.KindInternal, "failed to start %s", cmd.Name)
	}
	return res, nil
}
