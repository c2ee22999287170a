// Package apply writes generated configuration files transactionally.
//
// A transaction backs up the current target, writes the new content,
// validates it, activates it and deletes the backup. Any failure after the
// write restores the previous content (or deletes the new file when there
// was none) so the target ends up either new and active or exactly as it
// was. The only exception is a failed rollback, which is reported as
// KindRollbackFailed and leaves the backup in place for the operator.
package apply

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"grimm.is/podnet/internal/clock"
	"grimm.is/podnet/internal/errors"
	"grimm.is/podnet/internal/logging"
	"grimm.is/podnet/internal/metrics"
)

// Options tunes the engine.
type Options struct {
	// StepTimeout bounds each validate, activate and rollback step.
	StepTimeout time.Duration
	Rollback    RetryConfig
	FileMode    os.FileMode
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		StepTimeout: 60 * time.Second,
		Rollback:    RollbackRetryConfig(),
		FileMode:    0o644,
	}
}

// Engine runs apply and remove transactions.
type Engine struct {
	fs      FileSystem
	opts    Options
	logger  *logging.Logger
	metrics *metrics.Registry
	clock   clock.Clock
}

// NewEngine creates an engine. Nil dependencies fall back to the OS file
// system, the default logger and no metrics.
func NewEngine(fsys FileSystem, logger *logging.Logger, m *metrics.Registry, opts Options) *Engine {
	if fsys == nil {
		fsys = OSFileSystem{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultOptions().StepTimeout
	}
	if opts.Rollback.MaxAttempts <= 0 {
		opts.Rollback = RollbackRetryConfig()
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0o644
	}
	return &Engine{
		fs:      fsys,
		opts:    opts,
		logger:  logger.WithComponent("apply"),
		metrics: m,
		clock:   clock.RealClock{},
	}
}

// SetClock replaces the clock used for transition timestamps.
func (e *Engine) SetClock(c clock.Clock) {
	e.clock = c
}

func (e *Engine) newTransaction(target string) *Transaction {
	id := uuid.NewString()
	return &Transaction{
		ID:         id,
		TargetPath: target,
		BackupPath: fmt.Sprintf("%s.bak-%s", target, id[:8]),
		State:      StatePending,
	}
}

// Apply writes content to target and runs it through validation and
// activation. The returned transaction is non-nil even on error.
func (e *Engine) Apply(ctx context.Context, target string, content []byte, hooks Hooks) (*Transaction, error) {
	tx := e.newTransaction(target)
	tx.Content = content
	return tx, e.run(ctx, tx, hooks)
}

// Remove deletes target and activates the result. A missing target is a
// successful no-op: the transaction stays Pending and Unchanged reports true.
func (e *Engine) Remove(ctx context.Context, target string, hooks Hooks) (*Transaction, bool, error) {
	tx := e.newTransaction(target)
	tx.Remove = true

	exists, err := e.fs.Exists(target)
	if err != nil {
		return tx, false, errors.Wrapf(err, errors.KindWriteFailed, "stat %s", target)
	}
	if !exists {
		e.logger.Debug("nothing to remove", "target", target)
		return tx, true, nil
	}
	return tx, false, e.run(ctx, tx, hooks)
}

func (e *Engine) run(ctx context.Context, tx *Transaction, hooks Hooks) error {
	log := e.logger.WithFields(map[string]any{
		"tx":       tx.ID[:8],
		"target":   tx.TargetPath,
		"artifact": hooks.Artifact,
	})

	// Pending -> Written
	if err := e.write(tx); err != nil {
		e.count(hooks, errors.KindWriteFailed.String())
		log.Error("write failed", "error", err)
		return err
	}
	e.logDiff(log, tx)
	e.advance(log, tx, StateWritten)

	// Written -> Validated
	if hooks.Validator != nil {
		if err := e.step(ctx, hooks, "validate", func(sctx context.Context) error {
			return hooks.Validator.Validate(sctx, tx.TargetPath)
		}); err != nil {
			return e.fail(ctx, log, tx, hooks, errors.KindValidateFailed, err, false)
		}
	}
	e.advance(log, tx, StateValidated)

	// Validated -> Committed
	if hooks.Activator != nil {
		if err := e.step(ctx, hooks, "activate", func(sctx context.Context) error {
			return hooks.Activator.Activate(sctx, tx.TargetPath)
		}); err != nil {
			return e.fail(ctx, log, tx, hooks, errors.KindActivateFailed, err, true)
		}
	}
	e.advance(log, tx, StateCommitted)

	if tx.existed {
		if err := e.fs.Remove(tx.BackupPath); err != nil {
			log.Warn("failed to delete backup", "backup", tx.BackupPath, "error", err)
		}
	}
	e.count(hooks, "committed")
	return nil
}

// write backs up the current target and writes (or removes) it. On failure
// the target is unchanged and no backup is left behind.
func (e *Engine) write(tx *Transaction) error {
	exists, err := e.fs.Exists(tx.TargetPath)
	if err != nil {
		return errors.Wrapf(err, errors.KindWriteFailed, "stat %s", tx.TargetPath)
	}

	if exists {
		prev, err := e.fs.ReadFile(tx.TargetPath)
		if err != nil {
			return errors.Wrapf(err, errors.KindWriteFailed, "read %s", tx.TargetPath)
		}
		if err := e.fs.WriteFile(tx.BackupPath, prev, e.opts.FileMode); err != nil {
			_ = e.fs.Remove(tx.BackupPath)
			return errors.Wrapf(err, errors.KindWriteFailed, "back up %s", tx.TargetPath)
		}
		tx.previous = prev
		tx.existed = true
	}

	if tx.Remove {
		err = e.fs.Remove(tx.TargetPath)
	} else {
		if tx.createdDirs, err = e.mkdirs(filepath.Dir(tx.TargetPath)); err != nil {
			return errors.Wrapf(err, errors.KindWriteFailed, "create directory for %s", tx.TargetPath)
		}
		err = e.fs.WriteFile(tx.TargetPath, tx.Content, e.opts.FileMode)
	}
	if err != nil {
		if tx.existed {
			_ = e.fs.Remove(tx.BackupPath)
		}
		e.removeDirs(e.logger, tx.createdDirs)
		return errors.Wrapf(err, errors.KindWriteFailed, "write %s", tx.TargetPath)
	}
	return nil
}

// mkdirs creates dir and returns the directories that did not exist before,
// deepest first.
func (e *Engine) mkdirs(dir string) ([]string, error) {
	var missing []string
	for d := dir; ; {
		ok, err := e.fs.Exists(d)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		missing = append(missing, d)
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}
	if len(missing) == 0 {
		return nil, nil
	}
	if err := e.fs.MkdirAll(dir, 0o755); err != nil {
		e.removeDirs(e.logger, missing)
		return nil, err
	}
	return missing, nil
}

// removeDirs deletes directories a transaction created. A directory that
// has gained other entries in the meantime is left alone.
func (e *Engine) removeDirs(log *logging.Logger, dirs []string) {
	for _, d := range dirs {
		if err := e.fs.Remove(d); err != nil {
			log.Warn("left created directory in place", "dir", d, "error", err)
			return
		}
	}
}

func (e *Engine) step(ctx context.Context, hooks Hooks, name string, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, e.opts.StepTimeout)
	defer cancel()

	start := e.clock.Now()
	err := fn(sctx)
	if e.metrics != nil {
		e.metrics.StepDuration.WithLabelValues(hooks.Artifact, name).Observe(e.clock.Since(start).Seconds())
	}
	if err != nil && sctx.Err() == context.DeadlineExceeded && !errors.IsKind(err, errors.KindTimeout) {
		err = errors.Wrapf(err, errors.KindTimeout, "%s exceeded %s", name, e.opts.StepTimeout)
	}
	return err
}

// fail moves tx to Failed, rolls it back and returns the error to surface.
func (e *Engine) fail(ctx context.Context, log *logging.Logger, tx *Transaction, hooks Hooks, kind errors.Kind, cause error, activated bool) error {
	e.advance(log, tx, StateFailed)
	log.Warn("transaction failed, rolling back", "kind", kind.String(), "error", cause)

	// Rollback runs even when the caller's context is already done.
	rctx := context.WithoutCancel(ctx)
	rbErr := Retry(rctx, e.opts.Rollback, func() error {
		sctx, cancel := context.WithTimeout(rctx, e.opts.StepTimeout)
		defer cancel()
		return e.rollback(sctx, log, tx, hooks, activated)
	})
	if rbErr != nil {
		e.count(hooks, errors.KindRollbackFailed.String())
		e.rollbackResult(hooks, "failed")
		log.Error("rollback failed, manual intervention required",
			"cause", cause, "error", rbErr, "backup", tx.BackupPath)
		err := errors.Wrapf(errors.Join(cause, rbErr), errors.KindRollbackFailed,
			"rollback of %s failed after %s", tx.TargetPath, kind)
		err = errors.Attr(err, "target", tx.TargetPath)
		if tx.existed {
			err = errors.Attr(err, "backup", tx.BackupPath)
		}
		return err
	}

	e.advance(log, tx, StateRolledBack)
	e.count(hooks, kind.String())
	return errors.Attr(errors.Wrapf(cause, kind, "%s of %s failed", stepName(kind), tx.TargetPath), "target", tx.TargetPath)
}

func (e *Engine) rollback(ctx context.Context, log *logging.Logger, tx *Transaction, hooks Hooks, activated bool) error {
	if tx.existed {
		data, err := e.fs.ReadFile(tx.BackupPath)
		if err != nil {
			log.Warn("backup unreadable, restoring from memory", "backup", tx.BackupPath, "error", err)
			data = tx.previous
		}
		if err := e.fs.WriteFile(tx.TargetPath, data, e.opts.FileMode); err != nil {
			return fmt.Errorf("restore %s: %w", tx.TargetPath, err)
		}
	} else if !tx.Remove {
		if err := e.fs.Remove(tx.TargetPath); err != nil {
			return fmt.Errorf("remove %s: %w", tx.TargetPath, err)
		}
		e.removeDirs(log, tx.createdDirs)
		tx.createdDirs = nil
	}

	if activated && hooks.ReactivateOnRollback && hooks.Activator != nil {
		if err := hooks.Activator.Activate(ctx, tx.TargetPath); err != nil {
			return fmt.Errorf("reactivate previous %s: %w", hooks.Artifact, err)
		}
	}

	if tx.existed {
		if err := e.fs.Remove(tx.BackupPath); err != nil {
			log.Warn("failed to delete backup after rollback", "backup", tx.BackupPath, "error", err)
		}
		e.rollbackResult(hooks, "restored")
	} else {
		e.rollbackResult(hooks, "removed")
	}
	return nil
}

func (e *Engine) advance(log *logging.Logger, tx *Transaction, to State) {
	from := tx.State
	if err := tx.moveTo(to, e.clock.Now()); err != nil {
		// Only reachable through a bug in run.
		panic(err)
	}
	log.Debug("transition", "from", from.String(), "to", to.String())
}

func (e *Engine) logDiff(log *logging.Logger, tx *Transaction) {
	if e.logger.GetLevel() > logging.LevelDebug {
		return
	}
	if diff := Diff(tx.previous, tx.Content, tx.TargetPath+" (previous)", tx.TargetPath); diff != "" {
		log.Debug("content change", "diff", diff)
	}
}

func (e *Engine) count(hooks Hooks, outcome string) {
	if e.metrics != nil {
		e.metrics.Transactions.WithLabelValues(hooks.Artifact, outcome).Inc()
	}
}

func (e *Engine) rollbackResult(hooks Hooks, result string) {
	if e.metrics != nil {
		e.metrics.Rollbacks.WithLabelValues(hooks.Artifact, result).Inc()
	}
}

func stepName(kind errors.Kind) string {
	if kind == errors.KindValidateFailed {
		return "validation"
	}
	return "activation"
}
