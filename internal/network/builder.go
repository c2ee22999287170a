package network

import (
	"context"

	"grimm.is/podnet/internal/config"
	"grimm.is/podnet/internal/errors"
	"grimm.is/podnet/internal/logging"
	"grimm.is/podnet/internal/metrics"
	"grimm.is/podnet/internal/runner"
)

// BuilderConfig carries the Builder's collaborators.
type BuilderConfig struct {
	Runner  runner.Runner
	Reader  SystemStateReader
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

// Builder constructs, quiesces and scrubs namespace topologies. Every step
// is probed against the live system immediately before it runs, so repeating
// an operation only executes what is missing.
type Builder struct {
	runner  runner.Runner
	reader  SystemStateReader
	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewBuilder creates a Builder. A nil Reader selects netlink.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Reader == nil {
		cfg.Reader = NewNetlinkStateReader()
	}
	return &Builder{
		runner:  cfg.Runner,
		reader:  cfg.Reader,
		logger:  cfg.Logger.WithComponent("network"),
		metrics: cfg.Metrics,
	}
}

// Report summarizes an executed plan.
type Report struct {
	Namespace string   `json:"namespace"`
	Executed  int      `json:"executed"`
	Skipped   int      `json:"skipped"`
	Steps     []string `json:"steps,omitempty"`
}

// Unchanged reports whether nothing had to be done.
func (r *Report) Unchanged() bool {
	return r.Executed == 0
}

// Plan returns the build steps for topo with Satisfied set from the live
// system. It changes nothing.
func (b *Builder) Plan(ctx context.Context, topo *config.NamespaceTopology) ([]Step, error) {
	if err := validate(topo); err != nil {
		return nil, err
	}
	steps, err := Plan(ctx, BuildSteps(topo), b.reader)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "plan topology")
	}
	return steps, nil
}

// Build creates whatever part of topo is missing.
func (b *Builder) Build(ctx context.Context, topo *config.NamespaceTopology) (*Report, error) {
	if err := validate(topo); err != nil {
		return nil, err
	}
	return b.execute(ctx, "build", topo.ID, BuildSteps(topo))
}

// Quiesce removes the namespace's VLANs and host routes and sets its uplinks
// down. The namespace itself survives. Quiescing a namespace that does not
// exist is a NotFound error.
func (b *Builder) Quiesce(ctx context.Context, topo *config.NamespaceTopology) (*Report, error) {
	if err := validate(topo); err != nil {
		return nil, err
	}
	exists, err := b.Exists(ctx, topo.ID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Attr(
			errors.Errorf(errors.KindNotFound, "namespace %s does not exist, nothing to quiesce", topo.ID),
			"namespace", topo.ID)
	}
	return b.execute(ctx, "quiesce", topo.ID, QuiesceSteps(topo))
}

// Exists reports whether the namespace is present on the host.
func (b *Builder) Exists(ctx context.Context, ns string) (bool, error) {
	exists, err := b.reader.NamespaceExists(ctx, ns)
	if err != nil {
		return false, errors.Wrapf(err, errors.KindInternal, "inspect namespace %s", ns)
	}
	return exists, nil
}

// Scrub deletes the namespace. Scrubbing an absent namespace is a no-op.
func (b *Builder) Scrub(ctx context.Context, topo *config.NamespaceTopology) (*Report, error) {
	if err := validate(topo); err != nil {
		return nil, err
	}
	return b.execute(ctx, "scrub", topo.ID, ScrubSteps(topo))
}

// TopologyState is the structured result of Read.
type TopologyState struct {
	Namespace string `json:"namespace"`
	Exists    bool   `json:"exists"`
	// Pending lists the build steps the live system does not yet satisfy.
	Pending []string `json:"pending,omitempty"`
}

// Converged reports whether the namespace matches topo exactly.
func (s *TopologyState) Converged() bool {
	return s.Exists && len(s.Pending) == 0
}

// Read reports how far the live system is from topo without changing it.
func (b *Builder) Read(ctx context.Context, topo *config.NamespaceTopology) (*TopologyState, error) {
	steps, err := b.Plan(ctx, topo)
	if err != nil {
		return nil, err
	}
	exists, err := b.Exists(ctx, topo.ID)
	if err != nil {
		return nil, err
	}
	state := &TopologyState{Namespace: topo.ID, Exists: exists}
	for _, s := range steps {
		if !s.Satisfied {
			state.Pending = append(state.Pending, s.Description)
		}
	}
	return state, nil
}

func validate(topo *config.NamespaceTopology) error {
	if topo == nil {
		return errors.New(errors.KindValidation, "nil namespace topology")
	}
	return topo.Validate().Err()
}

// execute runs steps in order, skipping those whose probe is satisfied. The
// first failing step aborts the rest.
func (b *Builder) execute(ctx context.Context, op, ns string, steps []Step) (*Report, error) {
	log := b.logger.WithFields(map[string]any{"op": op, "namespace": ns})
	report := &Report{Namespace: ns}

	for _, s := range steps {
		if s.Probe != nil {
			done, err := s.Probe(ctx, b.reader)
			if err != nil {
				return report, errors.Attr(
					errors.Wrapf(err, errors.KindInternal, "probe %q", s.Description),
					"step", s.Description)
			}
			if done {
				report.Skipped++
				b.count(s.Kind, "skipped")
				log.Debug("step already satisfied", "step", s.Description)
				continue
			}
		}

		log.Debug("running step", "step", s.Description, "cmd", s.Command.String())
		if _, err := runner.Check(ctx, b.runner, s.Command); err != nil {
			b.count(s.Kind, "failed")
			kind := errors.KindActivateFailed
			if errors.Is(err, context.DeadlineExceeded) {
				kind = errors.KindTimeout
			}
			log.Error("step failed", "step", s.Description, "error", err)
			return report, errors.Attr(errors.Wrapf(err, kind, "%s %s: %s", op, ns, s.Description), "step", s.Description)
		}
		report.Executed++
		report.Steps = append(report.Steps, s.Description)
		b.count(s.Kind, "executed")
	}

	log.Info("topology "+op+" complete", "executed", report.Executed, "skipped", report.Skipped)
	return report, nil
}

func (b *Builder) count(kind StepKind, outcome string) {
	if b.metrics != nil {
		b.metrics.TopologySteps.WithLabelValues(string(kind), outcome).Inc()
	}
}
