package firewall

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"grimm.is/podnet/internal/apply"
	"grimm.is/podnet/internal/config"
	"grimm.is/podnet/internal/errors"
	"grimm.is/podnet/internal/logging"
	"grimm.is/podnet/internal/metrics"
	"grimm.is/podnet/internal/runner"
)

// ArtifactName labels nftables transactions in logs and metrics.
const ArtifactName = "nftables"

// ManagerConfig carries the Manager's collaborators.
type ManagerConfig struct {
	Runner    runner.Runner
	Engine    *apply.Engine
	FS        apply.FileSystem
	Inspector Inspector
	// Dir holds the rendered <namespace>_<table>.nft files.
	Dir     string
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

// Manager builds, reads and scrubs nftables tables inside namespaces.
type Manager struct {
	runner    runner.Runner
	engine    *apply.Engine
	fs        apply.FileSystem
	inspector Inspector
	dir       string
	logger    *logging.Logger
	metrics   *metrics.Registry
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.FS == nil {
		cfg.FS = apply.OSFileSystem{}
	}
	if cfg.Engine == nil {
		cfg.Engine = apply.NewEngine(cfg.FS, cfg.Logger, cfg.Metrics, apply.DefaultOptions())
	}
	if cfg.Inspector == nil {
		cfg.Inspector = NewNFTInspector()
	}
	return &Manager{
		runner:    cfg.Runner,
		engine:    cfg.Engine,
		fs:        cfg.FS,
		inspector: cfg.Inspector,
		dir:       cfg.Dir,
		logger:    cfg.Logger.WithComponent("firewall"),
		metrics:   cfg.Metrics,
	}
}

// Path returns the script file for namespace/table.
func (m *Manager) Path(namespace, table string) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s_%s.nft", namespace, table))
}

// Hooks returns the transaction hooks for a table in namespace: nft --check
// validates the file and nft --file loads it, both inside the namespace.
func (m *Manager) Hooks(namespace string) apply.Hooks {
	ns := runner.NetNS{Namespace: namespace, Runner: m.runner}
	return apply.Hooks{
		Artifact: ArtifactName,
		Validator: apply.CommandStep{Runner: ns, Command: func(path string) runner.Command {
			return runner.Cmd("nft", "--check", "--file", path)
		}},
		Activator: apply.CommandStep{Runner: ns, Command: func(path string) runner.Command {
			return runner.Cmd("nft", "--file", path)
		}},
	}
}

// BuildResult describes a successful build.
type BuildResult struct {
	Path     string   `json:"path"`
	Chains   []string `json:"chains"`
	Rules    int      `json:"rules"`
	Rendered string   `json:"-"`
}

// Build compiles spec and applies it transactionally. A spec that fails to
// compile never reaches the file system.
func (m *Manager) Build(ctx context.Context, spec *config.FirewallSpec) (*BuildResult, error) {
	cc, err := Compile(spec)
	if err != nil {
		return nil, err
	}
	rendered := cc.Render()
	path := m.Path(spec.Namespace, spec.Table)

	m.logger.Info("building firewall",
		"namespace", spec.Namespace, "table", spec.Table,
		"chains", len(cc.Chains), "rules", cc.RuleCount())

	if _, err := m.engine.Apply(ctx, path, []byte(rendered), m.Hooks(spec.Namespace)); err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.CompiledRules.WithLabelValues(spec.Namespace, spec.Table).Set(float64(cc.RuleCount()))
	}
	return &BuildResult{
		Path:     path,
		Chains:   cc.ChainNames(),
		Rules:    cc.RuleCount(),
		Rendered: rendered,
	}, nil
}

// SetUpdate describes a successful UpdateSet.
type SetUpdate struct {
	Path      string `json:"path"`
	Set       string `json:"set"`
	Elements  int    `json:"elements"`
	Unchanged bool   `json:"unchanged"`
	// Spec is the built spec with the set's new elements.
	Spec *config.FirewallSpec `json:"-"`
}

// UpdateSet replaces the elements of a named set in the live table without
// reloading the table, then keeps the script on disk in step. spec is the
// spec the table was last built from. The flush and the new elements go to
// nft in one invocation, so the kernel never sees the set half filled. If
// the swap fails the previous script is restored.
func (m *Manager) UpdateSet(ctx context.Context, spec *config.FirewallSpec, name string, elements []string) (*SetUpdate, error) {
	if spec == nil {
		return nil, errors.New(errors.KindValidation, "nil firewall spec")
	}
	var previous []string
	for _, set := range spec.Sets {
		if set.Name == name {
			previous = set.Elements
		}
	}
	updated, ok := spec.WithSetElements(name, elements)
	if !ok {
		return nil, errors.Attr(
			errors.Errorf(errors.KindNotFound, "firewall %s declares no set %q", spec.Identity(), name),
			"set", name)
	}
	cc, err := Compile(updated)
	if err != nil {
		return nil, err
	}

	live, err := m.inspector.Inspect(ctx, spec.Namespace, spec.Table)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "inspect %s", spec.Identity())
	}
	if !live.Exists {
		return nil, errors.Errorf(errors.KindNotFound, "table %s is not loaded, build it first", spec.Identity())
	}

	path := m.Path(spec.Namespace, spec.Table)
	result := &SetUpdate{Path: path, Set: name, Elements: len(elements), Spec: updated}
	if slices.Equal(previous, elements) {
		result.Unchanged = true
		return result, nil
	}

	swap := NewScriptBuilder(spec.Table, TableFamily)
	swap.FlushSet(name)
	swap.AddSetElements(name, elements)

	ns := runner.NetNS{Namespace: spec.Namespace, Runner: m.runner}
	hooks := m.Hooks(spec.Namespace)
	hooks.Activator = apply.ActivatorFunc(func(ctx context.Context, _ string) error {
		_, err := runner.Check(ctx, ns, runner.Cmd("nft", swap.Inline()))
		return err
	})

	m.logger.Info("updating set",
		"namespace", spec.Namespace, "table", spec.Table, "set", name,
		"elements", len(elements), "previous", len(previous))
	if _, err := m.engine.Apply(ctx, path, []byte(cc.Render()), hooks); err != nil {
		return nil, err
	}
	return result, nil
}

// TableState is the structured result of Read.
type TableState struct {
	Namespace string     `json:"namespace"`
	Table     string     `json:"table"`
	Path      string     `json:"path"`
	Live      *TableInfo `json:"live"`
	// FilePresent reports whether the rendered script exists on disk.
	FilePresent bool   `json:"file_present"`
	Content     string `json:"-"`
	// Drift is a unified diff from the on-disk script to the script the
	// given spec would render. Empty when they match or no spec was given.
	Drift string `json:"drift,omitempty"`
}

// Exists reports whether any trace of the table remains.
func (s *TableState) Exists() bool {
	return s.FilePresent || (s.Live != nil && s.Live.Exists)
}

// Read inspects the live table and its script without changing either.
// When spec is non-nil the on-disk script is compared with a fresh render.
func (m *Manager) Read(ctx context.Context, namespace, table string, spec *config.FirewallSpec) (*TableState, error) {
	path := m.Path(namespace, table)
	state := &TableState{Namespace: namespace, Table: table, Path: path}

	live, err := m.inspector.Inspect(ctx, namespace, table)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "inspect %s/%s", namespace, table)
	}
	state.Live = live

	present, err := m.fs.Exists(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "stat %s", path)
	}
	state.FilePresent = present
	if present {
		data, err := m.fs.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindInternal, "read %s", path)
		}
		state.Content = string(data)
	}

	if spec != nil {
		cc, err := Compile(spec)
		if err != nil {
			return nil, err
		}
		state.Drift = apply.Diff([]byte(state.Content), []byte(cc.Render()), path, path+" (desired)")
	}
	return state, nil
}

// Scrub deletes the live table and its script. Scrubbing a table that is
// already gone succeeds and reports unchanged.
func (m *Manager) Scrub(ctx context.Context, namespace, table string) (unchanged bool, err error) {
	live, err := m.inspector.Inspect(ctx, namespace, table)
	if err != nil {
		return false, errors.Wrapf(err, errors.KindInternal, "inspect %s/%s", namespace, table)
	}

	if live.Exists {
		ns := runner.NetNS{Namespace: namespace, Runner: m.runner}
		if _, err := runner.Check(ctx, ns, runner.Cmd("nft", "delete", "table", TableFamily, table)); err != nil {
			return false, errors.Wrapf(err, errors.KindActivateFailed, "delete table %s in %s", table, namespace)
		}
		m.logger.Info("deleted table", "namespace", namespace, "table", table)
	}

	// The table is already gone from the kernel, so removal needs no hooks.
	_, fileUnchanged, err := m.engine.Remove(ctx, m.Path(namespace, table), apply.Hooks{Artifact: ArtifactName})
	if err != nil {
		return false, err
	}
	if m.metrics != nil {
		m.metrics.CompiledRules.DeleteLabelValues(namespace, table)
	}
	return !live.Exists && fileUnchanged, nil
}
