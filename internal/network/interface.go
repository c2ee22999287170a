package network

import (
	"context"
	"path/filepath"

	"grimm.is/podnet/internal/apply"
	"grimm.is/podnet/internal/config"
	"grimm.is/podnet/internal/errors"
	"grimm.is/podnet/internal/logging"
	"grimm.is/podnet/internal/runner"
)

// NetplanArtifact labels netplan transactions in logs and metrics.
const NetplanArtifact = "netplan"

// InterfaceManagerConfig carries the InterfaceManager's collaborators.
type InterfaceManagerConfig struct {
	Runner runner.Runner
	Engine *apply.Engine
	FS     apply.FileSystem
	Reader SystemStateReader
	// Dir is the netplan directory, normally /etc/netplan.
	Dir    string
	Logger *logging.Logger
}

// InterfaceManager renders host interfaces to netplan files and applies them
// transactionally.
type InterfaceManager struct {
	runner runner.Runner
	engine *apply.Engine
	fs     apply.FileSystem
	reader SystemStateReader
	dir    string
	logger *logging.Logger
}

// NewInterfaceManager creates an InterfaceManager.
func NewInterfaceManager(cfg InterfaceManagerConfig) *InterfaceManager {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.FS == nil {
		cfg.FS = apply.OSFileSystem{}
	}
	if cfg.Engine == nil {
		cfg.Engine = apply.NewEngine(cfg.FS, cfg.Logger, nil, apply.DefaultOptions())
	}
	if cfg.Reader == nil {
		cfg.Reader = NewNetlinkStateReader()
	}
	return &InterfaceManager{
		runner: cfg.Runner,
		engine: cfg.Engine,
		fs:     cfg.FS,
		reader: cfg.Reader,
		dir:    cfg.Dir,
		logger: cfg.Logger.WithComponent("network"),
	}
}

// Path returns the netplan file for spec.
func (m *InterfaceManager) Path(spec *config.InterfaceSpec) string {
	return filepath.Join(m.dir, spec.File())
}

// Hooks validates with netplan generate and activates with netplan apply.
// netplan applies the whole directory, so a rollback re-applies the restored
// file.
func (m *InterfaceManager) Hooks() apply.Hooks {
	return apply.Hooks{
		Artifact: NetplanArtifact,
		Validator: apply.CommandStep{Runner: m.runner, Command: func(string) runner.Command {
			return runner.Cmd("netplan", "generate")
		}},
		Activator: apply.CommandStep{Runner: m.runner, Command: func(string) runner.Command {
			return runner.Cmd("netplan", "apply")
		}},
		ReactivateOnRollback: true,
	}
}

// Build renders spec with its VLANs and routes and applies it.
func (m *InterfaceManager) Build(ctx context.Context, spec *config.InterfaceSpec) (string, error) {
	return m.apply(ctx, spec, false)
}

// Quiesce applies the base interface alone, dropping its VLANs and routes.
func (m *InterfaceManager) Quiesce(ctx context.Context, spec *config.InterfaceSpec) (string, error) {
	return m.apply(ctx, spec, true)
}

func (m *InterfaceManager) apply(ctx context.Context, spec *config.InterfaceSpec, baseOnly bool) (string, error) {
	content, err := RenderNetplan(spec, baseOnly)
	if err != nil {
		return "", err
	}
	path := m.Path(spec)
	m.logger.Info("applying netplan", "ifname", spec.Ifname, "path", path, "base_only", baseOnly)
	if _, err := m.engine.Apply(ctx, path, content, m.Hooks()); err != nil {
		return "", err
	}
	return path, nil
}

// Scrub removes the interface's netplan file and re-applies netplan.
// Scrubbing an interface with no file succeeds and reports unchanged.
func (m *InterfaceManager) Scrub(ctx context.Context, spec *config.InterfaceSpec) (unchanged bool, err error) {
	if spec == nil {
		return false, errors.New(errors.KindValidation, "nil interface spec")
	}
	if err := spec.Validate().Err(); err != nil {
		return false, err
	}
	_, unchanged, err = m.engine.Remove(ctx, m.Path(spec), m.Hooks())
	return unchanged, err
}

// InterfaceState is the structured result of Read.
type InterfaceState struct {
	Ifname      string `json:"ifname"`
	Path        string `json:"path"`
	FilePresent bool   `json:"file_present"`
	Content     string `json:"-"`
	LinkExists  bool   `json:"link_exists"`
	LinkUp      bool   `json:"link_up"`
	// Drift is a unified diff from the on-disk file to the full render.
	Drift string `json:"drift,omitempty"`
}

// Read reports the netplan file and live link for spec without changing
// either.
func (m *InterfaceManager) Read(ctx context.Context, spec *config.InterfaceSpec) (*InterfaceState, error) {
	want, err := RenderNetplan(spec, false)
	if err != nil {
		return nil, err
	}
	path := m.Path(spec)
	state := &InterfaceState{Ifname: spec.Ifname, Path: path}

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
	state.Drift = apply.Diff([]byte(state.Content), want, path, path+" (desired)")

	if state.LinkExists, err = m.reader.LinkExists(ctx, HostNamespace, spec.Ifname); err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "inspect link %s", spec.Ifname)
	}
	if state.LinkUp, err = m.reader.LinkUp(ctx, HostNamespace, spec.Ifname); err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "inspect link %s", spec.Ifname)
	}
	return state, nil
}
