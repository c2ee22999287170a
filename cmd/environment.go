package cmd

import (
	"context"
	"os"
	"path/filepath"

	"grimm.is/podnet/internal/apply"
	"grimm.is/podnet/internal/config"
	"grimm.is/podnet/internal/errors"
	"grimm.is/podnet/internal/firewall"
	"grimm.is/podnet/internal/lifecycle"
	"grimm.is/podnet/internal/logging"
	"grimm.is/podnet/internal/metrics"
	"grimm.is/podnet/internal/network"
	"grimm.is/podnet/internal/runner"
	"grimm.is/podnet/internal/state"
)

// loadConfig loads the parameter file. Only build needs one; the other
// verbs use it when present to pick up the construct's declared spec.
func loadConfig(inv *Invocation) (*config.File, error) {
	if inv.Verb != lifecycle.VerbBuild {
		if _, err := os.Stat(inv.ConfigFile); os.IsNotExist(err) {
			return nil, nil
		}
	}
	file, err := config.LoadFile(inv.ConfigFile)
	if err != nil {
		if errors.GetKind(err) == errors.KindUnknown {
			return nil, errors.Wrap(err, errors.KindConfig, "load parameters")
		}
		return nil, err
	}
	return file, nil
}

// environment is the controller and its collaborators for one invocation.
type environment struct {
	ctl     *lifecycle.Controller
	store   state.Store
	host    *network.FakeHost
	cleanup []func()
}

func newEnvironment(ctx context.Context, inv *Invocation, file *config.File, logger *logging.Logger, m *metrics.Registry) (*environment, error) {
	opts := lifecycle.Options{
		FirewallDir: inv.FirewallDir,
		NetplanDir:  inv.NetplanDir,
		Apply:       apply.DefaultOptions(),
		Logger:      logger,
		Metrics:     m,
	}
	if inv.Timeout > 0 {
		opts.Apply.StepTimeout = inv.Timeout
	}

	env := &environment{}
	if inv.DryRun {
		if err := env.dryRun(&opts, file); err != nil {
			env.Close()
			return nil, err
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(inv.StatePath), 0o755); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "create state directory")
		}
		store, err := state.NewSQLiteStore(state.DefaultOptions(inv.StatePath))
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "open state store")
		}
		env.store = store
		opts.Store = store
		opts.Runner = runner.NewLocal(logger)
	}

	ctl, err := lifecycle.New(opts)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.ctl = ctl

	if inv.DryRun {
		if err := env.seed(ctx, opts, inv, file); err != nil {
			env.Close()
			return nil, err
		}
	}
	return env, nil
}

// dryRun points the controller at an in-memory host, inspector and store,
// and at throwaway artifact directories.
func (e *environment) dryRun(opts *lifecycle.Options, file *config.File) error {
	store, err := state.NewSQLiteStore(state.Options{Path: ":memory:"})
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "open dry-run store")
	}
	e.store = store
	opts.Store = store

	e.host = network.NewFakeHost(hostLinks(file)...)
	opts.Runner = e.host
	opts.Reader = e.host
	opts.Inspector = firewall.NewMemoryInspector()

	for _, dir := range []*string{&opts.FirewallDir, &opts.NetplanDir} {
		tmp, err := os.MkdirTemp("", "podnet-dry-run-")
		if err != nil {
			return errors.Wrap(err, errors.KindInternal, "create dry-run directory")
		}
		e.cleanup = append(e.cleanup, func() { os.RemoveAll(tmp) })
		*dir = tmp
	}
	return nil
}

// seed brings the in-memory host to the state the verb expects to find: the
// construct built from its declared spec for read, quiesce and scrub, and
// the namespace of a firewall present. Seeding runs on a controller without
// metrics and its commands are discarded.
func (e *environment) seed(ctx context.Context, opts lifecycle.Options, inv *Invocation, file *config.File) error {
	if file == nil {
		return nil
	}
	opts.Metrics = nil
	opts.Logger = logging.Discard()
	seeder, err := lifecycle.New(opts)
	if err != nil {
		return err
	}
	defer e.host.Reset()

	prebuild := inv.Verb != lifecycle.VerbBuild
	switch inv.Construct {
	case lifecycle.ConstructFirewall:
		spec, _, _, err := resolveFirewall(file, inv.Identity, false)
		if err != nil || spec == nil {
			return nil
		}
		if _, err := e.host.Run(ctx, runner.Command{Name: "ip", Args: []string{"netns", "add", spec.Namespace}}); err != nil {
			return err
		}
		if prebuild {
			if _, err := seeder.FirewallBuild(ctx, spec); err != nil {
				return err
			}
			if cc, err := firewall.Compile(spec); err == nil {
				opts.Inspector.(*firewall.MemoryInspector).SetFromCompiled(cc)
			}
		}
	case lifecycle.ConstructNamespace:
		topo, _, err := resolveNamespace(file, inv.Identity, false)
		if err != nil || topo == nil || !prebuild {
			return nil
		}
		if inv.Verb == lifecycle.VerbRestart {
			return seedRecord(e.store, state.BucketNamespaces, topo.ID, topo)
		}
		_, err = seeder.NamespaceBuild(ctx, topo)
		return err
	case lifecycle.ConstructInterface:
		spec, _, err := resolveInterface(file, inv.Identity, false)
		if err != nil || spec == nil || !prebuild {
			return nil
		}
		if inv.Verb == lifecycle.VerbRestart {
			return seedRecord(e.store, state.BucketInterfaces, spec.Ifname, spec)
		}
		_, err = seeder.InterfaceBuild(ctx, spec)
		return err
	}
	return nil
}

// seedRecord stores spec as if it had been built, so restart has something
// to restart from.
func seedRecord(store state.Store, bucket, identity string, spec any) error {
	recs, err := state.NewRecords(store, bucket)
	if err != nil {
		return err
	}
	_, err = recs.Put(identity, state.StatusActive, lifecycle.VerbBuild, spec)
	return err
}

// commands returns the command lines a dry run recorded.
func (e *environment) commands() []string {
	if e.host == nil {
		return nil
	}
	return e.host.Lines()
}

func (e *environment) Close() {
	if e.store != nil {
		e.store.Close()
	}
	for _, fn := range e.cleanup {
		fn()
	}
}

// hostLinks lists the root-namespace links the parameter file expects to
// exist already: uplink bridges, private interfaces and the interfaces
// netplan manages.
func hostLinks(file *config.File) []string {
	if file == nil {
		return nil
	}
	seen := make(map[string]bool)
	var links []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			links = append(links, name)
		}
	}
	for i := range file.Namespaces {
		topo := &file.Namespaces[i]
		for _, u := range []*config.Uplink{topo.IPv4, topo.IPv6} {
			if u != nil {
				add(u.BridgeID)
			}
		}
		if len(topo.Networks) > 0 {
			add(topo.Private())
		}
	}
	for _, iface := range file.Interfaces {
		add(iface.Ifname)
		for _, m := range iface.BondMembers {
			add(m)
		}
	}
	return links
}
