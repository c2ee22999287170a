// Package lifecycle maps the build, read, quiesce, restart and scrub verbs
// onto firewalls, namespaces and interfaces, and records the outcome of each
// verb in the state store.
//
// A construct is absent, active or inactive. The record also keeps the spec
// the construct was last built from, which is what restart rebuilds.
package lifecycle

import (
	"context"
	"sync"

	"grimm.is/podnet/internal/apply"
	"grimm.is/podnet/internal/errors"
	"grimm.is/podnet/internal/firewall"
	"grimm.is/podnet/internal/logging"
	"grimm.is/podnet/internal/metrics"
	"grimm.is/podnet/internal/network"
	"grimm.is/podnet/internal/runner"
	"grimm.is/podnet/internal/state"
)

// Construct names used in results, logs and metrics.
const (
	ConstructFirewall  = "firewall"
	ConstructNamespace = "namespace"
	ConstructInterface = "interface"
)

// Verbs.
const (
	VerbBuild   = "build"
	VerbRead    = "read"
	VerbQuiesce = "quiesce"
	VerbRestart = "restart"
	VerbScrub   = "scrub"
	// VerbUpdate replaces the elements of a firewall's named set in place.
	VerbUpdate = "update"
)

// Options carries the Controller's collaborators. Zero values select the
// production implementations.
type Options struct {
	FirewallDir string
	NetplanDir  string

	Runner    runner.Runner
	Reader    network.SystemStateReader
	Inspector firewall.Inspector
	FS        apply.FileSystem
	Apply     apply.Options
	Store     state.Store

	Logger  *logging.Logger
	Metrics *metrics.Registry
}

// Controller runs lifecycle verbs. It is safe for concurrent use; verbs on
// the same construct are serialized.
type Controller struct {
	firewalls  *firewall.Manager
	topologies *network.Builder
	interfaces *network.InterfaceManager

	fwRecords    *state.Records
	nsRecords    *state.Records
	ifaceRecords *state.Records

	locks   keyedMutex
	logger  *logging.Logger
	metrics *metrics.Registry
}

// New creates a Controller. Store is required.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, errors.New(errors.KindInternal, "lifecycle: no state store")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Runner == nil {
		opts.Runner = runner.NewLocal(opts.Logger)
	}
	if opts.FS == nil {
		opts.FS = apply.OSFileSystem{}
	}
	if opts.Apply.StepTimeout == 0 {
		opts.Apply = apply.DefaultOptions()
	}
	engine := apply.NewEngine(opts.FS, opts.Logger, opts.Metrics, opts.Apply)

	c := &Controller{
		firewalls: firewall.NewManager(firewall.ManagerConfig{
			Runner:    opts.Runner,
			Engine:    engine,
			FS:        opts.FS,
			Inspector: opts.Inspector,
			Dir:       opts.FirewallDir,
			Logger:    opts.Logger,
			Metrics:   opts.Metrics,
		}),
		topologies: network.NewBuilder(network.BuilderConfig{
			Runner:  opts.Runner,
			Reader:  opts.Reader,
			Logger:  opts.Logger,
			Metrics: opts.Metrics,
		}),
		interfaces: network.NewInterfaceManager(network.InterfaceManagerConfig{
			Runner: opts.Runner,
			Engine: engine,
			FS:     opts.FS,
			Reader: opts.Reader,
			Dir:    opts.NetplanDir,
			Logger: opts.Logger,
		}),
		logger:  opts.Logger.WithComponent("lifecycle"),
		metrics: opts.Metrics,
	}

	var err error
	if c.fwRecords, err = state.NewRecords(opts.Store, state.BucketFirewalls); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "open firewall records")
	}
	if c.nsRecords, err = state.NewRecords(opts.Store, state.BucketNamespaces); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "open namespace records")
	}
	if c.ifaceRecords, err = state.NewRecords(opts.Store, state.BucketInterfaces); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "open interface records")
	}
	return c, nil
}

// Result is the outcome of one verb.
type Result struct {
	Construct string `json:"construct"`
	Identity  string `json:"identity"`
	Verb      string `json:"verb"`
	// Status is the construct's lifecycle state after the verb.
	Status string `json:"status"`
	// Unchanged is set when the construct was already in the requested state.
	Unchanged bool `json:"unchanged"`
	Detail    any  `json:"detail,omitempty"`
}

// verb is the common frame of every verb: lock the identity, run fn, record
// the new status on success, and log and count the outcome. An empty record
// status means the verb does not change the stored state. fn may set spec
// when it is only known once the lock is held.
type verb struct {
	construct string
	identity  string
	name      string
	records   *state.Records
	status    string
	spec      any
}

func (c *Controller) run(ctx context.Context, v *verb, fn func(ctx context.Context) (*Result, error)) (*Result, error) {
	unlock := c.locks.lock(v.construct + "/" + v.identity)
	defer unlock()

	res, err := fn(ctx)
	if err == nil && v.status != "" {
		if _, serr := v.records.Put(v.identity, v.status, v.name, v.spec); serr != nil {
			err = errors.Wrapf(serr, errors.KindInternal, "record %s %s", v.construct, v.identity)
		}
	}

	result := "ok"
	switch {
	case err != nil:
		result = errors.GetKind(err).String()
	case res != nil && res.Unchanged:
		result = "unchanged"
	}
	if c.metrics != nil {
		c.metrics.Verbs.WithLabelValues(v.construct, v.name, result).Inc()
	}

	if v.name != VerbRead {
		details := map[string]any{"construct": v.construct, "result": result}
		if err != nil {
			details["error"] = err.Error()
			for k, val := range errors.GetAttributes(err) {
				details[k] = val
			}
		}
		c.logger.Audit(v.name, v.construct+"/"+v.identity, details)
	}

	if err != nil {
		return nil, err
	}
	res.Construct, res.Identity, res.Verb = v.construct, v.identity, v.name
	if res.Status == "" {
		res.Status = v.status
	}
	return res, nil
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func noStoredSpec(construct, identity string) error {
	return errors.Attr(
		errors.Errorf(errors.KindValidation, "no stored spec for %s %s, build it first", construct, identity),
		"identity", identity)
}
