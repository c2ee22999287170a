package lifecycle

import (
	"context"

	"grimm.is/podnet/internal/config"
	"grimm.is/podnet/internal/errors"
	"grimm.is/podnet/internal/network"
	"grimm.is/podnet/internal/state"
)

// NamespaceBuild creates whatever part of topo is missing.
func (c *Controller) NamespaceBuild(ctx context.Context, topo *config.NamespaceTopology) (*Result, error) {
	if topo == nil {
		return nil, errors.New(errors.KindValidation, "nil namespace topology")
	}
	v := verb{
		construct: ConstructNamespace, identity: topo.ID, name: VerbBuild,
		records: c.nsRecords, status: state.StatusActive, spec: topo,
	}
	return c.run(ctx, &v, func(ctx context.Context) (*Result, error) {
		report, err := c.topologies.Build(ctx, topo)
		if err != nil {
			return nil, err
		}
		return &Result{Unchanged: report.Unchanged(), Detail: report}, nil
	})
}

// NamespaceState is the detail of a namespace read.
type NamespaceState struct {
	Record   *state.Record          `json:"record,omitempty"`
	Topology *network.TopologyState `json:"topology"`
}

// NamespaceRead compares the live namespace with its last built topology.
// A namespace never built is checked for existence only.
func (c *Controller) NamespaceRead(ctx context.Context, id string) (*Result, error) {
	v := verb{construct: ConstructNamespace, identity: id, name: VerbRead}
	return c.run(ctx, &v, func(ctx context.Context) (*Result, error) {
		rec, topo, err := c.storedTopology(id)
		if err != nil {
			return nil, err
		}
		if topo == nil {
			topo = &config.NamespaceTopology{ID: id}
		}
		ts, err := c.topologies.Read(ctx, topo)
		if err != nil {
			return nil, err
		}
		status := liveStatus(rec, ts.Exists)
		return &Result{Status: status, Detail: &NamespaceState{Record: rec, Topology: ts}}, nil
	})
}

// NamespaceQuiesce takes the namespace out of service but keeps it. topo
// overrides the stored topology; with neither, only the namespace itself is
// known and there is nothing to quiesce. An absent namespace is NotFound.
func (c *Controller) NamespaceQuiesce(ctx context.Context, id string, topo *config.NamespaceTopology) (*Result, error) {
	v := verb{
		construct: ConstructNamespace, identity: id, name: VerbQuiesce,
		records: c.nsRecords, status: state.StatusInactive, spec: topologySpec(topo),
	}
	return c.run(ctx, &v, func(ctx context.Context) (*Result, error) {
		t, err := c.topologyFor(id, topo)
		if err != nil {
			return nil, err
		}
		report, err := c.topologies.Quiesce(ctx, t)
		if err != nil {
			return nil, err
		}
		return &Result{Unchanged: report.Unchanged(), Detail: report}, nil
	})
}

// NamespaceRestart quiesces the namespace and builds it again from its
// stored topology. A namespace that has vanished from the host is only
// rebuilt.
func (c *Controller) NamespaceRestart(ctx context.Context, id string) (*Result, error) {
	v := verb{
		construct: ConstructNamespace, identity: id, name: VerbRestart,
		records: c.nsRecords, status: state.StatusActive,
	}
	return c.run(ctx, &v, func(ctx context.Context) (*Result, error) {
		_, topo, err := c.storedTopology(id)
		if err != nil {
			return nil, err
		}
		if topo == nil {
			return nil, noStoredSpec(ConstructNamespace, id)
		}
		v.spec = topo

		exists, err := c.topologies.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		unchanged := true
		if exists {
			quiesced, err := c.topologies.Quiesce(ctx, topo)
			if err != nil {
				return nil, err
			}
			unchanged = quiesced.Unchanged()
		}
		report, err := c.topologies.Build(ctx, topo)
		if err != nil {
			return nil, err
		}
		return &Result{Unchanged: unchanged && report.Unchanged(), Detail: report}, nil
	})
}

// NamespaceScrub deletes the namespace. Scrubbing an absent namespace
// succeeds.
func (c *Controller) NamespaceScrub(ctx context.Context, id string, topo *config.NamespaceTopology) (*Result, error) {
	v := verb{
		construct: ConstructNamespace, identity: id, name: VerbScrub,
		records: c.nsRecords, status: state.StatusAbsent, spec: topologySpec(topo),
	}
	return c.run(ctx, &v, func(ctx context.Context) (*Result, error) {
		t, err := c.topologyFor(id, topo)
		if err != nil {
			return nil, err
		}
		report, err := c.topologies.Scrub(ctx, t)
		if err != nil {
			return nil, err
		}
		return &Result{Unchanged: report.Unchanged(), Detail: report}, nil
	})
}

func (c *Controller) storedTopology(id string) (*state.Record, *config.NamespaceTopology, error) {
	rec, err := c.nsRecords.Get(id)
	if err != nil || rec == nil {
		return nil, nil, wrapRecordErr(err)
	}
	var topo config.NamespaceTopology
	ok, err := rec.DecodeSpec(&topo)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.KindInternal, "decode stored topology")
	}
	if !ok {
		return rec, nil, nil
	}
	return rec, &topo, nil
}

func (c *Controller) topologyFor(id string, override *config.NamespaceTopology) (*config.NamespaceTopology, error) {
	if override != nil {
		if override.ID != id {
			return nil, errors.Errorf(errors.KindValidation, "topology %q does not match namespace %q", override.ID, id)
		}
		return override, nil
	}
	_, topo, err := c.storedTopology(id)
	if err != nil {
		return nil, err
	}
	if topo == nil {
		return &config.NamespaceTopology{ID: id}, nil
	}
	return topo, nil
}

// topologySpec keeps a nil override from being stored as a null spec.
func topologySpec(t *config.NamespaceTopology) any {
	if t == nil {
		return nil
	}
	return t
}

func wrapRecordErr(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, errors.KindInternal, "load record")
}
