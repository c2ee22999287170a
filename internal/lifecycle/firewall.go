package lifecycle

import (
	"context"

	"grimm.is/podnet/internal/config"
	"grimm.is/podnet/internal/errors"
	"grimm.is/podnet/internal/firewall"
	"grimm.is/podnet/internal/state"
)

func firewallIdentity(namespace, table string) string {
	return namespace + "/" + table
}

// FirewallBuild compiles spec and loads it into its namespace.
func (c *Controller) FirewallBuild(ctx context.Context, spec *config.FirewallSpec) (*Result, error) {
	if spec == nil {
		return nil, errors.New(errors.KindValidation, "nil firewall spec")
	}
	v := verb{
		construct: ConstructFirewall, identity: spec.Identity(), name: VerbBuild,
		records: c.fwRecords, status: state.StatusActive, spec: spec,
	}
	return c.run(ctx, &v, func(ctx context.Context) (*Result, error) {
		built, err := c.firewalls.Build(ctx, spec)
		if err != nil {
			return nil, err
		}
		return &Result{Detail: built}, nil
	})
}

// FirewallState is the detail of a firewall read.
type FirewallState struct {
	Record *state.Record        `json:"record,omitempty"`
	Table  *firewall.TableState `json:"table"`
}

// FirewallRead reports the live table, its script and the drift from the
// last built spec. It changes nothing.
func (c *Controller) FirewallRead(ctx context.Context, namespace, table string) (*Result, error) {
	id := firewallIdentity(namespace, table)
	v := verb{construct: ConstructFirewall, identity: id, name: VerbRead}
	return c.run(ctx, &v, func(ctx context.Context) (*Result, error) {
		rec, err := c.fwRecords.Get(id)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "load record")
		}
		var spec *config.FirewallSpec
		if rec != nil {
			var s config.FirewallSpec
			if ok, err := rec.DecodeSpec(&s); err != nil {
				return nil, errors.Wrap(err, errors.KindInternal, "decode stored spec")
			} else if ok {
				spec = &s
			}
		}

		ts, err := c.firewalls.Read(ctx, namespace, table, spec)
		if err != nil {
			return nil, err
		}
		return &Result{Status: liveStatus(rec, ts.Exists()), Detail: &FirewallState{Record: rec, Table: ts}}, nil
	})
}

// FirewallSetUpdate replaces the elements of set in the live table built
// for namespace/table and stores them with the rest of its spec, so later
// reads and rebuilds see the new contents.
func (c *Controller) FirewallSetUpdate(ctx context.Context, namespace, table, set string, elements []string) (*Result, error) {
	id := firewallIdentity(namespace, table)
	v := verb{
		construct: ConstructFirewall, identity: id, name: VerbUpdate,
		records: c.fwRecords, status: state.StatusActive,
	}
	return c.run(ctx, &v, func(ctx context.Context) (*Result, error) {
		spec, err := c.storedFirewall(id)
		if err != nil {
			return nil, err
		}
		if spec == nil {
			return nil, noStoredSpec(ConstructFirewall, id)
		}
		updated, err := c.firewalls.UpdateSet(ctx, spec, set, elements)
		if err != nil {
			return nil, err
		}
		v.spec = updated.Spec
		return &Result{Unchanged: updated.Unchanged, Detail: updated}, nil
	})
}

func (c *Controller) storedFirewall(id string) (*config.FirewallSpec, error) {
	rec, err := c.fwRecords.Get(id)
	if err != nil || rec == nil {
		return nil, wrapRecordErr(err)
	}
	var spec config.FirewallSpec
	ok, err := rec.DecodeSpec(&spec)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "decode stored spec")
	}
	if !ok {
		return nil, nil
	}
	return &spec, nil
}

// FirewallScrub deletes the table and its script. Scrubbing an absent
// firewall succeeds.
func (c *Controller) FirewallScrub(ctx context.Context, namespace, table string) (*Result, error) {
	v := verb{
		construct: ConstructFirewall, identity: firewallIdentity(namespace, table), name: VerbScrub,
		records: c.fwRecords, status: state.StatusAbsent,
	}
	return c.run(ctx, &v, func(ctx context.Context) (*Result, error) {
		unchanged, err := c.firewalls.Scrub(ctx, namespace, table)
		if err != nil {
			return nil, err
		}
		return &Result{Unchanged: unchanged}, nil
	})
}

// liveStatus reconciles the recorded status with what exists: a construct
// with nothing left on the system is absent whatever was recorded.
func liveStatus(rec *state.Record, exists bool) string {
	if !exists {
		return state.StatusAbsent
	}
	if rec == nil || rec.Status == state.StatusAbsent {
		// Present but never built by us, or rebuilt out of band.
		return state.StatusActive
	}
	return rec.Status
}
