package lifecycle

import (
	"context"

	"grimm.is/podnet/internal/config"
	"grimm.is/podnet/internal/errors"
	"grimm.is/podnet/internal/network"
	"grimm.is/podnet/internal/state"
)

// InterfaceBuild writes and applies the interface's netplan file.
func (c *Controller) InterfaceBuild(ctx context.Context, spec *config.InterfaceSpec) (*Result, error) {
	if spec == nil {
		return nil, errors.New(errors.KindValidation, "nil interface spec")
	}
	v := verb{
		construct: ConstructInterface, identity: spec.Ifname, name: VerbBuild,
		records: c.ifaceRecords, status: state.StatusActive, spec: spec,
	}
	return c.run(ctx, &v, func(ctx context.Context) (*Result, error) {
		path, err := c.interfaces.Build(ctx, spec)
		if err != nil {
			return nil, err
		}
		return &Result{Detail: map[string]string{"path": path}}, nil
	})
}

// InterfaceState is the detail of an interface read.
type InterfaceState struct {
	Record    *state.Record           `json:"record,omitempty"`
	Interface *network.InterfaceState `json:"interface"`
}

// InterfaceRead reports the netplan file and live link. Without a stored
// spec the file is compared with the bare interface.
func (c *Controller) InterfaceRead(ctx context.Context, ifname string) (*Result, error) {
	v := verb{construct: ConstructInterface, identity: ifname, name: VerbRead}
	return c.run(ctx, &v, func(ctx context.Context) (*Result, error) {
		rec, spec, err := c.storedInterface(ifname)
		if err != nil {
			return nil, err
		}
		if spec == nil {
			spec = &config.InterfaceSpec{Ifname: ifname}
		}
		is, err := c.interfaces.Read(ctx, spec)
		if err != nil {
			return nil, err
		}
		return &Result{Status: liveStatus(rec, is.FilePresent), Detail: &InterfaceState{Record: rec, Interface: is}}, nil
	})
}

// InterfaceQuiesce applies the interface without its VLANs and routes. It
// needs the full spec, either given or stored.
func (c *Controller) InterfaceQuiesce(ctx context.Context, ifname string, spec *config.InterfaceSpec) (*Result, error) {
	v := verb{
		construct: ConstructInterface, identity: ifname, name: VerbQuiesce,
		records: c.ifaceRecords, status: state.StatusInactive, spec: interfaceSpec(spec),
	}
	return c.run(ctx, &v, func(ctx context.Context) (*Result, error) {
		s, err := c.interfaceFor(ifname, spec)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, noStoredSpec(ConstructInterface, ifname)
		}
		path, err := c.interfaces.Quiesce(ctx, s)
		if err != nil {
			return nil, err
		}
		return &Result{Detail: map[string]string{"path": path}}, nil
	})
}

// InterfaceRestart applies the interface without its VLANs and routes, then
// re-applies the stored spec in full.
func (c *Controller) InterfaceRestart(ctx context.Context, ifname string) (*Result, error) {
	v := verb{
		construct: ConstructInterface, identity: ifname, name: VerbRestart,
		records: c.ifaceRecords, status: state.StatusActive,
	}
	return c.run(ctx, &v, func(ctx context.Context) (*Result, error) {
		_, spec, err := c.storedInterface(ifname)
		if err != nil {
			return nil, err
		}
		if spec == nil {
			return nil, noStoredSpec(ConstructInterface, ifname)
		}
		v.spec = spec

		if _, err := c.interfaces.Quiesce(ctx, spec); err != nil {
			return nil, err
		}
		path, err := c.interfaces.Build(ctx, spec)
		if err != nil {
			return nil, err
		}
		return &Result{Detail: map[string]string{"path": path}}, nil
	})
}

// InterfaceScrub removes the netplan file and re-applies netplan. Scrubbing
// an interface with no file succeeds.
func (c *Controller) InterfaceScrub(ctx context.Context, ifname string, spec *config.InterfaceSpec) (*Result, error) {
	v := verb{
		construct: ConstructInterface, identity: ifname, name: VerbScrub,
		records: c.ifaceRecords, status: state.StatusAbsent, spec: interfaceSpec(spec),
	}
	return c.run(ctx, &v, func(ctx context.Context) (*Result, error) {
		s, err := c.interfaceFor(ifname, spec)
		if err != nil {
			return nil, err
		}
		if s == nil {
			s = &config.InterfaceSpec{Ifname: ifname}
		}
		unchanged, err := c.interfaces.Scrub(ctx, s)
		if err != nil {
			return nil, err
		}
		return &Result{Unchanged: unchanged}, nil
	})
}

func (c *Controller) storedInterface(ifname string) (*state.Record, *config.InterfaceSpec, error) {
	rec, err := c.ifaceRecords.Get(ifname)
	if err != nil || rec == nil {
		return nil, nil, wrapRecordErr(err)
	}
	var spec config.InterfaceSpec
	ok, err := rec.DecodeSpec(&spec)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.KindInternal, "decode stored interface")
	}
	if !ok {
		return rec, nil, nil
	}
	return rec, &spec, nil
}

func (c *Controller) interfaceFor(ifname string, override *config.InterfaceSpec) (*config.InterfaceSpec, error) {
	if override != nil {
		if override.Ifname != ifname {
			return nil, errors.Errorf(errors.KindValidation, "interface %q does not match %q", override.Ifname, ifname)
		}
		return override, nil
	}
	_, spec, err := c.storedInterface(ifname)
	return spec, err
}

func interfaceSpec(s *config.InterfaceSpec) any {
	if s == nil {
		return nil
	}
	return s
}
