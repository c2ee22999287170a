package cmd

import (
	"context"
	"strings"

	"grimm.is/podnet/internal/config"
	"grimm.is/podnet/internal/errors"
	"grimm.is/podnet/internal/lifecycle"
)

// dispatch runs the verb inv names. Declared specs come from file; verbs
// other than build fall back to what the controller has stored.
func dispatch(ctx context.Context, ctl *lifecycle.Controller, inv *Invocation, file *config.File) (*lifecycle.Result, error) {
	build := inv.Verb == lifecycle.VerbBuild

	switch inv.Construct {
	case lifecycle.ConstructFirewall:
		spec, ns, table, err := resolveFirewall(file, inv.Identity, build)
		if err != nil {
			return nil, err
		}
		switch inv.Verb {
		case lifecycle.VerbBuild:
			return ctl.FirewallBuild(ctx, spec)
		case lifecycle.VerbRead:
			return ctl.FirewallRead(ctx, ns, table)
		case lifecycle.VerbUpdate:
			return ctl.FirewallSetUpdate(ctx, ns, table, inv.SetName, inv.Elements)
		case lifecycle.VerbScrub:
			return ctl.FirewallScrub(ctx, ns, table)
		}

	case lifecycle.ConstructNamespace:
		topo, id, err := resolveNamespace(file, inv.Identity, build)
		if err != nil {
			return nil, err
		}
		switch inv.Verb {
		case lifecycle.VerbBuild:
			return ctl.NamespaceBuild(ctx, topo)
		case lifecycle.VerbRead:
			return ctl.NamespaceRead(ctx, id)
		case lifecycle.VerbQuiesce:
			return ctl.NamespaceQuiesce(ctx, id, topo)
		case lifecycle.VerbRestart:
			return ctl.NamespaceRestart(ctx, id)
		case lifecycle.VerbScrub:
			return ctl.NamespaceScrub(ctx, id, topo)
		}

	case lifecycle.ConstructInterface:
		spec, ifname, err := resolveInterface(file, inv.Identity, build)
		if err != nil {
			return nil, err
		}
		switch inv.Verb {
		case lifecycle.VerbBuild:
			return ctl.InterfaceBuild(ctx, spec)
		case lifecycle.VerbRead:
			return ctl.InterfaceRead(ctx, ifname)
		case lifecycle.VerbQuiesce:
			return ctl.InterfaceQuiesce(ctx, ifname, spec)
		case lifecycle.VerbRestart:
			return ctl.InterfaceRestart(ctx, ifname)
		case lifecycle.VerbScrub:
			return ctl.InterfaceScrub(ctx, ifname, spec)
		}
	}
	return nil, errors.Errorf(errors.KindValidation, "%s does not support %s", inv.Construct, inv.Verb)
}

func noParameters(construct string) error {
	return errors.Errorf(errors.KindValidation, "%s build needs a parameter file (-c)", construct)
}

// resolveFirewall finds the firewall for identity ("namespace/table" or
// just "namespace"). The spec is nil when file does not declare it, which
// is an error only when required.
func resolveFirewall(file *config.File, identity string, required bool) (*config.FirewallSpec, string, string, error) {
	ns, table, _ := strings.Cut(identity, "/")
	if file != nil {
		spec, err := file.Firewall(ns, table)
		if err == nil {
			return spec, spec.Namespace, spec.Table, nil
		}
		if required {
			return nil, "", "", errors.Wrap(err, errors.KindConfig, "resolve firewall")
		}
	} else if required {
		return nil, "", "", noParameters(lifecycle.ConstructFirewall)
	}
	if ns == "" || table == "" {
		return nil, "", "", errors.Errorf(errors.KindValidation, "firewall identity must be namespace/table, got %q", identity)
	}
	return nil, ns, table, nil
}

func resolveNamespace(file *config.File, id string, required bool) (*config.NamespaceTopology, string, error) {
	if file != nil {
		topo, err := file.Namespace(id)
		if err == nil {
			return topo, topo.ID, nil
		}
		if required {
			return nil, "", errors.Wrap(err, errors.KindConfig, "resolve namespace")
		}
	} else if required {
		return nil, "", noParameters(lifecycle.ConstructNamespace)
	}
	if id == "" {
		return nil, "", errors.New(errors.KindValidation, "namespace id required")
	}
	return nil, id, nil
}

func resolveInterface(file *config.File, ifname string, required bool) (*config.InterfaceSpec, string, error) {
	if file != nil {
		spec, err := file.Interface(ifname)
		if err == nil {
			return spec, spec.Ifname, nil
		}
		if required {
			return nil, "", errors.Wrap(err, errors.KindConfig, "resolve interface")
		}
	} else if required {
		return nil, "", noParameters(lifecycle.ConstructInterface)
	}
	if ifname == "" {
		return nil, "", errors.New(errors.KindValidation, "interface name required")
	}
	return nil, ifname, nil
}
