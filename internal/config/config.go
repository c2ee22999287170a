package config

import (
	"fmt"
)

// File is the parsed content of one parameter file. It may declare any mix
// of firewalls, namespaces and interfaces.
type File struct {
	Firewalls  []FirewallSpec      `hcl:"firewall,block" json:"firewalls,omitempty"`
	Namespaces []NamespaceTopology `hcl:"namespace,block" json:"namespaces,omitempty"`
	Interfaces []InterfaceSpec     `hcl:"interface,block" json:"interfaces,omitempty"`
}

// Validate validates every declaration in the file. Field paths are
// prefixed with the owning block.
func (f *File) Validate() ValidationErrors {
	var errs ValidationErrors

	seenFW := make(map[string]bool)
	for i := range f.Firewalls {
		fw := &f.Firewalls[i]
		prefix := fmt.Sprintf("firewall[%s]", fw.Identity())
		if seenFW[fw.Identity()] {
			errs.add(prefix, "declared more than once")
		}
		seenFW[fw.Identity()] = true
		errs = append(errs, prefixed(prefix, fw.Validate())...)
	}

	seenNS := make(map[string]bool)
	for i := range f.Namespaces {
		ns := &f.Namespaces[i]
		prefix := fmt.Sprintf("namespace[%s]", ns.ID)
		if seenNS[ns.ID] {
			errs.add(prefix, "declared more than once")
		}
		seenNS[ns.ID] = true
		errs = append(errs, prefixed(prefix, ns.Validate())...)
	}

	seenIf := make(map[string]bool)
	for i := range f.Interfaces {
		ifc := &f.Interfaces[i]
		prefix := fmt.Sprintf("interface[%s]", ifc.Ifname)
		if seenIf[ifc.Ifname] {
			errs.add(prefix, "declared more than once")
		}
		seenIf[ifc.Ifname] = true
		errs = append(errs, prefixed(prefix, ifc.Validate())...)
	}

	return errs
}

func prefixed(prefix string, errs ValidationErrors) ValidationErrors {
	out := make(ValidationErrors, len(errs))
	for i, e := range errs {
		out[i] = ValidationError{Field: prefix + "." + e.Field, Message: e.Message}
	}
	return out
}

// Firewall returns the firewall declared for namespace/table. With empty
// arguments and exactly one firewall declared, that one is returned.
func (f *File) Firewall(namespace, table string) (*FirewallSpec, error) {
	if namespace == "" && table == "" && len(f.Firewalls) == 1 {
		return &f.Firewalls[0], nil
	}
	for i := range f.Firewalls {
		fw := &f.Firewalls[i]
		if fw.Namespace == namespace && (table == "" || fw.Table == table) {
			return fw, nil
		}
	}
	return nil, fmt.Errorf("no firewall %s/%s declared", namespace, table)
}

// Namespace returns the topology with the given id, or the only one declared.
func (f *File) Namespace(id string) (*NamespaceTopology, error) {
	if id == "" && len(f.Namespaces) == 1 {
		return &f.Namespaces[0], nil
	}
	for i := range f.Namespaces {
		if f.Namespaces[i].ID == id {
			return &f.Namespaces[i], nil
		}
	}
	return nil, fmt.Errorf("no namespace %q declared", id)
}

// Interface returns the interface with the given name, or the only one declared.
func (f *File) Interface(ifname string) (*InterfaceSpec, error) {
	if ifname == "" && len(f.Interfaces) == 1 {
		return &f.Interfaces[0], nil
	}
	for i := range f.Interfaces {
		if f.Interfaces[i].Ifname == ifname {
			return &f.Interfaces[i], nil
		}
	}
	return nil, fmt.Errorf("no interface %q declared", ifname)
}
