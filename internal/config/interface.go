package config

import (
	"fmt"
	"net/netip"
)

// InterfaceSpec describes a host NIC or bond managed through netplan.
type InterfaceSpec struct {
	Ifname         string            `hcl:"ifname,label" json:"ifname"`
	Host           string            `hcl:"host,optional" json:"host,omitempty"`
	Filename       string            `hcl:"filename,optional" json:"filename,omitempty"`
	IPs            []string          `hcl:"ips,optional" json:"ips,omitempty"`
	MAC            string            `hcl:"mac,optional" json:"mac,omitempty"`
	Routes         []Route           `hcl:"route,block" json:"routes,omitempty"`
	VLANs          []VLAN            `hcl:"vlan,block" json:"vlans,omitempty"`
	BondMembers    []string          `hcl:"bond_members,optional" json:"bond_members,omitempty"`
	BondParameters map[string]string `hcl:"bond_parameters,optional" json:"bond_parameters,omitempty"`
}

// Route is a static route rendered into netplan.
type Route struct {
	To  string `hcl:"to" json:"to"`
	Via string `hcl:"via" json:"via"`
}

// VLAN is a tagged sub-interface of the parent interface.
type VLAN struct {
	VlanID int      `hcl:"vlan" json:"vlan"`
	IPs    []string `hcl:"ips,optional" json:"ips,omitempty"`
	Routes []Route  `hcl:"route,block" json:"routes,omitempty"`
}

// IsBond reports whether the interface is a bond of member NICs.
func (s *InterfaceSpec) IsBond() bool {
	return len(s.BondMembers) > 0
}

// File returns the netplan file name (without directory).
func (s *InterfaceSpec) File() string {
	name := s.Filename
	if name == "" {
		name = s.Ifname
	}
	return name + ".yaml"
}

// VLANName is the netplan id of a VLAN sub-interface.
func (s *InterfaceSpec) VLANName(v VLAN) string {
	return fmt.Sprintf("%s.%d", s.Ifname, v.VlanID)
}

// Validate checks the interface spec.
func (s *InterfaceSpec) Validate() ValidationErrors {
	var errs ValidationErrors

	validateIfname(&errs, "ifname", s.Ifname)
	if s.Filename != "" && !IsValidIdentifier(s.Filename) {
		errs.add("filename", "invalid file name %q", s.Filename)
	}
	if s.MAC != "" && !IsValidMAC(s.MAC) {
		errs.add("mac", "invalid MAC address %q", s.MAC)
	}
	if s.MAC != "" && s.IsBond() {
		errs.add("mac", "a bond cannot match on a MAC address")
	}
	validateIPs(&errs, "ips", s.IPs)
	validateRoutes(&errs, "routes", s.Routes)

	for i, m := range s.BondMembers {
		validateIfname(&errs, fmt.Sprintf("bond_members[%d]", i), m)
		if m == s.Ifname {
			errs.add(fmt.Sprintf("bond_members[%d]", i), "a bond cannot contain itself")
		}
	}
	if len(s.BondParameters) > 0 && !s.IsBond() {
		errs.add("bond_parameters", "bond parameters given without bond members")
	}

	seen := make(map[int]int)
	for i, v := range s.VLANs {
		field := fmt.Sprintf("vlans[%d]", i)
		if v.VlanID < 1 || v.VlanID > 4094 {
			errs.add(field+".vlan", "vlan id %d out of range 1-4094", v.VlanID)
		}
		if j, dup := seen[v.VlanID]; dup {
			errs.add(field+".vlan", "vlan id %d already used by vlans[%d]", v.VlanID, j)
		} else {
			seen[v.VlanID] = i
		}
		if len(s.VLANName(v)) > MaxIfnameLen {
			errs.add(field+".vlan", "interface name %q exceeds %d characters", s.VLANName(v), MaxIfnameLen)
		}
		validateIPs(&errs, field+".ips", v.IPs)
		validateRoutes(&errs, field+".routes", v.Routes)
	}

	return errs
}

func validateIPs(errs *ValidationErrors, field string, ips []string) {
	for _, ip := range ips {
		if _, err := netip.ParsePrefix(ip); err != nil {
			errs.add(field, "invalid interface address %q (want CIDR)", ip)
		}
	}
}

func validateRoutes(errs *ValidationErrors, field string, routes []Route) {
	for i, r := range routes {
		f := fmt.Sprintf("%s[%d]", field, i)
		var to netip.Prefix
		if r.To != "default" {
			p, err := ParsePrefix(r.To)
			if err != nil {
				errs.add(f+".to", "invalid destination %q", r.To)
				continue
			}
			to = p
		}
		via, err := netip.ParseAddr(r.Via)
		if err != nil {
			errs.add(f+".via", "invalid gateway %q", r.Via)
			continue
		}
		if to.IsValid() && to.Addr().Is4() != via.Is4() {
			errs.add(f, "destination and gateway must be the same family")
		}
	}
}
