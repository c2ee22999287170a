package config

import (
	"fmt"
	"net/netip"
)

// DefaultPrivateInterface is the host interface VLAN sub-interfaces hang off
// when a topology does not name one.
const DefaultPrivateInterface = "private0"

// NamespaceTopology describes a network namespace, its internet-facing
// uplinks and the VLAN networks attached to it.
type NamespaceTopology struct {
	ID               string    `hcl:"id,label" json:"id"`
	PrivateInterface string    `hcl:"private_interface,optional" json:"private_interface,omitempty"`
	IPv4             *Uplink   `hcl:"ipv4,block" json:"ipv4,omitempty"`
	IPv6             *Uplink   `hcl:"ipv6,block" json:"ipv6,omitempty"`
	Networks         []Network `hcl:"network,block" json:"networks,omitempty"`
}

// Uplink is a veth pair joining the namespace to a host bridge.
type Uplink struct {
	BridgeID  string   `hcl:"bridge" json:"bridge"`
	Addresses []string `hcl:"addresses" json:"addresses"`
	Mask      int      `hcl:"mask" json:"mask"`
	Gateway   string   `hcl:"gateway,optional" json:"gateway,omitempty"`
}

// Network is one VLAN attached to the namespace. PrivateRange and IPv6Range
// are interface addresses in CIDR form (e.g. 10.0.0.1/24).
type Network struct {
	VlanID       int    `hcl:"vlan" json:"vlan"`
	PrivateRange string `hcl:"private_range,optional" json:"private_range,omitempty"`
	IPv6Range    string `hcl:"ipv6_range,optional" json:"ipv6_range,omitempty"`
}

// Private returns the host interface carrying the VLANs.
func (n *NamespaceTopology) Private() string {
	if n.PrivateInterface == "" {
		return DefaultPrivateInterface
	}
	return n.PrivateInterface
}

// HostVethName is the host side of an uplink veth pair.
func (n *NamespaceTopology) HostVethName(u *Uplink) string {
	return u.BridgeID + "." + n.ID
}

// NSVethName is the namespace side of an uplink veth pair.
func (n *NamespaceTopology) NSVethName(u *Uplink) string {
	return n.ID + "." + u.BridgeID
}

// VLANName is the sub-interface name for a network.
func (n *NamespaceTopology) VLANName(net Network) string {
	return fmt.Sprintf("%s.%d", n.Private(), net.VlanID)
}

// Validate checks the topology, including that every derived interface name
// fits the kernel limit.
func (n *NamespaceTopology) Validate() ValidationErrors {
	var errs ValidationErrors

	if n.ID == "" || !IsValidIdentifier(n.ID) {
		errs.add("id", "invalid namespace id %q", n.ID)
	}
	validateIfname(&errs, "private_interface", n.Private())

	n.validateUplink(&errs, "ipv4", n.IPv4, 4)
	n.validateUplink(&errs, "ipv6", n.IPv6, 6)
	if n.IPv4 != nil && n.IPv6 != nil && n.IPv4.BridgeID == n.IPv6.BridgeID {
		errs.add("ipv6.bridge", "IPv4 and IPv6 uplinks must use different bridges")
	}

	seen := make(map[int]int)
	for i, net := range n.Networks {
		field := fmt.Sprintf("networks[%d]", i)
		if net.VlanID < 1 || net.VlanID > 4094 {
			errs.add(field+".vlan", "vlan id %d out of range 1-4094", net.VlanID)
		}
		if j, dup := seen[net.VlanID]; dup {
			errs.add(field+".vlan", "vlan id %d already used by networks[%d]", net.VlanID, j)
		} else {
			seen[net.VlanID] = i
		}
		if len(n.VLANName(net)) > MaxIfnameLen {
			errs.add(field+".vlan", "interface name %q exceeds %d characters", n.VLANName(net), MaxIfnameLen)
		}
		if net.PrivateRange != "" {
			if p, err := netip.ParsePrefix(net.PrivateRange); err != nil || !p.Addr().Is4() {
				errs.add(field+".private_range", "invalid IPv4 interface address %q", net.PrivateRange)
			}
		}
		if net.IPv6Range != "" {
			if p, err := netip.ParsePrefix(net.IPv6Range); err != nil || !p.Addr().Is6() {
				errs.add(field+".ipv6_range", "invalid IPv6 interface address %q", net.IPv6Range)
			}
			if n.IPv6 == nil || len(n.IPv6.Addresses) == 0 {
				errs.add(field+".ipv6_range", "an IPv6 uplink is required to route %s", net.IPv6Range)
			}
		}
	}

	return errs
}

func (n *NamespaceTopology) validateUplink(errs *ValidationErrors, field string, u *Uplink, family int) {
	if u == nil {
		return
	}
	if u.BridgeID == "" {
		errs.add(field+".bridge", "bridge is required")
	} else {
		validateIfname(errs, field+".bridge", u.BridgeID)
		validateIfname(errs, field+".host_veth", n.HostVethName(u))
		validateIfname(errs, field+".ns_veth", n.NSVethName(u))
	}

	maxBits := 32
	if family == 6 {
		maxBits = 128
	}
	if u.Mask < 1 || u.Mask > maxBits {
		errs.add(field+".mask", "mask %d out of range 1-%d", u.Mask, maxBits)
	}
	if len(u.Addresses) == 0 {
		errs.add(field+".addresses", "at least one address is required")
	}
	for _, a := range u.Addresses {
		addr, err := netip.ParseAddr(a)
		if err != nil || (family == 4) != addr.Is4() {
			errs.add(field+".addresses", "invalid IPv%d address %q", family, a)
		}
	}
	if u.Gateway != "" {
		gw, err := netip.ParseAddr(u.Gateway)
		if err != nil || (family == 4) != gw.Is4() {
			errs.add(field+".gateway", "invalid IPv%d gateway %q", family, u.Gateway)
		}
	}
}
