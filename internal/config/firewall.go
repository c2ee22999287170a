package config

import (
	"fmt"
	"net/netip"
	"strings"
)

// Verdicts a rule may carry. Only accept and drop are supported.
const (
	ActionAccept = "accept"
	ActionDrop   = "drop"
)

// Protocols a rule may match. icmp, dns, dhcp and vpn select an application
// bundle rather than a literal protocol match.
var Protocols = []string{"any", "tcp", "udp", "icmp", "dns", "dhcp", "vpn"}

// Set element types.
var SetTypes = []string{"ipv4_addr", "ipv6_addr", "inet_service", "ether_addr"}

// Default policies for filter chains.
const (
	PolicyDrop   = "drop"
	PolicyAccept = "accept"
)

// FirewallSpec describes one nftables table inside a namespace.
type FirewallSpec struct {
	Namespace     string   `hcl:"namespace,label" json:"namespace"`
	Table         string   `hcl:"table,label" json:"table"`
	Priority      int      `hcl:"priority,optional" json:"priority"`
	DefaultPolicy string   `hcl:"default_policy,optional" json:"default_policy,omitempty"`
	Rules         []Rule   `hcl:"rule,block" json:"rules,omitempty"`
	GlobalRules   []Rule   `hcl:"global_rule,block" json:"global_rules,omitempty"`
	Sets          []Set    `hcl:"set,block" json:"sets,omitempty"`
	NAT           *NATSpec `hcl:"nat,block" json:"nats,omitempty"`
}

// Rule is a single filter rule. Order is the sort key within its chain;
// rules with equal Order keep their declaration order.
type Rule struct {
	Version      int      `hcl:"version" json:"version"`
	Sources      []string `hcl:"sources,optional" json:"sources,omitempty"`
	Destinations []string `hcl:"destinations,optional" json:"destinations,omitempty"`
	Protocol     string   `hcl:"protocol,optional" json:"protocol,omitempty"`
	Ports        []string `hcl:"ports,optional" json:"ports,omitempty"`
	Action       string   `hcl:"action,optional" json:"action,omitempty"`
	Log          bool     `hcl:"log,optional" json:"log,omitempty"`
	InIface      string   `hcl:"iiface,optional" json:"iiface,omitempty"`
	OutIface     string   `hcl:"oiface,optional" json:"oiface,omitempty"`
	Order        int      `hcl:"order,optional" json:"order,omitempty"`
	Application  string   `hcl:"application,optional" json:"application,omitempty"`
}

// Accept reports whether the rule's verdict is accept.
func (r Rule) Accept() bool {
	return r.Action == ActionAccept
}

// Proto returns the rule protocol, defaulting to "any".
func (r Rule) Proto() string {
	if r.Protocol == "" {
		return "any"
	}
	return strings.ToLower(r.Protocol)
}

// HasInIface reports whether the rule names an input interface ("any" counts).
func (r Rule) HasInIface() bool { return !IsAbsent(r.InIface) }

// HasOutIface reports whether the rule names an output interface ("any" counts).
func (r Rule) HasOutIface() bool { return !IsAbsent(r.OutIface) }

// Set is a named nftables set that rules reference as "@name".
type Set struct {
	Name     string   `hcl:"name,label" json:"name"`
	Type     string   `hcl:"type" json:"type"`
	Elements []string `hcl:"elements,optional" json:"elements,omitempty"`
}

// NATSpec holds address translations. DNAT is 1:1; SNAT may map many
// private sources to one public address.
type NATSpec struct {
	DNATs []DNAT `hcl:"dnat,block" json:"dnats,omitempty"`
	SNATs []SNAT `hcl:"snat,block" json:"snats,omitempty"`
}

// DNAT rewrites inbound traffic for Public to Private.
type DNAT struct {
	Public  string `hcl:"public" json:"public"`
	Private string `hcl:"private" json:"private"`
	InIface string `hcl:"iface,optional" json:"iface,omitempty"`
}

// SNAT rewrites outbound traffic from Private to Public.
type SNAT struct {
	Public   string `hcl:"public" json:"public"`
	Private  string `hcl:"private" json:"private"`
	OutIface string `hcl:"iface,optional" json:"iface,omitempty"`
}

// Policy returns the filter chain policy, defaulting to drop.
func (f *FirewallSpec) Policy() string {
	if f.DefaultPolicy == "" {
		return PolicyDrop
	}
	return f.DefaultPolicy
}

// Identity is the key under which a firewall's state is recorded.
func (f *FirewallSpec) Identity() string {
	return f.Namespace + "/" + f.Table
}

// WithSetElements returns a copy of f in which the set called name holds
// elements. ok is false when f declares no such set.
func (f *FirewallSpec) WithSetElements(name string, elements []string) (out *FirewallSpec, ok bool) {
	cp := *f
	cp.Sets = make([]Set, len(f.Sets))
	copy(cp.Sets, f.Sets)
	for i := range cp.Sets {
		if cp.Sets[i].Name == name {
			cp.Sets[i].Elements = append([]string(nil), elements...)
			return &cp, true
		}
	}
	return nil, false
}

// DNATs returns the DNAT entries, or nil when no nat block was given.
func (f *FirewallSpec) DNATs() []DNAT {
	if f.NAT == nil {
		return nil
	}
	return f.NAT.DNATs
}

// SNATs returns the SNAT entries, or nil when no nat block was given.
func (f *FirewallSpec) SNATs() []SNAT {
	if f.NAT == nil {
		return nil
	}
	return f.NAT.SNATs
}

// Validate checks the whole firewall spec. Nothing is rendered from a spec
// that fails validation.
func (f *FirewallSpec) Validate() ValidationErrors {
	var errs ValidationErrors

	if f.Namespace == "" || !IsValidIdentifier(f.Namespace) {
		errs.add("namespace", "invalid namespace %q", f.Namespace)
	}
	if f.Table == "" || !IsValidIdentifier(f.Table) {
		errs.add("table", "invalid table name %q", f.Table)
	}
	switch f.DefaultPolicy {
	case "", PolicyDrop, PolicyAccept:
	default:
		errs.add("default_policy", "must be %q or %q, got %q", PolicyDrop, PolicyAccept, f.DefaultPolicy)
	}

	sets := f.validateSets(&errs)

	for i, r := range f.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		r.validate(&errs, field, sets)
		if !r.HasInIface() && !r.HasOutIface() {
			errs.add(field, "at least one of iiface or oiface is required")
		}
	}
	for i, r := range f.GlobalRules {
		field := fmt.Sprintf("global_rules[%d]", i)
		r.validate(&errs, field, sets)
		if r.HasInIface() == r.HasOutIface() {
			errs.add(field, "exactly one of iiface or oiface is required")
		}
	}

	f.validateNAT(&errs)
	return errs
}

func (f *FirewallSpec) validateSets(errs *ValidationErrors) map[string]Set {
	sets := make(map[string]Set, len(f.Sets))
	for i, s := range f.Sets {
		field := fmt.Sprintf("sets[%d]", i)
		if s.Name == "" || !IsValidIdentifier(s.Name) {
			errs.add(field, "invalid set name %q", s.Name)
			continue
		}
		if _, dup := sets[s.Name]; dup {
			errs.add(field, "duplicate set name %q", s.Name)
			continue
		}
		sets[s.Name] = s

		for _, el := range s.Elements {
			switch s.Type {
			case "ipv4_addr", "ipv6_addr":
				p, err := ParsePrefix(el)
				if err != nil {
					errs.add(field, "invalid address %q", el)
					continue
				}
				want := 4
				if s.Type == "ipv6_addr" {
					want = 6
				}
				if familyOf(p) != want {
					errs.add(field, "address %q does not match set type %s", el, s.Type)
				}
			case "inet_service":
				if _, _, err := ParsePort(el); err != nil {
					errs.add(field, "%v", err)
				}
			case "ether_addr":
				if !IsValidMAC(el) {
					errs.add(field, "invalid MAC address %q", el)
				}
			}
		}
		if !contains(SetTypes, s.Type) {
			errs.add(field, "unknown set type %q", s.Type)
		}
	}
	return sets
}

func (r Rule) validate(errs *ValidationErrors, field string, sets map[string]Set) {
	switch r.Action {
	case ActionAccept, ActionDrop:
	case "":
		errs.add(field+".action", "action is required")
	default:
		errs.add(field+".action", "must be %q or %q, got %q", ActionAccept, ActionDrop, r.Action)
	}

	if r.Version != 4 && r.Version != 6 {
		errs.add(field+".version", "must be 4 or 6, got %d", r.Version)
	}

	if !contains(Protocols, r.Proto()) {
		errs.add(field+".protocol", "unknown protocol %q", r.Protocol)
	}

	r.validateAddrs(errs, field+".sources", r.Sources, sets)
	r.validateAddrs(errs, field+".destinations", r.Destinations, sets)

	for _, p := range r.Ports {
		if name, ok := strings.CutPrefix(p, "@"); ok {
			s, found := sets[name]
			if !found {
				errs.add(field+".ports", "set %q not found", name)
			} else if s.Type != "inet_service" {
				errs.add(field+".ports", "set %q is not an inet_service set", name)
			}
			if len(r.Ports) > 1 {
				errs.add(field+".ports", "a set reference must be the only entry")
			}
			continue
		}
		if _, _, err := ParsePort(p); err != nil {
			errs.add(field+".ports", "%v", err)
		}
	}
	if len(r.Ports) > 0 && r.Proto() != "tcp" && r.Proto() != "udp" {
		errs.add(field+".ports", "ports require protocol tcp or udp")
	}

	validateIfaceRef(errs, field+".iiface", r.InIface)
	validateIfaceRef(errs, field+".oiface", r.OutIface)
}

func (r Rule) validateAddrs(errs *ValidationErrors, field string, addrs []string, sets map[string]Set) {
	for _, a := range addrs {
		if a == "any" || strings.HasPrefix(a, "@") {
			if len(addrs) > 1 {
				errs.add(field, "%q must be the only entry", a)
			}
			if name, ok := strings.CutPrefix(a, "@"); ok {
				s, found := sets[name]
				if !found {
					errs.add(field, "set %q not found", name)
				} else if (r.Version == 4 && s.Type != "ipv4_addr") || (r.Version == 6 && s.Type != "ipv6_addr") {
					errs.add(field, "set %q of type %s cannot be matched by an IPv%d rule", name, s.Type, r.Version)
				}
			}
			continue
		}
		p, err := ParsePrefix(a)
		if err != nil {
			errs.add(field, "invalid address %q", a)
			continue
		}
		if (r.Version == 4 || r.Version == 6) && familyOf(p) != r.Version {
			errs.add(field, "address %q does not match version %d", a, r.Version)
		}
	}
}

func (f *FirewallSpec) validateNAT(errs *ValidationErrors) {
	var (
		seen    []netip.Prefix
		seenIdx []int
	)
	for i, d := range f.DNATs() {
		field := fmt.Sprintf("nats.dnats[%d]", i)
		pub, err1 := ParsePrefix(d.Public)
		priv, err2 := ParsePrefix(d.Private)
		if err1 != nil {
			errs.add(field+".public", "invalid address %q", d.Public)
		}
		if err2 != nil {
			errs.add(field+".private", "invalid address %q", d.Private)
		}
		if err1 == nil && err2 == nil && familyOf(pub) != familyOf(priv) {
			errs.add(field, "public and private addresses must be the same family")
		}
		if err1 == nil {
			if j := FirstOverlap(seen, pub); j >= 0 {
				errs.add(field+".public", "public address %s overlaps %s already mapped by nats.dnats[%d]", d.Public, seen[j], seenIdx[j])
			} else {
				seen = append(seen, pub.Masked())
				seenIdx = append(seenIdx, i)
			}
		}
		validateIfaceRef(errs, field+".iface", d.InIface)
	}

	for i, s := range f.SNATs() {
		field := fmt.Sprintf("nats.snats[%d]", i)
		pub, err1 := ParsePrefix(s.Public)
		priv, err2 := ParsePrefix(s.Private)
		if err1 != nil {
			errs.add(field+".public", "invalid address %q", s.Public)
		}
		if err2 != nil {
			errs.add(field+".private", "invalid address %q", s.Private)
		}
		if err1 == nil && err2 == nil && familyOf(pub) != familyOf(priv) {
			errs.add(field, "public and private addresses must be the same family")
		}
		validateIfaceRef(errs, field+".iface", s.OutIface)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
