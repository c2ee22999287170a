package network

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"

	"grimm.is/podnet/internal/config"
	"grimm.is/podnet/internal/runner"
)

// StepKind classifies a topology step for logs and metrics.
type StepKind string

const (
	StepNamespace       StepKind = "namespace"
	StepNamespaceDelete StepKind = "namespace_delete"
	StepVeth            StepKind = "veth"
	StepVLAN            StepKind = "vlan"
	StepMaster          StepKind = "master"
	StepMove            StepKind = "move"
	StepLinkUp          StepKind = "link_up"
	StepLinkDown        StepKind = "link_down"
	StepLinkDelete      StepKind = "link_delete"
	StepAddress         StepKind = "address"
	StepRoute           StepKind = "route"
	StepRouteDelete     StepKind = "route_delete"
	StepSysctl          StepKind = "sysctl"
)

// Probe reports whether a step's effect already holds on the system.
type Probe func(ctx context.Context, r SystemStateReader) (bool, error)

// Step is one system mutation in a topology plan.
type Step struct {
	Kind        StepKind
	Description string
	Command     runner.Command
	Probe       Probe
	// Satisfied is set by Plan when the probe found the effect in place.
	Satisfied bool
}

// Sysctls enabled inside every namespace so it can route between its
// networks and uplinks.
var forwardingSysctls = []string{
	"net.ipv4.ip_forward",
	"net.ipv6.conf.all.forwarding",
}

// Plan evaluates every step's probe against r and marks satisfied steps.
// The input slice is not modified.
func Plan(ctx context.Context, steps []Step, r SystemStateReader) ([]Step, error) {
	out := make([]Step, len(steps))
	copy(out, steps)
	for i := range out {
		if out[i].Probe == nil {
			continue
		}
		done, err := out[i].Probe(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("probe %q: %w", out[i].Description, err)
		}
		out[i].Satisfied = done
	}
	return out, nil
}

// stepList accumulates steps for one namespace.
type stepList struct {
	topo  *config.NamespaceTopology
	steps []Step
}

func (l *stepList) add(kind StepKind, desc string, cmd runner.Command, probe Probe) {
	l.steps = append(l.steps, Step{Kind: kind, Description: desc, Command: cmd, Probe: probe})
}

// inNS wraps an ip/sysctl invocation to run inside the topology's namespace.
func (l *stepList) inNS(name string, args ...string) runner.Command {
	return runner.InNamespace(l.topo.ID, runner.Cmd(name, args...))
}

// BuildSteps returns the construction steps for topo in their fixed order:
// namespace and loopback, the IPv4 uplink, the IPv6 uplink, each network in
// declaration order, and finally forwarding sysctls.
func BuildSteps(topo *config.NamespaceTopology) []Step {
	l := &stepList{topo: topo}
	ns := topo.ID

	l.add(StepNamespace, "create namespace "+ns,
		runner.Cmd("ip", "netns", "add", ns),
		func(ctx context.Context, r SystemStateReader) (bool, error) {
			return r.NamespaceExists(ctx, ns)
		})
	l.add(StepLinkUp, "bring up lo in "+ns,
		l.inNS("ip", "link", "set", "lo", "up"),
		linkUp(ns, "lo"))

	l.uplink(topo.IPv4, 4)
	l.uplink(topo.IPv6, 6)

	for _, net := range topo.Networks {
		l.network(net)
	}

	for _, key := range forwardingSysctls {
		l.add(StepSysctl, fmt.Sprintf("set %s=1 in %s", key, ns),
			l.inNS("sysctl", "-w", key+"=1"),
			sysctlIs(ns, key, "1"))
	}
	return l.steps
}

func (l *stepList) uplink(u *config.Uplink, family int) {
	if u == nil {
		return
	}
	ns := l.topo.ID
	host := l.topo.HostVethName(u)
	peer := l.topo.NSVethName(u)
	ip := ipCmd(family)

	l.add(StepVeth, fmt.Sprintf("create veth %s <-> %s", host, peer),
		runner.Cmd("ip", "link", "add", host, "type", "veth", "peer", "name", peer),
		linkExists(HostNamespace, host))
	l.add(StepMaster, fmt.Sprintf("attach %s to bridge %s", host, u.BridgeID),
		runner.Cmd("ip", "link", "set", host, "master", u.BridgeID),
		func(ctx context.Context, r SystemStateReader) (bool, error) {
			m, err := r.LinkMaster(ctx, HostNamespace, host)
			return m == u.BridgeID, err
		})
	l.add(StepLinkUp, "bring up "+host,
		runner.Cmd("ip", "link", "set", host, "up"),
		linkUp(HostNamespace, host))
	l.add(StepMove, fmt.Sprintf("move %s into %s", peer, ns),
		runner.Cmd("ip", "link", "set", peer, "netns", ns),
		linkExists(ns, peer))
	l.add(StepLinkUp, fmt.Sprintf("bring up %s in %s", peer, ns),
		l.inNS("ip", "link", "set", peer, "up"),
		linkUp(ns, peer))

	for _, a := range u.Addresses {
		cidr := a + "/" + strconv.Itoa(u.Mask)
		l.add(StepAddress, fmt.Sprintf("add %s to %s", cidr, peer),
			l.inNS("ip", append(ip, "addr", "add", cidr, "dev", peer)...),
			hasAddress(ns, peer, cidr))
	}
	if u.Gateway != "" {
		l.add(StepRoute, fmt.Sprintf("default route via %s in %s", u.Gateway, ns),
			l.inNS("ip", append(ip, "route", "add", "default", "via", u.Gateway)...),
			hasRoute(ns, "default", u.Gateway))
	}
}

func (l *stepList) network(net config.Network) {
	ns := l.topo.ID
	vlan := l.topo.VLANName(net)

	l.add(StepVLAN, fmt.Sprintf("create vlan %s on %s", vlan, l.topo.Private()),
		runner.Cmd("ip", "link", "add", "link", l.topo.Private(), "name", vlan, "type", "vlan", "id", strconv.Itoa(net.VlanID)),
		func(ctx context.Context, r SystemStateReader) (bool, error) {
			// Once moved the VLAN only exists inside the namespace.
			if ok, err := r.LinkExists(ctx, ns, vlan); ok || err != nil {
				return ok, err
			}
			return r.LinkExists(ctx, HostNamespace, vlan)
		})
	l.add(StepMove, fmt.Sprintf("move %s into %s", vlan, ns),
		runner.Cmd("ip", "link", "set", vlan, "netns", ns),
		linkExists(ns, vlan))
	l.add(StepLinkUp, fmt.Sprintf("bring up %s in %s", vlan, ns),
		l.inNS("ip", "link", "set", vlan, "up"),
		linkUp(ns, vlan))

	if net.PrivateRange != "" {
		l.add(StepAddress, fmt.Sprintf("add %s to %s", net.PrivateRange, vlan),
			l.inNS("ip", "addr", "add", net.PrivateRange, "dev", vlan),
			hasAddress(ns, vlan, net.PrivateRange))
	}
	if net.IPv6Range != "" {
		l.add(StepAddress, fmt.Sprintf("add %s to %s", net.IPv6Range, vlan),
			l.inNS("ip", "-6", "addr", "add", net.IPv6Range, "dev", vlan),
			hasAddress(ns, vlan, net.IPv6Range))
		if dst, via, ok := l.hostRoute(net); ok {
			l.add(StepRoute, fmt.Sprintf("host route %s via %s", dst, via),
				runner.Cmd("ip", "-6", "route", "add", dst, "via", via),
				hasRoute(HostNamespace, dst, via))
		}
	}
}

// hostRoute is the host-side route that sends a network's IPv6 subnet to the
// namespace's IPv6 uplink address.
func (l *stepList) hostRoute(net config.Network) (dst, via string, ok bool) {
	if net.IPv6Range == "" || l.topo.IPv6 == nil || len(l.topo.IPv6.Addresses) == 0 {
		return "", "", false
	}
	p, err := netip.ParsePrefix(net.IPv6Range)
	if err != nil {
		return "", "", false
	}
	return p.Masked().String(), l.topo.IPv6.Addresses[0], true
}

func (l *stepList) deleteHostRoutes() {
	for _, net := range l.topo.Networks {
		dst, via, ok := l.hostRoute(net)
		if !ok {
			continue
		}
		l.add(StepRouteDelete, fmt.Sprintf("delete host route %s via %s", dst, via),
			runner.Cmd("ip", "-6", "route", "del", dst, "via", via),
			not(hasRoute(HostNamespace, dst, via)))
	}
}

// QuiesceSteps takes the namespace out of service without deleting it: VLAN
// sub-interfaces and host IPv6 routes are removed and the uplinks set down.
func QuiesceSteps(topo *config.NamespaceTopology) []Step {
	l := &stepList{topo: topo}
	ns := topo.ID

	for _, net := range topo.Networks {
		vlan := topo.VLANName(net)
		l.add(StepLinkDelete, fmt.Sprintf("delete %s in %s", vlan, ns),
			l.inNS("ip", "link", "del", vlan),
			not(linkExists(ns, vlan)))
	}
	l.deleteHostRoutes()
	for _, u := range []*config.Uplink{topo.IPv4, topo.IPv6} {
		if u == nil {
			continue
		}
		peer := topo.NSVethName(u)
		l.add(StepLinkDown, fmt.Sprintf("set %s down in %s", peer, ns),
			l.inNS("ip", "link", "set", peer, "down"),
			not(linkUp(ns, peer)))
	}
	return l.steps
}

// ScrubSteps removes the namespace. Deleting the namespace destroys the veth
// pairs and VLANs inside it; host routes are removed first because they
// outlive it.
func ScrubSteps(topo *config.NamespaceTopology) []Step {
	l := &stepList{topo: topo}
	ns := topo.ID

	l.deleteHostRoutes()
	l.add(StepNamespaceDelete, "delete namespace "+ns,
		runner.Cmd("ip", "netns", "delete", ns),
		func(ctx context.Context, r SystemStateReader) (bool, error) {
			ok, err := r.NamespaceExists(ctx, ns)
			return !ok, err
		})
	return l.steps
}

func ipCmd(family int) []string {
	if family == 6 {
		return []string{"-6"}
	}
	return nil
}

func linkExists(ns, link string) Probe {
	return func(ctx context.Context, r SystemStateReader) (bool, error) {
		return r.LinkExists(ctx, ns, link)
	}
}

func linkUp(ns, link string) Probe {
	return func(ctx context.Context, r SystemStateReader) (bool, error) {
		return r.LinkUp(ctx, ns, link)
	}
}

func hasAddress(ns, link, cidr string) Probe {
	return func(ctx context.Context, r SystemStateReader) (bool, error) {
		return r.HasAddress(ctx, ns, link, cidr)
	}
}

func hasRoute(ns, dst, via string) Probe {
	return func(ctx context.Context, r SystemStateReader) (bool, error) {
		return r.HasRoute(ctx, ns, dst, via)
	}
}

func sysctlIs(ns, key, want string) Probe {
	return func(ctx context.Context, r SystemStateReader) (bool, error) {
		v, err := r.Sysctl(ctx, ns, key)
		return v == want, err
	}
}

func not(p Probe) Probe {
	return func(ctx context.Context, r SystemStateReader) (bool, error) {
		ok, err := p(ctx, r)
		return !ok, err
	}
}
