package firewall

import (
	"fmt"

	"grimm.is/podnet/internal/config"
	"grimm.is/podnet/internal/errors"
)

// Application is a precompiled rule bundle. Each bundle is rendered as a
// regular chain with a constant body that rules jump to.
type Application uint8

const (
	ICMPAccept Application = iota + 1
	ICMPDrop
	ICMP6Accept
	ICMP6Drop
	DNSAccept
	DNSDrop
	DHCPAccept
	DHCPDrop
	VPNAccept
	VPNDrop
)

var applicationNames = map[Application]string{
	ICMPAccept:  "icmp_accept",
	ICMPDrop:    "icmp_drop",
	ICMP6Accept: "icmp6_accept",
	ICMP6Drop:   "icmp6_drop",
	DNSAccept:   "dns_accept",
	DNSDrop:     "dns_drop",
	DHCPAccept:  "dhcp_accept",
	DHCPDrop:    "dhcp_drop",
	VPNAccept:   "vpn_accept",
	VPNDrop:     "vpn_drop",
}

// Applications lists every bundle in declaration order.
func Applications() []Application {
	return []Application{
		ICMPAccept, ICMPDrop, ICMP6Accept, ICMP6Drop,
		DNSAccept, DNSDrop, DHCPAccept, DHCPDrop,
		VPNAccept, VPNDrop,
	}
}

// String returns the bundle name, which is also its chain name.
func (a Application) String() string {
	if name, ok := applicationNames[a]; ok {
		return name
	}
	return fmt.Sprintf("application(%d)", uint8(a))
}

// LookupApplication resolves a bundle by name.
func LookupApplication(name string) (Application, error) {
	for _, a := range Applications() {
		if applicationNames[a] == name {
			return a, nil
		}
	}
	return 0, errors.Attr(errors.Errorf(errors.KindConfig, "unknown application bundle %q", name), "application", name)
}

// Verdict returns "accept" or "drop".
func (a Application) Verdict() string {
	switch a {
	case ICMPAccept, ICMP6Accept, DNSAccept, DHCPAccept, VPNAccept:
		return config.ActionAccept
	default:
		return config.ActionDrop
	}
}

// Body returns the bundle's rule lines.
func (a Application) Body() []string {
	v := a.Verdict()
	switch a {
	case ICMPAccept, ICMPDrop:
		return []string{
			"icmp type { destination-unreachable, echo-reply, echo-request, time-exceeded } " + v,
		}
	case ICMP6Accept, ICMP6Drop:
		return []string{
			"icmpv6 type { destination-unreachable, packet-too-big, time-exceeded, echo-request, echo-reply, " +
				"mld-listener-query, nd-router-solicit, nd-router-advert, nd-neighbor-solicit, nd-neighbor-advert } " + v,
		}
	case DNSAccept, DNSDrop:
		return []string{
			"udp dport 53 " + v,
			"tcp dport 53 " + v,
		}
	case DHCPAccept, DHCPDrop:
		return []string{
			"udp dport { 67, 68 } " + v,
			"udp dport { 546, 547 } " + v,
		}
	case VPNAccept, VPNDrop:
		return []string{
			"udp dport { 500, 4500 } " + v,
			"meta l4proto esp " + v,
		}
	}
	return nil
}

// applicationFor picks the bundle a rule jumps to, or 0 when the rule is a
// plain protocol match.
func applicationFor(r config.Rule) (Application, error) {
	if r.Application != "" {
		if r.Proto() != "any" {
			return 0, errors.Errorf(errors.KindValidation,
				"application %q cannot be combined with protocol %q", r.Application, r.Proto())
		}
		return LookupApplication(r.Application)
	}

	accept := r.Accept()
	pick := func(acc, drop Application) Application {
		if accept {
			return acc
		}
		return drop
	}
	switch r.Proto() {
	case "icmp":
		if r.Version == 6 {
			return pick(ICMP6Accept, ICMP6Drop), nil
		}
		return pick(ICMPAccept, ICMPDrop), nil
	case "dns":
		return pick(DNSAccept, DNSDrop), nil
	case "dhcp":
		return pick(DHCPAccept, DHCPDrop), nil
	case "vpn":
		return pick(VPNAccept, VPNDrop), nil
	}
	return 0, nil
}
