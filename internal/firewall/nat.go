package firewall

import (
	"fmt"
	"net/netip"
	"strings"

	"grimm.is/podnet/internal/config"
	"grimm.is/podnet/internal/errors"
)

// TranslateNAT expands DNAT and SNAT entries into the prerouting and
// postrouting NAT chains. A chain with no entries is returned as nil.
//
// DNAT is 1:1: an entry whose public range overlaps an earlier one is
// rejected, since the earlier rule would shadow it.
// SNAT is N:1: any number of private sources may share a public address.
func TranslateNAT(nat *config.NATSpec, priority int) (prerouting, postrouting *Chain, err error) {
	if nat == nil {
		return nil, nil, nil
	}

	seen := make([]netip.Prefix, 0, len(nat.DNATs))
	var dnat []string
	for i, d := range nat.DNATs {
		pub, err := config.ParsePrefix(d.Public)
		if err != nil {
			return nil, nil, errors.Wrapf(err, errors.KindValidation, "dnats[%d]: invalid public address %q", i, d.Public)
		}
		if j := config.FirstOverlap(seen, pub); j >= 0 {
			return nil, nil, errors.Attr(errors.Errorf(errors.KindValidation,
				"dnats[%d]: public address %s overlaps %s already mapped by dnats[%d]", i, d.Public, seen[j], j), "public", d.Public)
		}
		seen = append(seen, pub.Masked())

		line, err := natLine(ifaceMatch("iifname", d.InIface), "daddr", d.Public, "dnat", d.Private)
		if err != nil {
			return nil, nil, errors.Wrapf(err, errors.KindValidation, "dnats[%d]", i)
		}
		dnat = append(dnat, line)
	}

	var snat []string
	for i, s := range nat.SNATs {
		line, err := natLine(ifaceMatch("oifname", s.OutIface), "saddr", s.Private, "snat", s.Public)
		if err != nil {
			return nil, nil, errors.Wrapf(err, errors.KindValidation, "snats[%d]", i)
		}
		snat = append(snat, line)
	}

	if len(dnat) > 0 {
		prerouting = &Chain{
			Name:     ChainPrerouting,
			Type:     ChainTypeNAT,
			Hook:     "prerouting",
			Priority: priority,
			Policy:   config.PolicyAccept,
			Rules:    dnat,
		}
	}
	if len(snat) > 0 {
		postrouting = &Chain{
			Name:     ChainPostrouting,
			Type:     ChainTypeNAT,
			Hook:     "postrouting",
			Priority: priority,
			Policy:   config.PolicyAccept,
			Rules:    snat,
		}
	}
	return prerouting, postrouting, nil
}

// natLine renders "<iface> ip daddr <match> dnat to <target>".
func natLine(iface, dir, match, verb, target string) (string, error) {
	p, err := config.ParsePrefix(match)
	if err != nil {
		return "", fmt.Errorf("invalid address %q", match)
	}
	if _, err := config.ParsePrefix(target); err != nil {
		return "", fmt.Errorf("invalid address %q", target)
	}

	parts := make([]string, 0, 5)
	if iface != "" {
		parts = append(parts, iface)
	}
	parts = append(parts, familyKeyword(p.Addr().Is4())+" "+dir, match, verb+" to", target)
	return strings.Join(parts, " "), nil
}

func familyKeyword(v4 bool) string {
	if v4 {
		return "ip"
	}
	return "ip6"
}

// ifaceMatch renders `iifname "eth0"`. Absent and "any" render nothing.
func ifaceMatch(keyword, iface string) string {
	if config.IsAbsent(iface) || config.IsAny(iface) {
		return ""
	}
	return keyword + " " + forceQuote(iface)
}
