package firewall

import (
	"fmt"
	"sort"
	"strings"

	"grimm.is/podnet/internal/config"
	"grimm.is/podnet/internal/errors"
)

// TableFamily is the nftables family every podnet table lives in.
const TableFamily = "inet"

const establishedRule = "ct state established,related accept"

// Compile turns a firewall spec into a CompiledConfig. Compilation is all or
// nothing: any invalid rule aborts with no output. The result depends only
// on spec, so compiling the same spec twice renders byte-identical scripts.
func Compile(spec *config.FirewallSpec) (*CompiledConfig, error) {
	if spec == nil {
		return nil, errors.New(errors.KindValidation, "nil firewall spec")
	}
	if err := spec.Validate().Err(); err != nil {
		return nil, err
	}

	cc := &CompiledConfig{
		Namespace: spec.Namespace,
		Family:    TableFamily,
		Table:     spec.Table,
		Sets:      append([]config.Set(nil), spec.Sets...),
	}

	logPrefix := fmt.Sprintf("%s_%s", spec.Namespace, spec.Table)
	used := make(map[Application]bool)

	var input, forward, output, preFilter, postFilter []string
	for _, r := range sortedRules(spec.Rules) {
		line, app, err := renderRule(r, logPrefix)
		if err != nil {
			return nil, err
		}
		if app != 0 {
			used[app] = true
		}
		switch {
		case r.HasInIface() && r.HasOutIface():
			forward = append(forward, line)
		case r.HasInIface():
			input = append(input, line)
		case r.HasOutIface():
			output = append(output, line)
		}
	}
	for _, r := range sortedRules(spec.GlobalRules) {
		line, app, err := renderRule(r, logPrefix)
		if err != nil {
			return nil, err
		}
		if app != 0 {
			used[app] = true
		}
		if r.HasInIface() {
			preFilter = append(preFilter, line)
		} else {
			postFilter = append(postFilter, line)
		}
	}

	prerouting, postrouting, err := TranslateNAT(spec.NAT, spec.Priority)
	if err != nil {
		return nil, err
	}

	filter := func(name, hook, policy string, rules []string, established bool) {
		if len(rules) == 0 {
			return
		}
		if established {
			rules = append([]string{establishedRule}, rules...)
		}
		cc.Chains = append(cc.Chains, &Chain{
			Name:     name,
			Type:     ChainTypeFilter,
			Hook:     hook,
			Priority: spec.Priority,
			Policy:   policy,
			Rules:    rules,
		})
	}

	if prerouting != nil {
		cc.Chains = append(cc.Chains, prerouting)
	}
	filter(ChainPreroutingFilter, "prerouting", config.PolicyAccept, preFilter, false)
	filter(ChainInput, "input", spec.Policy(), input, true)
	filter(ChainForward, "forward", spec.Policy(), forward, true)
	filter(ChainOutput, "output", spec.Policy(), output, false)
	if postrouting != nil {
		cc.Chains = append(cc.Chains, postrouting)
	}
	filter(ChainPostroutingFilter, "postrouting", config.PolicyAccept, postFilter, false)

	for _, app := range Applications() {
		if used[app] {
			cc.Chains = append(cc.Chains, &Chain{Name: app.String(), Rules: app.Body()})
		}
	}
	return cc, nil
}

// sortedRules returns rules ordered by Order. The sort is stable: rules with
// equal Order keep their declaration order.
func sortedRules(rules []config.Rule) []config.Rule {
	out := make([]config.Rule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// renderRule builds one rule line:
//
//	iifname oifname [saddr] [daddr] [family] [proto/port] [log] verdict
func renderRule(r config.Rule, logPrefix string) (string, Application, error) {
	app, err := applicationFor(r)
	if err != nil {
		return "", 0, err
	}

	fam := familyKeyword(r.Version == 4)
	var parts []string

	if m := ifaceMatch("iifname", r.InIface); m != "" {
		parts = append(parts, m)
	}
	if m := ifaceMatch("oifname", r.OutIface); m != "" {
		parts = append(parts, m)
	}

	saddr := addrMatch(fam+" saddr", r.Sources)
	daddr := addrMatch(fam+" daddr", r.Destinations)
	if saddr != "" {
		parts = append(parts, saddr)
	}
	if daddr != "" {
		parts = append(parts, daddr)
	}
	if saddr == "" && daddr == "" {
		// Without an address match the rule would hit both families.
		parts = append(parts, "meta nfproto ipv"+fmt.Sprint(r.Version))
	}

	if app == 0 {
		switch proto := r.Proto(); proto {
		case "tcp", "udp":
			if len(r.Ports) > 0 {
				parts = append(parts, proto+" dport "+listMatch(r.Ports))
			} else {
				parts = append(parts, "meta l4proto "+proto)
			}
		}
	}

	if r.Log {
		parts = append(parts, fmt.Sprintf("log prefix %q level debug", logPrefix))
	}

	if app != 0 {
		parts = append(parts, "jump "+app.String())
	} else {
		parts = append(parts, r.Action)
	}
	return strings.Join(parts, " "), app, nil
}

// addrMatch renders "ip saddr <x>". An empty list or "any" matches
// everything and renders nothing.
func addrMatch(prefix string, addrs []string) string {
	if len(addrs) == 0 || (len(addrs) == 1 && addrs[0] == "any") {
		return ""
	}
	return prefix + " " + listMatch(addrs)
}

// listMatch renders a single value or set reference bare and several values
// as an anonymous set.
func listMatch(vals []string) string {
	if len(vals) == 1 {
		return vals[0]
	}
	return "{ " + strings.Join(vals, ", ") + " }"
}
