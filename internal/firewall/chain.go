package firewall

import (
	"grimm.is/podnet/internal/config"
)

// Chain types.
const (
	ChainTypeFilter = "filter"
	ChainTypeNAT    = "nat"
)

// Chain names. Bundle chains are named after their Application.
const (
	ChainPrerouting        = "prerouting"
	ChainPreroutingFilter  = "prerouting_filter"
	ChainInput             = "input"
	ChainForward           = "forward"
	ChainOutput            = "output"
	ChainPostrouting       = "postrouting"
	ChainPostroutingFilter = "postrouting_filter"
)

// Chain is one compiled chain. Hook is empty for bundle chains.
type Chain struct {
	Name     string
	Type     string
	Hook     string
	Priority int
	Policy   string
	Rules    []string
}

// IsBase reports whether the chain is attached to a hook.
func (c *Chain) IsBase() bool {
	return c.Hook != ""
}

// CompiledConfig is the output of Compile: one nftables table with its sets
// and chains in render order. It is immutable once returned.
type CompiledConfig struct {
	Namespace string
	Family    string
	Table     string
	Sets      []config.Set
	Chains    []*Chain
}

// Chain returns the rule lines of the named chain, or nil if the chain was
// not emitted.
func (c *CompiledConfig) Chain(name string) []string {
	for _, ch := range c.Chains {
		if ch.Name == name {
			return ch.Rules
		}
	}
	return nil
}

// ChainNames lists the emitted chains in render order.
func (c *CompiledConfig) ChainNames() []string {
	names := make([]string, len(c.Chains))
	for i, ch := range c.Chains {
		names[i] = ch.Name
	}
	return names
}

// RuleCount is the total number of rule lines across all chains.
func (c *CompiledConfig) RuleCount() int {
	n := 0
	for _, ch := range c.Chains {
		n += len(ch.Rules)
	}
	return n
}

// Render serializes the table as an nft script. All chains are declared
// before any rule so that jumps to bundle chains resolve.
func (c *CompiledConfig) Render() string {
	sb := NewScriptBuilder(c.Table, c.Family)
	sb.ReplaceTable()

	for _, s := range c.Sets {
		if isIntervalType(s.Type) {
			sb.AddIntervalSet(s.Name, s.Type)
		} else {
			sb.AddSet(s.Name, s.Type)
		}
		sb.AddSetElements(s.Name, s.Elements)
	}
	for _, ch := range c.Chains {
		sb.AddChain(ch.Name, ch.Type, ch.Hook, ch.Priority, ch.Policy)
	}
	for _, ch := range c.Chains {
		for _, r := range ch.Rules {
			sb.AddRule(ch.Name, r)
		}
	}
	return sb.Build()
}

// isIntervalType reports whether sets of setType hold prefixes or ranges.
func isIntervalType(setType string) bool {
	switch setType {
	case "ipv4_addr", "ipv6_addr", "inet_service":
		return true
	}
	return false
}
