package firewall

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScriptBuilder(t *testing.T) {
	sb := NewScriptBuilder("filter", "inet")
	sb.ReplaceTable()
	sb.AddSet("web", "inet_service", "interval")
	sb.AddSetElements("web", []string{"80", "443"})
	sb.AddSetElements("empty", nil)
	sb.AddChain("input", "filter", "input", 0, "drop")
	sb.AddChain("dns_accept", "", "", 0, "")
	sb.AddChain("odd name", "", "", 0, "")
	sb.AddRule("input", "tcp dport @web accept")

	want := `add table inet filter
delete table inet filter
add table inet filter
add set inet filter web { type inet_service; flags interval; }
add element inet filter web { 80, 443 }
add chain inet filter input { type filter hook input priority 0; policy drop; }
add chain inet filter dns_accept
add chain inet filter "odd name"
add rule inet filter input tcp dport @web accept
`
	assert.Equal(t, want, sb.Build())
	assert.Equal(t, want, sb.String())
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "eth0.100", quote("eth0.100"))
	assert.Equal(t, `"a b"`, quote("a b"))
	assert.Equal(t, `"eth0"`, forceQuote("eth0"))
}

func TestScriptBuilder_IntervalSet(t *testing.T) {
	sb := NewScriptBuilder("filter", "inet")
	sb.AddIntervalSet("blocked", "ipv4_addr")
	sb.AddSetElements("blocked", []string{"10.0.0.0/8", "10.1.0.0/16"})

	assert.Equal(t, `add set inet filter blocked { type ipv4_addr; flags interval; auto-merge; }
add element inet filter blocked { 10.0.0.0/8, 10.1.0.0/16 }
`, sb.Build())
}

func TestScriptBuilder_InlineSetSwap(t *testing.T) {
	sb := NewScriptBuilder("filter", "inet")
	sb.FlushSet("blocked")
	sb.AddSetElements("blocked", []string{"192.0.2.1"})

	assert.Equal(t, "flush set inet filter blocked; add element inet filter blocked { 192.0.2.1 }", sb.Inline())
}
