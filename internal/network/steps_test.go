package network

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/podnet/internal/config"
)

func testTopology() *config.NamespaceTopology {
	return &config.NamespaceTopology{
		ID:   "ns1",
		IPv4: &config.Uplink{BridgeID: "br4", Addresses: []string{"203.0.113.10"}, Mask: 24, Gateway: "203.0.113.1"},
		IPv6: &config.Uplink{BridgeID: "br6", Addresses: []string{"2001:db8::10"}, Mask: 64, Gateway: "2001:db8::1"},
		Networks: []config.Network{
			{VlanID: 200, PrivateRange: "10.0.2.1/24", IPv6Range: "2001:db8:200::1/64"},
			{VlanID: 100, PrivateRange: "10.0.1.1/24", IPv6Range: "2001:db8:100::1/64"},
		},
	}
}

func stepsOfKind(steps []Step, kind StepKind) []Step {
	var out []Step
	for _, s := range steps {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func indexOf(steps []Step, desc string) int {
	for i, s := range steps {
		if s.Description == desc {
			return i
		}
	}
	return -1
}

func TestBuildSteps_VLANsInDeclarationOrder(t *testing.T) {
	vlans := stepsOfKind(BuildSteps(testTopology()), StepVLAN)
	require.Len(t, vlans, 2)
	assert.Equal(t, "ip link add link private0 name private0.200 type vlan id 200", vlans[0].Command.String())
	assert.Equal(t, "ip link add link private0 name private0.100 type vlan id 100", vlans[1].Command.String())
}

func TestBuildSteps_Order(t *testing.T) {
	steps := BuildSteps(testTopology())
	require.Len(t, steps, 30)

	assert.Equal(t, "ip netns add ns1", steps[0].Command.String())
	assert.Equal(t, "ip netns exec ns1 ip link set lo up", steps[1].Command.String())

	v4 := indexOf(steps, "create veth br4.ns1 <-> ns1.br4")
	v6 := indexOf(steps, "create veth br6.ns1 <-> ns1.br6")
	vlan := indexOf(steps, "create vlan private0.200 on private0")
	require.True(t, v4 > 0 && v6 > 0 && vlan > 0)
	assert.Less(t, v4, v6)
	assert.Less(t, v6, vlan)

	last := steps[len(steps)-2:]
	assert.Equal(t, "ip netns exec ns1 sysctl -w net.ipv4.ip_forward=1", last[0].Command.String())
	assert.Equal(t, "ip netns exec ns1 sysctl -w net.ipv6.conf.all.forwarding=1", last[1].Command.String())
}

func TestBuildSteps_UplinkCommands(t *testing.T) {
	steps := BuildSteps(testTopology())
	var lines []string
	for _, s := range steps[2:9] {
		lines = append(lines, s.Command.String())
	}
	assert.Equal(t, []string{
		"ip link add br4.ns1 type veth peer name ns1.br4",
		"ip link set br4.ns1 master br4",
		"ip link set br4.ns1 up",
		"ip link set ns1.br4 netns ns1",
		"ip netns exec ns1 ip link set ns1.br4 up",
		"ip netns exec ns1 ip addr add 203.0.113.10/24 dev ns1.br4",
		"ip netns exec ns1 ip route add default via 203.0.113.1",
	}, lines)

	addr6 := stepsOfKind(steps, StepAddress)
	assert.Contains(t, commandLines(addr6), "ip netns exec ns1 ip -6 addr add 2001:db8::10/64 dev ns1.br6")
}

func TestBuildSteps_HostRoutes(t *testing.T) {
	routes := stepsOfKind(BuildSteps(testTopology()), StepRoute)
	assert.Equal(t, []string{
		"ip netns exec ns1 ip route add default via 203.0.113.1",
		"ip netns exec ns1 ip -6 route add default via 2001:db8::1",
		"ip -6 route add 2001:db8:200::/64 via 2001:db8::10",
		"ip -6 route add 2001:db8:100::/64 via 2001:db8::10",
	}, commandLines(routes))
}

func TestBuildSteps_Minimal(t *testing.T) {
	steps := BuildSteps(&config.NamespaceTopology{ID: "ns2"})
	assert.Equal(t, []string{
		"ip netns add ns2",
		"ip netns exec ns2 ip link set lo up",
		"ip netns exec ns2 sysctl -w net.ipv4.ip_forward=1",
		"ip netns exec ns2 sysctl -w net.ipv6.conf.all.forwarding=1",
	}, commandLines(steps))
}

func TestQuiesceSteps(t *testing.T) {
	assert.Equal(t, []string{
		"ip netns exec ns1 ip link del private0.200",
		"ip netns exec ns1 ip link del private0.100",
		"ip -6 route del 2001:db8:200::/64 via 2001:db8::10",
		"ip -6 route del 2001:db8:100::/64 via 2001:db8::10",
		"ip netns exec ns1 ip link set ns1.br4 down",
		"ip netns exec ns1 ip link set ns1.br6 down",
	}, commandLines(QuiesceSteps(testTopology())))
}

func TestScrubSteps(t *testing.T) {
	assert.Equal(t, []string{
		"ip -6 route del 2001:db8:200::/64 via 2001:db8::10",
		"ip -6 route del 2001:db8:100::/64 via 2001:db8::10",
		"ip netns delete ns1",
	}, commandLines(ScrubSteps(testTopology())))
}

func TestPlan(t *testing.T) {
	ctx := context.Background()
	host := NewFakeHost("br4", "br6", "private0")
	steps := BuildSteps(testTopology())

	planned, err := Plan(ctx, steps, host)
	require.NoError(t, err)
	for _, s := range planned {
		assert.False(t, s.Satisfied, s.Description)
	}
	assert.Empty(t, host.Commands(), "planning must not run commands")

	_, err = NewBuilder(BuilderConfig{Runner: host, Reader: host}).Build(ctx, testTopology())
	require.NoError(t, err)

	planned, err = Plan(ctx, steps, host)
	require.NoError(t, err)
	for _, s := range planned {
		assert.True(t, s.Satisfied, s.Description)
	}
	for _, s := range steps {
		assert.False(t, s.Satisfied, "input steps are not modified")
	}
}

func commandLines(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Command.String()
	}
	return out
}
