//go:build linux

package network

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/podnet/internal/config"
	"grimm.is/podnet/internal/logging"
	"grimm.is/podnet/internal/runner"
	"grimm.is/podnet/internal/testutil"
)

func vmTopology() *config.NamespaceTopology {
	return &config.NamespaceTopology{
		ID:               "pnvm",
		PrivateInterface: "pnvmpriv",
		IPv4:             &config.Uplink{BridgeID: "pnbr4", Addresses: []string{"192.0.2.10"}, Mask: 24, Gateway: "192.0.2.1"},
		IPv6:             &config.Uplink{BridgeID: "pnbr6", Addresses: []string{"2001:db8::10"}, Mask: 64},
		Networks: []config.Network{
			{VlanID: 300, PrivateRange: "10.30.0.1/24", IPv6Range: "2001:db8:300::1/64"},
		},
	}
}

func TestNetlinkStateReader_BuildAndScrub_Integration(t *testing.T) {
	testutil.RequireVM(t)
	ctx := context.Background()
	local := runner.NewLocal(logging.Discard())

	for _, c := range []runner.Command{
		runner.Cmd("ip", "link", "add", "pnbr4", "type", "bridge"),
		runner.Cmd("ip", "link", "add", "pnbr6", "type", "bridge"),
		runner.Cmd("ip", "link", "add", "pnvmpriv", "type", "dummy"),
		runner.Cmd("ip", "link", "set", "pnbr4", "up"),
		runner.Cmd("ip", "addr", "add", "192.0.2.1/24", "dev", "pnbr4"),
		runner.Cmd("ip", "link", "set", "pnbr6", "up"),
		runner.Cmd("ip", "-6", "addr", "add", "2001:db8::1/64", "dev", "pnbr6", "nodad"),
		runner.Cmd("ip", "link", "set", "pnvmpriv", "up"),
	} {
		_, err := runner.Check(ctx, local, c)
		require.NoError(t, err, c.String())
	}
	t.Cleanup(func() {
		for _, l := range []string{"pnbr4", "pnbr6", "pnvmpriv"} {
			_, _ = local.Run(context.Background(), runner.Cmd("ip", "link", "del", l))
		}
		_, _ = local.Run(context.Background(), runner.Cmd("ip", "netns", "delete", "pnvm"))
	})

	reader := NewNetlinkStateReader()
	b := NewBuilder(BuilderConfig{Runner: local, Reader: reader, Logger: logging.Discard()})
	topo := vmTopology()

	_, err := b.Build(ctx, topo)
	require.NoError(t, err)

	exists, err := reader.NamespaceExists(ctx, "pnvm")
	require.NoError(t, err)
	assert.True(t, exists)

	up, err := reader.LinkUp(ctx, "pnvm", "pnvmpriv.300")
	require.NoError(t, err)
	assert.True(t, up)

	master, err := reader.LinkMaster(ctx, HostNamespace, "pnbr4.pnvm")
	require.NoError(t, err)
	assert.Equal(t, "pnbr4", master)

	ok, err := reader.HasAddress(ctx, "pnvm", "pnvmpriv.300", "10.30.0.1/24")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reader.HasRoute(ctx, "pnvm", "default", "192.0.2.1")
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := reader.Sysctl(ctx, "pnvm", "net.ipv4.ip_forward")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	report, err := b.Build(ctx, topo)
	require.NoError(t, err)
	assert.True(t, report.Unchanged(), "second build executed %v", report.Steps)

	_, err = b.Scrub(ctx, topo)
	require.NoError(t, err)
	_, err = b.Scrub(ctx, topo)
	require.NoError(t, err)

	exists, err = reader.NamespaceExists(ctx, "pnvm")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNetlinkStateReader_AbsentNamespace_Integration(t *testing.T) {
	testutil.RequireVM(t)
	ctx := context.Background()
	reader := NewNetlinkStateReader()

	ok, err := reader.LinkExists(ctx, "pn-missing", "lo")
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := reader.Sysctl(ctx, "pn-missing", "net.ipv4.ip_forward")
	require.NoError(t, err)
	assert.Empty(t, v)
}
