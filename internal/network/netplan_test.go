package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"grimm.is/podnet/internal/config"
	"grimm.is/podnet/internal/errors"
)

func testInterface() *config.InterfaceSpec {
	return &config.InterfaceSpec{
		Ifname: "eth1",
		MAC:    "52:54:00:12:34:56",
		IPs:    []string{"192.0.2.10/24"},
		Routes: []config.Route{{To: "default", Via: "192.0.2.1"}},
		VLANs: []config.VLAN{
			{VlanID: 100, IPs: []string{"10.100.0.1/24"}, Routes: []config.Route{{To: "10.200.0.0/16", Via: "10.100.0.254"}}},
			{VlanID: 200, IPs: []string{"10.200.0.1/24"}},
		},
	}
}

func parseNetplan(t *testing.T, data []byte) netplanFile {
	t.Helper()
	var doc netplanFile
	require.NoError(t, yaml.Unmarshal(data, &doc))
	return doc
}

func TestRenderNetplan_Ethernet(t *testing.T) {
	out, err := RenderNetplan(testInterface(), false)
	require.NoError(t, err)

	doc := parseNetplan(t, out)
	assert.Equal(t, 2, doc.Network.Version)
	require.Contains(t, doc.Network.Ethernets, "eth1")
	eth := doc.Network.Ethernets["eth1"]
	require.NotNil(t, eth.Match)
	assert.Equal(t, "52:54:00:12:34:56", eth.Match.MACAddress)
	assert.Equal(t, "eth1", eth.SetName)
	assert.Equal(t, []string{"192.0.2.10/24"}, eth.Addresses)
	assert.Equal(t, []netplanRoute{{To: "default", Via: "192.0.2.1"}}, eth.Routes)

	require.Len(t, doc.Network.VLANs, 2)
	v := doc.Network.VLANs["eth1.100"]
	assert.Equal(t, 100, v.ID)
	assert.Equal(t, "eth1", v.Link)
	assert.Equal(t, []netplanRoute{{To: "10.200.0.0/16", Via: "10.100.0.254"}}, v.Routes)
	assert.Empty(t, doc.Network.Bonds)

	assert.Contains(t, string(out), "set-name: eth1")
	assert.Contains(t, string(out), "dhcp4: false")
}

func TestRenderNetplan_BaseOnly(t *testing.T) {
	out, err := RenderNetplan(testInterface(), true)
	require.NoError(t, err)

	doc := parseNetplan(t, out)
	assert.Empty(t, doc.Network.VLANs)
	eth := doc.Network.Ethernets["eth1"]
	assert.Empty(t, eth.Routes)
	assert.Equal(t, []string{"192.0.2.10/24"}, eth.Addresses, "quiesce keeps the base addresses")
	assert.NotContains(t, string(out), "vlans")
}

func TestRenderNetplan_Bond(t *testing.T) {
	spec := &config.InterfaceSpec{
		Ifname:      "bond0",
		IPs:         []string{"198.51.100.2/24"},
		BondMembers: []string{"eno1", "eno2"},
		BondParameters: map[string]string{
			"mode":                 "802.3ad",
			"mii-monitor-interval": "100",
		},
		VLANs: []config.VLAN{{VlanID: 10}},
	}
	out, err := RenderNetplan(spec, false)
	require.NoError(t, err)

	doc := parseNetplan(t, out)
	assert.Len(t, doc.Network.Ethernets, 2)
	assert.Contains(t, doc.Network.Ethernets, "eno1")
	require.Contains(t, doc.Network.Bonds, "bond0")
	bond := doc.Network.Bonds["bond0"]
	assert.Equal(t, []string{"eno1", "eno2"}, bond.Interfaces)
	assert.Equal(t, "802.3ad", bond.Parameters["mode"])
	assert.Equal(t, 100, bond.Parameters["mii-monitor-interval"])
	assert.Equal(t, "bond0", doc.Network.VLANs["bond0.10"].Link)

	assert.Contains(t, string(out), "mii-monitor-interval: 100\n")
}

func TestRenderNetplan_Deterministic(t *testing.T) {
	a, err := RenderNetplan(testInterface(), false)
	require.NoError(t, err)
	b, err := RenderNetplan(testInterface(), false)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRenderNetplan_Invalid(t *testing.T) {
	spec := testInterface()
	spec.BondMembers = []string{"eno1"}

	_, err := RenderNetplan(spec, false)
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))

	_, err = RenderNetplan(nil, false)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}
