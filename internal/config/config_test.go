package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/podnet/internal/errors"
)

const sampleHCL = `
firewall "ns1100" "main" {
  priority       = 5
  default_policy = "drop"

  set "admins" {
    type     = "ipv4_addr"
    elements = ["198.51.100.0/24", "192.0.2.7"]
  }

  rule {
    version  = 4
    sources  = ["@admins"]
    protocol = "tcp"
    ports    = ["22"]
    action   = "accept"
    iiface   = "public0"
    order    = 10
    log      = true
  }

  rule {
    version  = 6
    protocol = "icmp"
    action   = "accept"
    iiface   = "any"
  }

  nat {
    dnat {
      public  = "203.0.113.10"
      private = "10.0.0.10"
      iface   = "public0"
    }
    snat {
      public  = "203.0.113.5"
      private = "10.0.0.0/24"
      iface   = "public0"
    }
  }
}

namespace "ns1100" {
  ipv4 {
    bridge    = "br4"
    addresses = ["203.0.113.10"]
    mask      = 24
    gateway   = "203.0.113.1"
  }
  network {
    vlan          = 1002
    private_range = "10.0.0.1/24"
  }
}

interface "bond0" {
  host         = env.PODNET_TEST_HOST
  ips          = ["192.0.2.10/24"]
  bond_members = ["eno1", "eno2"]
  bond_parameters = {
    mode = "802.3ad"
  }

  route {
    to  = "default"
    via = "192.0.2.1"
  }

  vlan {
    vlan = 200
    ips  = ["10.20.0.2/24"]
  }
}
`

func TestLoadHCL(t *testing.T) {
	t.Setenv("PODNET_TEST_HOST", "podnet-a")

	f, err := LoadHCL([]byte(sampleHCL), "sample.hcl")
	require.NoError(t, err)
	require.Empty(t, f.Validate())

	fw, err := f.Firewall("ns1100", "main")
	require.NoError(t, err)
	assert.Equal(t, 5, fw.Priority)
	require.Len(t, fw.Rules, 2)
	assert.Equal(t, []string{"@admins"}, fw.Rules[0].Sources)
	assert.True(t, fw.Rules[0].Accept())
	assert.True(t, fw.Rules[0].Log)
	assert.Equal(t, "any", fw.Rules[1].InIface)
	require.NotNil(t, fw.NAT)
	assert.Len(t, fw.DNATs(), 1)
	assert.Len(t, fw.SNATs(), 1)

	ns, err := f.Namespace("")
	require.NoError(t, err)
	assert.Equal(t, "ns1100", ns.ID)
	assert.Equal(t, "private0.1002", ns.VLANName(ns.Networks[0]))
	assert.Equal(t, "br4.ns1100", ns.HostVethName(ns.IPv4))

	ifc, err := f.Interface("bond0")
	require.NoError(t, err)
	assert.Equal(t, "podnet-a", ifc.Host)
	assert.True(t, ifc.IsBond())
	assert.Equal(t, "802.3ad", ifc.BondParameters["mode"])
	assert.Equal(t, "bond0.yaml", ifc.File())
}

func TestLoadFile_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.json")
	content := `{
	  "firewalls": [{
	    "namespace": "ns1", "table": "t", "priority": 0,
	    "rules": [{"version": 4, "action": "drop", "oiface": "eth0"}],
	    "nats": {"snats": [{"public": "203.0.113.5", "private": "10.0.0.1"}]}
	  }]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	fw, err := f.Firewall("", "")
	require.NoError(t, err)
	assert.Equal(t, "ns1/t", fw.Identity())
	assert.Equal(t, PolicyDrop, fw.Policy())
}

func TestLoadFile_InvalidIsValidationError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.hcl")
	content := `
firewall "ns1" "t" {
  rule {
    version = 5
    iiface  = "eth0"
  }
}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
	assert.Contains(t, err.Error(), "action is required")
	assert.Contains(t, err.Error(), "must be 4 or 6")
}

func TestLoadHCL_SyntaxError(t *testing.T) {
	_, err := LoadHCL([]byte(`firewall "a" {`), "broken.hcl")
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestFirewallValidate(t *testing.T) {
	accept := func(r Rule) Rule {
		r.Action = ActionAccept
		return r
	}

	tests := []struct {
		name    string
		spec    FirewallSpec
		wantErr string
	}{
		{
			name: "valid minimal",
			spec: FirewallSpec{Namespace: "ns", Table: "t"},
		},
		{
			name:    "bad policy",
			spec:    FirewallSpec{Namespace: "ns", Table: "t", DefaultPolicy: "reject"},
			wantErr: "default_policy",
		},
		{
			name: "rule without interfaces",
			spec: FirewallSpec{Namespace: "ns", Table: "t", Rules: []Rule{
				accept(Rule{Version: 4}),
			}},
			wantErr: "at least one of iiface or oiface",
		},
		{
			name: "global rule with both interfaces",
			spec: FirewallSpec{Namespace: "ns", Table: "t", GlobalRules: []Rule{
				accept(Rule{Version: 4, InIface: "a", OutIface: "b"}),
			}},
			wantErr: "exactly one of iiface or oiface",
		},
		{
			name: "address family mismatch",
			spec: FirewallSpec{Namespace: "ns", Table: "t", Rules: []Rule{
				accept(Rule{Version: 6, Sources: []string{"10.0.0.0/8"}, InIface: "eth0"}),
			}},
			wantErr: "does not match version 6",
		},
		{
			name: "any mixed with addresses",
			spec: FirewallSpec{Namespace: "ns", Table: "t", Rules: []Rule{
				accept(Rule{Version: 4, Sources: []string{"any", "10.0.0.1"}, InIface: "eth0"}),
			}},
			wantErr: "must be the only entry",
		},
		{
			name: "undefined set",
			spec: FirewallSpec{Namespace: "ns", Table: "t", Rules: []Rule{
				accept(Rule{Version: 4, Destinations: []string{"@nope"}, InIface: "eth0"}),
			}},
			wantErr: `set "nope" not found`,
		},
		{
			name: "bad port range",
			spec: FirewallSpec{Namespace: "ns", Table: "t", Rules: []Rule{
				accept(Rule{Version: 4, Protocol: "tcp", Ports: []string{"90-80"}, InIface: "eth0"}),
			}},
			wantErr: "out of range",
		},
		{
			name: "ports without tcp or udp",
			spec: FirewallSpec{Namespace: "ns", Table: "t", Rules: []Rule{
				accept(Rule{Version: 4, Protocol: "any", Ports: []string{"80"}, InIface: "eth0"}),
			}},
			wantErr: "ports require protocol",
		},
		{
			name: "interface name too long",
			spec: FirewallSpec{Namespace: "ns", Table: "t", Rules: []Rule{
				accept(Rule{Version: 4, InIface: "averyveryverylongname"}),
			}},
			wantErr: "exceeds 15 characters",
		},
		{
			name: "duplicate set",
			spec: FirewallSpec{Namespace: "ns", Table: "t", Sets: []Set{
				{Name: "a", Type: "ipv4_addr"},
				{Name: "a", Type: "ipv4_addr"},
			}},
			wantErr: "duplicate set name",
		},
		{
			name: "duplicate dnat public",
			spec: FirewallSpec{Namespace: "ns", Table: "t", NAT: &NATSpec{DNATs: []DNAT{
				{Public: "203.0.113.10", Private: "10.0.0.10"},
				{Public: "203.0.113.10", Private: "10.0.0.11"},
			}}},
			wantErr: "already mapped",
		},
		{
			name: "dnat host inside earlier range",
			spec: FirewallSpec{Namespace: "ns", Table: "t", NAT: &NATSpec{DNATs: []DNAT{
				{Public: "203.0.113.0/24", Private: "10.0.0.0/24"},
				{Public: "203.0.113.5", Private: "10.0.0.99"},
			}}},
			wantErr: "overlaps 203.0.113.0/24",
		},
		{
			name: "dnat unmasked prefixes in one network",
			spec: FirewallSpec{Namespace: "ns", Table: "t", NAT: &NATSpec{DNATs: []DNAT{
				{Public: "198.51.100.1/24", Private: "10.0.1.0/24"},
				{Public: "198.51.100.2/24", Private: "10.0.2.0/24"},
			}}},
			wantErr: "already mapped",
		},
		{
			name: "disjoint dnat ranges",
			spec: FirewallSpec{Namespace: "ns", Table: "t", NAT: &NATSpec{DNATs: []DNAT{
				{Public: "203.0.113.0/25", Private: "10.0.0.0/25"},
				{Public: "203.0.113.128/25", Private: "10.0.0.128/25"},
			}}},
		},
		{
			name: "snat sharing public is fine",
			spec: FirewallSpec{Namespace: "ns", Table: "t", NAT: &NATSpec{SNATs: []SNAT{
				{Public: "203.0.113.5", Private: "10.0.0.1"},
				{Public: "203.0.113.5", Private: "10.0.0.2"},
			}}},
		},
		{
			name: "nat family mismatch",
			spec: FirewallSpec{Namespace: "ns", Table: "t", NAT: &NATSpec{SNATs: []SNAT{
				{Public: "2001:db8::1", Private: "10.0.0.1"},
			}}},
			wantErr: "same family",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.spec.Validate()
			if tt.wantErr == "" {
				assert.Empty(t, errs)
				assert.NoError(t, errs.Err())
				return
			}
			require.True(t, errs.HasErrors())
			assert.Contains(t, errs.Error(), tt.wantErr)
			assert.True(t, errors.IsKind(errs.Err(), errors.KindValidation))
		})
	}
}

func TestNamespaceValidate(t *testing.T) {
	valid := NamespaceTopology{
		ID: "ns1100",
		IPv6: &Uplink{
			BridgeID:  "br6",
			Addresses: []string{"2001:db8::10"},
			Mask:      64,
			Gateway:   "2001:db8::1",
		},
		Networks: []Network{
			{VlanID: 1002, PrivateRange: "10.0.0.1/24", IPv6Range: "2001:db8:1::1/64"},
			{VlanID: 1001},
		},
	}
	assert.Empty(t, valid.Validate())

	dup := valid
	dup.Networks = []Network{{VlanID: 7}, {VlanID: 7}}
	assert.Contains(t, dup.Validate().Error(), "vlan id 7 already used")

	noV6 := valid
	noV6.IPv6 = nil
	assert.Contains(t, noV6.Validate().Error(), "IPv6 uplink is required")

	longName := NamespaceTopology{
		ID:   "namespace1234",
		IPv4: &Uplink{BridgeID: "br4", Addresses: []string{"192.0.2.1"}, Mask: 24},
	}
	errs := longName.Validate()
	require.True(t, errs.HasErrors())
	assert.Contains(t, errs.Error(), "br4.namespace1234")

	badFamily := NamespaceTopology{
		ID:   "ns1",
		IPv4: &Uplink{BridgeID: "br4", Addresses: []string{"2001:db8::1"}, Mask: 24},
	}
	assert.Contains(t, badFamily.Validate().Error(), "invalid IPv4 address")
}

func TestInterfaceValidate(t *testing.T) {
	spec := InterfaceSpec{
		Ifname: "eth1",
		IPs:    []string{"192.0.2.10/24"},
		MAC:    "52:54:00:12:34:56",
		Routes: []Route{{To: "10.0.0.0/8", Via: "192.0.2.1"}},
		VLANs:  []VLAN{{VlanID: 10, IPs: []string{"10.10.0.1/24"}}},
	}
	assert.Empty(t, spec.Validate())

	bad := spec
	bad.IPs = []string{"192.0.2.10"}
	bad.Routes = []Route{{To: "10.0.0.0/8", Via: "2001:db8::1"}}
	bad.VLANs = []VLAN{{VlanID: 10}, {VlanID: 10}}
	msg := bad.Validate().Error()
	assert.Contains(t, msg, "want CIDR")
	assert.Contains(t, msg, "same family")
	assert.Contains(t, msg, "already used")

	bond := InterfaceSpec{Ifname: "bond0", BondMembers: []string{"bond0"}}
	assert.Contains(t, bond.Validate().Error(), "cannot contain itself")
}

func TestFileValidate_Duplicates(t *testing.T) {
	f := File{
		Namespaces: []NamespaceTopology{{ID: "ns1"}, {ID: "ns1"}},
	}
	errs := f.Validate()
	require.True(t, errs.HasErrors())
	assert.True(t, strings.HasPrefix(errs[0].Field, "namespace[ns1]"))
}

func TestParsePort(t *testing.T) {
	lo, hi, err := ParsePort("8000-8080")
	require.NoError(t, err)
	assert.Equal(t, 8000, lo)
	assert.Equal(t, 8080, hi)

	for _, bad := range []string{"0", "65536", "a", "1-2-3", "10-5"} {
		_, _, err := ParsePort(bad)
		assert.Error(t, err, bad)
	}
}
