package firewall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/podnet/internal/config"
	"grimm.is/podnet/internal/errors"
)

func TestTranslateNAT_Empty(t *testing.T) {
	pre, post, err := TranslateNAT(nil, 0)
	require.NoError(t, err)
	assert.Nil(t, pre)
	assert.Nil(t, post)

	pre, post, err = TranslateNAT(&config.NATSpec{}, 0)
	require.NoError(t, err)
	assert.Nil(t, pre)
	assert.Nil(t, post)
}

func TestTranslateNAT_Lines(t *testing.T) {
	nat := &config.NATSpec{
		DNATs: []config.DNAT{
			{Public: "203.0.113.10", Private: "10.0.0.10", InIface: "eth0"},
			{Public: "2001:db8::10", Private: "fd00::10", InIface: "eth0"},
			{Public: "203.0.113.11", Private: "10.0.0.11"},
		},
		SNATs: []config.SNAT{
			{Public: "203.0.113.5", Private: "10.0.0.0/24", OutIface: "eth0"},
			{Public: "2001:db8::5", Private: "fd00::/64", OutIface: "any"},
		},
	}
	pre, post, err := TranslateNAT(nat, -100)
	require.NoError(t, err)
	require.NotNil(t, pre)
	require.NotNil(t, post)

	assert.Equal(t, ChainPrerouting, pre.Name)
	assert.Equal(t, ChainTypeNAT, pre.Type)
	assert.Equal(t, "prerouting", pre.Hook)
	assert.Equal(t, -100, pre.Priority)
	assert.Equal(t, config.PolicyAccept, pre.Policy)
	assert.Equal(t, []string{
		`iifname "eth0" ip daddr 203.0.113.10 dnat to 10.0.0.10`,
		`iifname "eth0" ip6 daddr 2001:db8::10 dnat to fd00::10`,
		`ip daddr 203.0.113.11 dnat to 10.0.0.11`,
	}, pre.Rules)

	assert.Equal(t, "postrouting", post.Hook)
	assert.Equal(t, config.PolicyAccept, post.Policy)
	assert.Equal(t, []string{
		`oifname "eth0" ip saddr 10.0.0.0/24 snat to 203.0.113.5`,
		`ip6 saddr fd00::/64 snat to 2001:db8::5`,
	}, post.Rules)
}

func TestTranslateNAT_OnlySNAT(t *testing.T) {
	pre, post, err := TranslateNAT(&config.NATSpec{SNATs: []config.SNAT{{Public: "203.0.113.5", Private: "10.0.0.1"}}}, 0)
	require.NoError(t, err)
	assert.Nil(t, pre)
	require.NotNil(t, post)
	assert.Len(t, post.Rules, 1)
}

func TestTranslateNAT_DuplicateDNAT(t *testing.T) {
	nat := &config.NATSpec{DNATs: []config.DNAT{
		{Public: "203.0.113.5", Private: "10.0.0.1"},
		{Public: "203.0.113.5/32", Private: "10.0.0.2"},
	}}
	pre, post, err := TranslateNAT(nat, 0)
	require.Error(t, err)
	assert.Nil(t, pre)
	assert.Nil(t, post)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
	assert.Contains(t, err.Error(), "already mapped")
}

func TestTranslateNAT_InvalidAddress(t *testing.T) {
	_, _, err := TranslateNAT(&config.NATSpec{SNATs: []config.SNAT{{Public: "not-an-ip", Private: "10.0.0.1"}}}, 0)
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestTranslateNAT_OverlappingDNAT(t *testing.T) {
	tests := []struct {
		name  string
		dnats []config.DNAT
	}{
		{"host inside range", []config.DNAT{
			{Public: "203.0.113.0/24", Private: "10.0.0.0/24"},
			{Public: "203.0.113.5", Private: "10.0.0.99"},
		}},
		{"range covering host", []config.DNAT{
			{Public: "203.0.113.5", Private: "10.0.0.99"},
			{Public: "203.0.113.0/24", Private: "10.0.0.0/24"},
		}},
		{"unmasked prefixes in one network", []config.DNAT{
			{Public: "198.51.100.1/24", Private: "10.0.1.0/24"},
			{Public: "198.51.100.2/24", Private: "10.0.2.0/24"},
		}},
		{"ip6 host inside range", []config.DNAT{
			{Public: "2001:db8::/64", Private: "fd00::/64"},
			{Public: "2001:db8::10", Private: "fd00::99"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pre, _, err := TranslateNAT(&config.NATSpec{DNATs: tt.dnats}, 0)
			require.Error(t, err)
			assert.Nil(t, pre)
			assert.Equal(t, errors.KindValidation, errors.GetKind(err))
			assert.Contains(t, err.Error(), "dnats[1]")
			assert.Contains(t, err.Error(), "dnats[0]")
		})
	}
}

func TestTranslateNAT_DisjointDNATRanges(t *testing.T) {
	pre, _, err := TranslateNAT(&config.NATSpec{DNATs: []config.DNAT{
		{Public: "203.0.113.0/25", Private: "10.0.0.0/25"},
		{Public: "203.0.113.128/25", Private: "10.0.0.128/25"},
	}}, 0)
	require.NoError(t, err)
	require.NotNil(t, pre)
	assert.Len(t, pre.Rules, 2)
}
