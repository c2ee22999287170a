package i18n

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"

	"grimm.is/podnet/internal/errors"
)

func TestMatchLanguage(t *testing.T) {
	tests := []struct {
		accept   string
		expected language.Tag
	}{
		{"en-US,en;q=0.9", language.English},
		{"de-DE,de;q=0.9", language.German},
		{"fr-FR", language.English}, // Fallback
		{"", language.English},      // Empty
	}

	for _, tt := range tests {
		got := MatchLanguage(tt.accept)
		base, _ := got.Base()
		exp, _ := tt.expected.Base()
		assert.Equal(t, exp, base, "Accept: %s", tt.accept)
	}
}

func TestNewCLIPrinter(t *testing.T) {
	de := NewCLIPrinter("de_DE.UTF-8")
	assert.Equal(t, "namespace ns1: build erfolgreich", Succeeded(de, "namespace", "ns1", "build", false))

	for _, locale := range []string{"", "C", "POSIX", "en_GB.UTF-8", "fr_FR", "not a locale"} {
		p := NewCLIPrinter(locale)
		assert.Equal(t, "namespace ns1: build succeeded", Succeeded(p, "namespace", "ns1", "build", false), locale)
	}
}

func TestSucceeded(t *testing.T) {
	p := NewPrinter(language.English)
	assert.Equal(t, "firewall ns1/filter: scrub, already in the requested state",
		Succeeded(p, "firewall", "ns1/filter", "scrub", true))
}

func TestFailed(t *testing.T) {
	p := NewPrinter(language.English)
	err := errors.Wrap(fmt.Errorf("nft: exit status 1"), errors.KindValidateFailed, "check")
	assert.Equal(t,
		"firewall ns1/filter: build failed: the generated configuration was rejected, previous state restored",
		Failed(p, "firewall", "ns1/filter", "build", err))

	// Plain errors carry no kind and read as internal.
	assert.Contains(t, Failed(p, "interface", "eth1", "read", fmt.Errorf("boom")), "internal error")
}

func TestDescribe_EveryKind(t *testing.T) {
	en := NewPrinter(language.English)
	de := NewPrinter(language.German)
	for kind, msg := range kindMessages {
		assert.Equal(t, msg, Describe(en, kind))
		assert.NotEqual(t, msg, Describe(de, kind), "missing German text for %s", kind)
	}
}

func TestGetPrinter(t *testing.T) {
	p := GetPrinter(context.Background())
	assert.NotNil(t, p)

	de := NewPrinter(language.German)
	ctx := WithPrinter(context.Background(), de)
	assert.Same(t, de, GetPrinter(ctx))
}
