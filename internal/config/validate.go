package config

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"grimm.is/podnet/internal/errors"
)

// MaxIfnameLen is the kernel limit on interface names (IFNAMSIZ - 1).
const MaxIfnameLen = 15

var (
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	macRegex        = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Err returns nil when there are no errors, otherwise a KindValidation error
// wrapping the collection.
func (e ValidationErrors) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return errors.Wrap(e, errors.KindValidation, "invalid spec")
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// IsValidIdentifier reports whether s can be used unquoted as an nftables
// table, chain or set name.
func IsValidIdentifier(s string) bool {
	return identifierRegex.MatchString(s)
}

// IsValidMAC reports whether s is a colon or dash separated MAC address.
func IsValidMAC(s string) bool {
	return macRegex.MatchString(s)
}

// IsAbsent reports whether an interface reference means "no interface".
func IsAbsent(iface string) bool {
	return iface == "" || iface == "none"
}

// IsAny reports whether an interface reference means "any interface".
func IsAny(iface string) bool {
	return iface == "any"
}

// ParsePrefix accepts either a bare address or a CIDR and returns it as a
// prefix. A bare address becomes a host prefix.
func ParsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p, nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(a, a.BitLen()), nil
}

// FirstOverlap returns the index of the first prefix in seen that overlaps
// p, or -1 when p is disjoint from all of them.
func FirstOverlap(seen []netip.Prefix, p netip.Prefix) int {
	p = p.Masked()
	for i, q := range seen {
		if q.Overlaps(p) {
			return i
		}
	}
	return -1
}

// ParsePort parses a single port or an inclusive "lo-hi" range.
func ParsePort(s string) (lo, hi int, err error) {
	parts := strings.Split(s, "-")
	if len(parts) > 2 {
		return 0, 0, fmt.Errorf("invalid port range %q", s)
	}
	lo, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port %q", s)
	}
	hi = lo
	if len(parts) == 2 {
		hi, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid port %q", s)
		}
	}
	if lo < 1 || hi > 65535 || lo > hi {
		return 0, 0, fmt.Errorf("port %q out of range 1-65535", s)
	}
	return lo, hi, nil
}

func validateIfname(errs *ValidationErrors, field, name string) {
	if name == "" {
		errs.add(field, "interface name is required")
		return
	}
	if len(name) > MaxIfnameLen {
		errs.add(field, "interface name %q exceeds %d characters", name, MaxIfnameLen)
	}
	if !IsValidIdentifier(name) {
		errs.add(field, "interface name %q contains invalid characters", name)
	}
}

// validateIfaceRef checks an optional interface reference on a rule or NAT.
func validateIfaceRef(errs *ValidationErrors, field, name string) {
	if IsAbsent(name) || IsAny(name) {
		return
	}
	validateIfname(errs, field, name)
}

func familyOf(p netip.Prefix) int {
	if p.Addr().Is4() {
		return 4
	}
	return 6
}
