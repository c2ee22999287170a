//go:build !linux

package network

import (
	"context"

	"grimm.is/podnet/internal/errors"
)

var errUnsupported = errors.New(errors.KindInternal, "network state requires linux")

// NetlinkStateReader is unavailable off Linux. Use FakeHost in tests.
type NetlinkStateReader struct{}

func NewNetlinkStateReader() *NetlinkStateReader { return &NetlinkStateReader{} }

func (NetlinkStateReader) NamespaceExists(context.Context, string) (bool, error) {
	return false, errUnsupported
}

func (NetlinkStateReader) LinkExists(context.Context, string, string) (bool, error) {
	return false, errUnsupported
}

func (NetlinkStateReader) LinkUp(context.Context, string, string) (bool, error) {
	return false, errUnsupported
}

func (NetlinkStateReader) LinkMaster(context.Context, string, string) (string, error) {
	return "", errUnsupported
}

func (NetlinkStateReader) HasAddress(context.Context, string, string, string) (bool, error) {
	return false, errUnsupported
}

func (NetlinkStateReader) HasRoute(context.Context, string, string, string) (bool, error) {
	return false, errUnsupported
}

func (NetlinkStateReader) Sysctl(context.Context, string, string) (string, error) {
	return "", errUnsupported
}
