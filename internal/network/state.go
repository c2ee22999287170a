package network

import (
	"context"

	"github.com/vishvananda/netlink"
)

// HostNamespace selects the host's own network namespace in
// SystemStateReader queries.
const HostNamespace = ""

// SystemStateReader answers questions about live network state. Every call
// reads the system afresh; implementations must not cache. Queries against a
// namespace that does not exist report "absent" rather than an error.
type SystemStateReader interface {
	NamespaceExists(ctx context.Context, ns string) (bool, error)
	LinkExists(ctx context.Context, ns, link string) (bool, error)
	LinkUp(ctx context.Context, ns, link string) (bool, error)
	// LinkMaster returns the name of the link's master, or "" if it has none.
	LinkMaster(ctx context.Context, ns, link string) (string, error)
	// HasAddress reports whether link carries cidr (address and prefix length).
	HasAddress(ctx context.Context, ns, link, cidr string) (bool, error)
	// HasRoute reports whether a route to dst ("default" or a prefix) via gw exists.
	HasRoute(ctx context.Context, ns, dst, gw string) (bool, error)
	Sysctl(ctx context.Context, ns, key string) (string, error)
}

// Netlinker is the subset of *netlink.Handle the state reader queries.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	LinkByIndex(index int) (netlink.Link, error)
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
	RouteList(link netlink.Link, family int) ([]netlink.Route, error)
}
