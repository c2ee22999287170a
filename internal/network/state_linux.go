//go:build linux

package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// NetnsDir is where iproute2 keeps named namespace handles.
var NetnsDir = "/run/netns"

// NetlinkStateReader reads live state over netlink, opening a handle inside
// the target namespace for each query.
type NetlinkStateReader struct{}

// NewNetlinkStateReader creates a NetlinkStateReader.
func NewNetlinkStateReader() *NetlinkStateReader {
	return &NetlinkStateReader{}
}

func (NetlinkStateReader) NamespaceExists(ctx context.Context, ns string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if ns == HostNamespace {
		return true, nil
	}
	_, err := os.Stat(filepath.Join(NetnsDir, ns))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// withHandle runs fn with a netlink handle in ns. ok is false when the
// namespace does not exist.
func (r NetlinkStateReader) withHandle(ctx context.Context, ns string, fn func(Netlinker) error) (ok bool, err error) {
	exists, err := r.NamespaceExists(ctx, ns)
	if err != nil || !exists {
		return false, err
	}

	var h *netlink.Handle
	if ns == HostNamespace {
		h, err = netlink.NewHandle()
	} else {
		var nsh netns.NsHandle
		nsh, err = netns.GetFromName(ns)
		if err != nil {
			return false, fmt.Errorf("failed to open namespace %s: %w", ns, err)
		}
		defer nsh.Close()
		h, err = netlink.NewHandleAt(nsh)
	}
	if err != nil {
		return false, fmt.Errorf("failed to open netlink handle in %q: %w", ns, err)
	}
	defer h.Close()
	return true, fn(h)
}

func lookupLink(nl Netlinker, name string) (netlink.Link, error) {
	link, err := nl.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	return link, nil
}

func (r NetlinkStateReader) LinkExists(ctx context.Context, ns, name string) (bool, error) {
	var found bool
	_, err := r.withHandle(ctx, ns, func(nl Netlinker) error {
		link, err := lookupLink(nl, name)
		found = link != nil
		return err
	})
	return found, err
}

func (r NetlinkStateReader) LinkUp(ctx context.Context, ns, name string) (bool, error) {
	var up bool
	_, err := r.withHandle(ctx, ns, func(nl Netlinker) error {
		link, err := lookupLink(nl, name)
		if link != nil {
			up = link.Attrs().Flags&net.FlagUp != 0
		}
		return err
	})
	return up, err
}

func (r NetlinkStateReader) LinkMaster(ctx context.Context, ns, name string) (string, error) {
	var master string
	_, err := r.withHandle(ctx, ns, func(nl Netlinker) error {
		link, err := lookupLink(nl, name)
		if err != nil || link == nil || link.Attrs().MasterIndex == 0 {
			return err
		}
		m, err := nl.LinkByIndex(link.Attrs().MasterIndex)
		if err != nil {
			return err
		}
		master = m.Attrs().Name
		return nil
	})
	return master, err
}

func (r NetlinkStateReader) HasAddress(ctx context.Context, ns, name, cidr string) (bool, error) {
	want, err := netip.ParsePrefix(cidr)
	if err != nil {
		return false, err
	}
	var found bool
	_, err = r.withHandle(ctx, ns, func(nl Netlinker) error {
		link, err := lookupLink(nl, name)
		if err != nil || link == nil {
			return err
		}
		addrs, err := nl.AddrList(link, familyOf(want.Addr()))
		if err != nil {
			return err
		}
		for _, a := range addrs {
			if a.IPNet == nil {
				continue
			}
			ip, ok := netip.AddrFromSlice(a.IP)
			ones, _ := a.Mask.Size()
			if ok && ip.Unmap() == want.Addr() && ones == want.Bits() {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r NetlinkStateReader) HasRoute(ctx context.Context, ns, dst, gw string) (bool, error) {
	via, err := netip.ParseAddr(gw)
	if err != nil {
		return false, err
	}
	var want netip.Prefix
	isDefault := dst == "default"
	if !isDefault {
		if want, err = netip.ParsePrefix(dst); err != nil {
			return false, err
		}
		want = want.Masked()
	}

	var found bool
	_, err = r.withHandle(ctx, ns, func(nl Netlinker) error {
		routes, err := nl.RouteList(nil, familyOf(via))
		if err != nil {
			return err
		}
		for _, rt := range routes {
			g, ok := netip.AddrFromSlice(rt.Gw)
			if !ok || g.Unmap() != via {
				continue
			}
			if rt.Dst == nil {
				if isDefault {
					found = true
					return nil
				}
				continue
			}
			ones, _ := rt.Dst.Mask.Size()
			d, ok := netip.AddrFromSlice(rt.Dst.IP)
			if !ok {
				continue
			}
			p := netip.PrefixFrom(d.Unmap(), ones)
			if (isDefault && ones == 0) || (!isDefault && p == want) {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

// Sysctl reads /proc/sys from inside ns. /proc/sys/net is per namespace, so
// the calling thread is switched into ns for the read.
func (r NetlinkStateReader) Sysctl(ctx context.Context, ns, key string) (string, error) {
	exists, err := r.NamespaceExists(ctx, ns)
	if err != nil || !exists {
		return "", err
	}
	path := filepath.Join("/proc/sys", strings.ReplaceAll(key, ".", "/"))
	if ns == HostNamespace {
		data, err := os.ReadFile(path)
		return strings.TrimSpace(string(data)), err
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := netns.Get()
	if err != nil {
		return "", fmt.Errorf("failed to get current netns: %w", err)
	}
	defer orig.Close()

	target, err := netns.GetFromName(ns)
	if err != nil {
		return "", fmt.Errorf("failed to open namespace %s: %w", ns, err)
	}
	defer target.Close()

	if err := netns.Set(target); err != nil {
		return "", fmt.Errorf("failed to enter namespace %s: %w", ns, err)
	}
	defer netns.Set(orig)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func familyOf(a netip.Addr) int {
	if a.Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}
