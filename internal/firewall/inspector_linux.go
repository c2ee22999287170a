//go:build linux

package firewall

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/nftables"
	"github.com/vishvananda/netns"
)

// NetnsDir is where iproute2 keeps named namespace handles.
var NetnsDir = "/run/netns"

// NFTInspector reads tables over netlink with google/nftables, from inside
// the target namespace.
type NFTInspector struct{}

// NewNFTInspector creates an NFTInspector.
func NewNFTInspector() *NFTInspector {
	return &NFTInspector{}
}

func (NFTInspector) Inspect(ctx context.Context, namespace, table string) (*TableInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(NetnsDir, namespace)); os.IsNotExist(err) {
		return &TableInfo{}, nil
	}

	handle, err := netns.GetFromName(namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to open namespace %s: %w", namespace, err)
	}
	defer handle.Close()

	conn, err := nftables.New(nftables.WithNetNSFd(int(handle)))
	if err != nil {
		return nil, fmt.Errorf("failed to open nftables connection in %s: %w", namespace, err)
	}

	tables, err := conn.ListTablesOfFamily(nftables.TableFamilyINet)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables in %s: %w", namespace, err)
	}
	var t *nftables.Table
	for _, tb := range tables {
		if tb.Name == table {
			t = tb
			break
		}
	}
	if t == nil {
		return &TableInfo{}, nil
	}

	chains, err := conn.ListChainsOfTableFamily(nftables.TableFamilyINet)
	if err != nil {
		return nil, fmt.Errorf("failed to list chains in %s: %w", namespace, err)
	}

	info := &TableInfo{Exists: true}
	for _, ch := range chains {
		if ch.Table == nil || ch.Table.Name != table {
			continue
		}
		rules, err := conn.GetRules(t, ch)
		if err != nil {
			return nil, fmt.Errorf("failed to list rules of %s/%s: %w", table, ch.Name, err)
		}
		info.Chains = append(info.Chains, ChainInfo{
			Name:  ch.Name,
			Type:  string(ch.Type),
			Hook:  ch.Hooknum != nil,
			Rules: len(rules),
		})
	}
	return info, nil
}
