//go:build !linux

package firewall

import (
	"context"

	"grimm.is/podnet/internal/errors"
)

// NFTInspector is unavailable off Linux.
type NFTInspector struct{}

func NewNFTInspector() *NFTInspector {
	return &NFTInspector{}
}

func (NFTInspector) Inspect(context.Context, string, string) (*TableInfo, error) {
	return nil, errors.New(errors.KindInternal, "nftables inspection requires linux")
}
