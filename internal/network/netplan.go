package network

import (
	"strconv"

	"gopkg.in/yaml.v2"

	"grimm.is/podnet/internal/config"
	"grimm.is/podnet/internal/errors"
)

// netplan document shape. yaml.v2 sorts map keys, so rendering is
// deterministic.
type netplanFile struct {
	Network netplanNetwork `yaml:"network"`
}

type netplanNetwork struct {
	Version   int                        `yaml:"version"`
	Ethernets map[string]netplanEthernet `yaml:"ethernets,omitempty"`
	Bonds     map[string]netplanBond     `yaml:"bonds,omitempty"`
	VLANs     map[string]netplanVLAN     `yaml:"vlans,omitempty"`
}

type netplanMatch struct {
	MACAddress string `yaml:"macaddress"`
}

type netplanRoute struct {
	To  string `yaml:"to"`
	Via string `yaml:"via"`
}

type netplanEthernet struct {
	Match     *netplanMatch  `yaml:"match,omitempty"`
	SetName   string         `yaml:"set-name,omitempty"`
	DHCP4     bool           `yaml:"dhcp4"`
	Addresses []string       `yaml:"addresses,omitempty"`
	Routes    []netplanRoute `yaml:"routes,omitempty"`
}

type netplanBond struct {
	Interfaces []string       `yaml:"interfaces"`
	DHCP4      bool           `yaml:"dhcp4"`
	Addresses  []string       `yaml:"addresses,omitempty"`
	Routes     []netplanRoute `yaml:"routes,omitempty"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
}

type netplanVLAN struct {
	ID        int            `yaml:"id"`
	Link      string         `yaml:"link"`
	Addresses []string       `yaml:"addresses,omitempty"`
	Routes    []netplanRoute `yaml:"routes,omitempty"`
}

// RenderNetplan renders spec as a netplan YAML document. With baseOnly the
// VLANs and routes are left out, which is the quiesced form of an interface.
func RenderNetplan(spec *config.InterfaceSpec, baseOnly bool) ([]byte, error) {
	if spec == nil {
		return nil, errors.New(errors.KindValidation, "nil interface spec")
	}
	if err := spec.Validate().Err(); err != nil {
		return nil, err
	}

	doc := netplanFile{Network: netplanNetwork{Version: 2}}
	var routes []netplanRoute
	if !baseOnly {
		routes = netplanRoutes(spec.Routes)
	}

	if spec.IsBond() {
		doc.Network.Ethernets = make(map[string]netplanEthernet, len(spec.BondMembers))
		for _, m := range spec.BondMembers {
			doc.Network.Ethernets[m] = netplanEthernet{}
		}
		doc.Network.Bonds = map[string]netplanBond{
			spec.Ifname: {
				Interfaces: spec.BondMembers,
				Addresses:  spec.IPs,
				Routes:     routes,
				Parameters: bondParameters(spec.BondParameters),
			},
		}
	} else {
		eth := netplanEthernet{Addresses: spec.IPs, Routes: routes}
		if spec.MAC != "" {
			eth.Match = &netplanMatch{MACAddress: spec.MAC}
			eth.SetName = spec.Ifname
		}
		doc.Network.Ethernets = map[string]netplanEthernet{spec.Ifname: eth}
	}

	if !baseOnly && len(spec.VLANs) > 0 {
		doc.Network.VLANs = make(map[string]netplanVLAN, len(spec.VLANs))
		for _, v := range spec.VLANs {
			doc.Network.VLANs[spec.VLANName(v)] = netplanVLAN{
				ID:        v.VlanID,
				Link:      spec.Ifname,
				Addresses: v.IPs,
				Routes:    netplanRoutes(v.Routes),
			}
		}
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "marshal netplan")
	}
	return out, nil
}

func netplanRoutes(routes []config.Route) []netplanRoute {
	if len(routes) == 0 {
		return nil
	}
	out := make([]netplanRoute, len(routes))
	for i, r := range routes {
		out[i] = netplanRoute{To: r.To, Via: r.Via}
	}
	return out
}

// bondParameters passes numeric values through as numbers; netplan rejects
// quoted integers for keys like mii-monitor-interval.
func bondParameters(params map[string]string) map[string]any {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if n, err := strconv.Atoi(v); err == nil {
			out[k] = n
		} else {
			out[k] = v
		}
	}
	return out
}
