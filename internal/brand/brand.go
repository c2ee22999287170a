// Package brand provides centralized naming and default paths.
//
// The identity is loaded from brand.json at compile time via go:embed so that
// packaging scripts can read the same file.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand holds all branding information
type Brand struct {
	Name               string `json:"name"`
	LowerName          string `json:"lowerName"`
	Vendor             string `json:"vendor"`
	Description        string `json:"description"`
	ConfigEnvPrefix    string `json:"configEnvPrefix"`
	DefaultConfigDir   string `json:"defaultConfigDir"`
	DefaultStateDir    string `json:"defaultStateDir"`
	DefaultFirewallDir string `json:"defaultFirewallDir"`
	DefaultNetplanDir  string `json:"defaultNetplanDir"`
	BinaryName         string `json:"binaryName"`
	StateFileName      string `json:"stateFileName"`
}

var b Brand

func init() {
	if err := json.Unmarshal(brandJSON, &b); err != nil {
		panic("failed to parse brand.json: " + err.Error())
	}

	Name = b.Name
	LowerName = b.LowerName
	Description = b.Description
	ConfigEnvPrefix = b.ConfigEnvPrefix
	DefaultConfigDir = b.DefaultConfigDir
	DefaultStateDir = b.DefaultStateDir
	DefaultFirewallDir = b.DefaultFirewallDir
	DefaultNetplanDir = b.DefaultNetplanDir
	BinaryName = b.BinaryName
	StateFileName = b.StateFileName
}

var (
	Name               string
	LowerName          string
	Description        string
	ConfigEnvPrefix    string
	DefaultConfigDir   string
	DefaultStateDir    string
	DefaultFirewallDir string
	DefaultNetplanDir  string
	BinaryName         string
	StateFileName      string

	// Version is set at build time via -ldflags
	Version   = "dev"
	GitCommit = "unknown"
)

// Get returns the full Brand struct
func Get() Brand {
	return b
}

func envDir(suffix, prefixSub, fallback string) string {
	if dir := os.Getenv(ConfigEnvPrefix + "_" + suffix); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, prefixSub)
	}
	return fallback
}

// GetStateDir returns the state directory, checking env vars first.
// Priority: PODNET_STATE_DIR > PODNET_PREFIX/state > DefaultStateDir
func GetStateDir() string {
	return envDir("STATE_DIR", "state", DefaultStateDir)
}

// GetFirewallDir returns where generated nftables scripts are written.
// Priority: PODNET_FIREWALL_DIR > PODNET_PREFIX/nftables > DefaultFirewallDir
func GetFirewallDir() string {
	return envDir("FIREWALL_DIR", "nftables", DefaultFirewallDir)
}

// GetNetplanDir returns where generated netplan files are written.
// Priority: PODNET_NETPLAN_DIR > PODNET_PREFIX/netplan > DefaultNetplanDir
func GetNetplanDir() string {
	return envDir("NETPLAN_DIR", "netplan", DefaultNetplanDir)
}

// GetStatePath returns the full path of the state database.
func GetStatePath() string {
	return filepath.Join(GetStateDir(), StateFileName)
}
