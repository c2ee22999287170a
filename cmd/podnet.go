// Package cmd implements the podnet command line: one construct, one verb
// and an identity per invocation.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/podnet/internal/brand"
	"grimm.is/podnet/internal/i18n"
	"grimm.is/podnet/internal/lifecycle"
	"grimm.is/podnet/internal/logging"
	"grimm.is/podnet/internal/metrics"
)

// ExitUsage is returned for malformed command lines.
const ExitUsage = 64

var verbsByConstruct = map[string][]string{
	lifecycle.ConstructFirewall: {lifecycle.VerbBuild, lifecycle.VerbRead, lifecycle.VerbUpdate, lifecycle.VerbScrub},
	lifecycle.ConstructNamespace: {
		lifecycle.VerbBuild, lifecycle.VerbRead, lifecycle.VerbQuiesce, lifecycle.VerbRestart, lifecycle.VerbScrub,
	},
	lifecycle.ConstructInterface: {
		lifecycle.VerbBuild, lifecycle.VerbRead, lifecycle.VerbQuiesce, lifecycle.VerbRestart, lifecycle.VerbScrub,
	},
}

// Invocation is one parsed command line.
type Invocation struct {
	Construct string
	Verb      string
	// Identity is namespace/table for firewalls, the namespace id or the
	// interface name. Empty selects the only construct of that kind in the
	// parameter file.
	Identity string

	// SetName and Elements select the set a firewall update replaces and
	// its new contents.
	SetName  string
	Elements []string

	ConfigFile  string
	DryRun      bool
	JSON        bool
	StatePath   string
	FirewallDir string
	NetplanDir  string
	MetricsFile string
	LogLevel    string
	Timeout     time.Duration
}

// Parse parses "<construct> <verb> [flags] [identity]". Flags may also
// follow the identity.
func Parse(args []string, stderr io.Writer) (*Invocation, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("missing construct or verb")
	}
	inv := &Invocation{Construct: args[0], Verb: args[1]}
	verbs, ok := verbsByConstruct[inv.Construct]
	if !ok {
		return nil, fmt.Errorf("unknown construct %q", inv.Construct)
	}
	if !slices.Contains(verbs, inv.Verb) {
		return nil, fmt.Errorf("%s does not support %q (verbs: %v)", inv.Construct, inv.Verb, verbs)
	}

	fs := flag.NewFlagSet(inv.Construct+" "+inv.Verb, flag.ContinueOnError)
	fs.SetOutput(stderr)
	defaultConfig := filepath.Join(brand.DefaultConfigDir, brand.LowerName+".hcl")
	fs.StringVar(&inv.ConfigFile, "config", defaultConfig, "Parameter file (HCL or JSON)")
	fs.StringVar(&inv.ConfigFile, "c", defaultConfig, "Parameter file (short)")
	fs.BoolVar(&inv.DryRun, "dry-run", false, "Print the commands that would run without changing the host")
	fs.BoolVar(&inv.DryRun, "n", false, "Dry run (short)")
	fs.BoolVar(&inv.JSON, "json", false, "Print the result as JSON")
	fs.StringVar(&inv.StatePath, "state", brand.GetStatePath(), "State database")
	fs.StringVar(&inv.FirewallDir, "firewall-dir", brand.GetFirewallDir(), "Directory for nftables scripts")
	fs.StringVar(&inv.NetplanDir, "netplan-dir", brand.GetNetplanDir(), "Directory for netplan files")
	fs.StringVar(&inv.MetricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile after the verb")
	fs.StringVar(&inv.LogLevel, "log-level", os.Getenv(brand.ConfigEnvPrefix+"_LOG_LEVEL"), "Log level (debug, info, warn, error)")
	fs.DurationVar(&inv.Timeout, "timeout", 0, "Per-step timeout (default 60s)")
	var elements string
	if inv.Verb == lifecycle.VerbUpdate {
		fs.StringVar(&inv.SetName, "set", "", "Named set to update")
		fs.StringVar(&elements, "elements", "", "Comma-separated set elements; empty flushes the set")
	}

	rest := args[2:]
	for {
		if err := fs.Parse(rest); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			break
		}
		if inv.Identity != "" {
			return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
		}
		inv.Identity = fs.Arg(0)
		rest = fs.Args()[1:]
	}
	if inv.Verb == lifecycle.VerbUpdate {
		if inv.SetName == "" {
			return nil, fmt.Errorf("%s update needs -set", inv.Construct)
		}
		inv.Elements = splitList(elements)
	}
	return inv, nil
}

// splitList splits a comma-separated flag value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Main runs the command line and returns the process exit code.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	inv, err := Parse(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", brand.BinaryName, err)
		PrintUsage(stderr)
		return ExitUsage
	}
	return Run(ctx, inv, stdout, stderr)
}

// Run executes inv and renders its outcome.
func Run(ctx context.Context, inv *Invocation, stdout, stderr io.Writer) int {
	locale := os.Getenv("LC_ALL")
	if locale == "" {
		locale = os.Getenv("LANG")
	}
	p := i18n.NewCLIPrinter(locale)

	level := logging.LevelWarn
	if inv.LogLevel != "" {
		level = logging.ParseLevel(inv.LogLevel)
	}
	logger := logging.New(logging.Config{Level: level, Output: stderr, TimeFormat: time.RFC3339})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, reg)

	out := &output{inv: inv, printer: p, stdout: stdout, stderr: stderr}

	file, err := loadConfig(inv)
	if err != nil {
		return out.failure(err)
	}

	env, err := newEnvironment(ctx, inv, file, logger, m)
	if err != nil {
		return out.failure(err)
	}
	defer env.Close()

	res, err := dispatch(ctx, env.ctl, inv, file)
	if inv.MetricsFile != "" {
		if werr := m.WriteTextfile(inv.MetricsFile); werr != nil {
			logger.Warn("failed to write metrics textfile", "path", inv.MetricsFile, "error", werr)
		}
	}
	out.commands = env.commands()
	if err != nil {
		return out.failure(err)
	}
	out.success(res)
	return 0
}

// PrintUsage writes the command synopsis.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage: %[1]s <construct> <verb> [flags] [identity]

Constructs and verbs:
  firewall   build | read | update | scrub             identity: namespace/table
  namespace  build | read | quiesce | restart | scrub  identity: namespace id
  interface  build | read | quiesce | restart | scrub  identity: interface name

Common flags:
  -c, -config FILE      parameter file (HCL or JSON)
  -n, -dry-run          print the commands that would run, change nothing
  -json                 machine-readable output
  -state FILE           state database (default %[2]s)
  -metrics-file FILE    write Prometheus metrics after the verb

Firewall update flags:
  -set NAME             named set to replace
  -elements A,B,...     new elements; empty flushes the set

Examples:
  %[1]s namespace build -c /etc/podnet/pods.hcl ns1
  %[1]s firewall read ns1/filter
  %[1]s firewall update -set blocked -elements 192.0.2.0/24,198.51.100.7 ns1/filter
  %[1]s interface scrub -n eth1
`, brand.BinaryName, brand.GetStatePath())
}
