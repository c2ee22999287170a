package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/message"

	"grimm.is/podnet/internal/errors"
	"grimm.is/podnet/internal/firewall"
	"grimm.is/podnet/internal/i18n"
	"grimm.is/podnet/internal/lifecycle"
	"grimm.is/podnet/internal/network"
)

// Exit codes by error kind. Usage errors exit with ExitUsage.
var exitCodes = map[errors.Kind]int{
	errors.KindInternal:       1,
	errors.KindValidation:     2,
	errors.KindConfig:         2,
	errors.KindWriteFailed:    3,
	errors.KindValidateFailed: 4,
	errors.KindActivateFailed: 5,
	errors.KindRollbackFailed: 6,
	errors.KindTimeout:        7,
	errors.KindNotFound:       8,
}

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := exitCodes[errors.GetKind(err)]; ok {
		return code
	}
	return 1
}

type output struct {
	inv      *Invocation
	printer  *message.Printer
	stdout   io.Writer
	stderr   io.Writer
	commands []string
}

type jsonError struct {
	Kind       string         `json:"kind"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type jsonOutput struct {
	Result   *lifecycle.Result `json:"result,omitempty"`
	Error    *jsonError        `json:"error,omitempty"`
	DryRun   bool              `json:"dry_run,omitempty"`
	Commands []string          `json:"commands,omitempty"`
}

func (o *output) writeJSON(doc jsonOutput) {
	doc.DryRun = o.inv.DryRun
	doc.Commands = o.commands
	enc := json.NewEncoder(o.stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(doc)
}

func (o *output) failure(err error) int {
	if o.inv.JSON {
		o.writeJSON(jsonOutput{Error: &jsonError{
			Kind:       errors.GetKind(err).String(),
			Message:    err.Error(),
			Attributes: errors.GetAttributes(err),
		}})
		return ExitCode(err)
	}

	line := i18n.Failed(o.printer, o.inv.Construct, o.inv.Identity, o.inv.Verb, err)
	fmt.Fprintln(o.stderr, styleBad.Render("✗")+" "+line)
	fmt.Fprintln(o.stderr, styleMuted.Render("  "+err.Error()))
	o.printCommands(o.stderr)
	return ExitCode(err)
}

func (o *output) success(res *lifecycle.Result) {
	if o.inv.JSON {
		o.writeJSON(jsonOutput{Result: res})
		return
	}

	w := o.stdout
	mark := styleGood.Render("✓")
	if res.Unchanged {
		mark = styleMuted.Render("=")
	}
	fmt.Fprintln(w, mark+" "+i18n.Succeeded(o.printer, res.Construct, res.Identity, res.Verb, res.Unchanged))
	field(w, "status", statusStyle(res.Status).Render(res.Status))

	switch d := res.Detail.(type) {
	case *network.Report:
		field(w, "steps", fmt.Sprintf("%d executed, %d skipped", d.Executed, d.Skipped))
	case *firewall.BuildResult:
		field(w, "script", d.Path)
		field(w, "rules", fmt.Sprintf("%d in %d chains", d.Rules, len(d.Chains)))
	case *firewall.SetUpdate:
		field(w, "set", fmt.Sprintf("%s (%d elements)", d.Set, d.Elements))
		field(w, "script", d.Path)
	case map[string]string:
		if p, ok := d["path"]; ok {
			field(w, "file", p)
		}
	case *lifecycle.FirewallState:
		field(w, "script", presence(d.Table.Path, d.Table.FilePresent))
		if d.Table.Live != nil && d.Table.Live.Exists {
			for _, c := range d.Table.Live.Chains {
				field(w, "chain", fmt.Sprintf("%s (%d rules)", c.Name, c.Rules))
			}
		} else {
			field(w, "table", styleMuted.Render("not loaded"))
		}
		drift(w, d.Table.Drift)
	case *lifecycle.NamespaceState:
		if d.Topology.Converged() {
			field(w, "topology", "converged")
		}
		for _, step := range d.Topology.Pending {
			field(w, "pending", step)
		}
	case *lifecycle.InterfaceState:
		field(w, "file", presence(d.Interface.Path, d.Interface.FilePresent))
		link := "absent"
		if d.Interface.LinkExists {
			link = "down"
			if d.Interface.LinkUp {
				link = "up"
			}
		}
		field(w, "link", link)
		drift(w, d.Interface.Drift)
	}
	o.printCommands(w)
}

func (o *output) printCommands(w io.Writer) {
	if !o.inv.DryRun {
		return
	}
	fmt.Fprintln(w, styleTitle.Render("Commands (dry run)"))
	if len(o.commands) == 0 {
		fmt.Fprintln(w, styleMuted.Render("  none"))
	}
	for _, c := range o.commands {
		fmt.Fprintln(w, styleCommand.Render(c))
	}
}

func field(w io.Writer, key, value string) {
	fmt.Fprintln(w, styleKey.Render("  "+key)+value)
}

func presence(path string, present bool) string {
	if present {
		return path
	}
	return path + " " + styleMuted.Render("(missing)")
}

func drift(w io.Writer, diff string) {
	if diff == "" {
		return
	}
	fmt.Fprintln(w, styleTitle.Render("Drift"))
	fmt.Fprintln(w, styleDiff.Render(strings.TrimRight(diff, "\n")))
}
