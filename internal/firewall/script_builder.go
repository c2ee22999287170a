package firewall

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

func isValidIdentifier(s string) bool {
	return identifierRegex.MatchString(s)
}

func quote(s string) string {
	if isValidIdentifier(s) {
		return s
	}
	return fmt.Sprintf("%q", s)
}

// forceQuote always quotes a string. Interface names are always quoted so
// that names like "eth0.100" are never read as expressions.
func forceQuote(s string) string {
	return fmt.Sprintf("%q", s)
}

// ScriptBuilder builds nftables scripts for atomic application with nft -f.
type ScriptBuilder struct {
	lines     []string
	tableName string
	family    string
}

// NewScriptBuilder creates a new script builder for the given table.
func NewScriptBuilder(tableName, family string) *ScriptBuilder {
	return &ScriptBuilder{
		tableName: tableName,
		family:    family,
		lines:     make([]string, 0, 64),
	}
}

// AddLine adds a raw nft command line to the script.
func (b *ScriptBuilder) AddLine(line string) {
	b.lines = append(b.lines, line)
}

// AddTable adds a table creation command.
func (b *ScriptBuilder) AddTable() {
	b.AddLine(fmt.Sprintf("add table %s %s", b.family, b.tableName))
}

// ReplaceTable emits the add/delete/add sequence that replaces the table
// wholesale within one nft transaction, whether or not it already exists.
func (b *ScriptBuilder) ReplaceTable() {
	b.AddTable()
	b.AddLine(fmt.Sprintf("delete table %s %s", b.family, b.tableName))
	b.AddTable()
}

// AddChain adds a chain creation command. A chain without a hook is a
// regular chain reachable only by jump.
func (b *ScriptBuilder) AddChain(name, chainType, hook string, priority int, policy string) {
	qName := quote(name)
	if chainType == "" || hook == "" {
		b.AddLine(fmt.Sprintf("add chain %s %s %s", b.family, b.tableName, qName))
		return
	}

	policyStr := ""
	if policy != "" {
		policyStr = fmt.Sprintf(" policy %s;", policy)
	}
	b.AddLine(fmt.Sprintf("add chain %s %s %s { type %s hook %s priority %d;%s }",
		b.family, b.tableName, qName, chainType, hook, priority, policyStr))
}

// AddRule adds a rule to a chain.
func (b *ScriptBuilder) AddRule(chainName, ruleExpr string) {
	b.AddLine(fmt.Sprintf("add rule %s %s %s %s", b.family, b.tableName, quote(chainName), ruleExpr))
}

// AddSet adds a set creation command.
func (b *ScriptBuilder) AddSet(name, setType string, flags ...string) {
	flagStr := ""
	if len(flags) > 0 {
		flagStr = " flags " + strings.Join(flags, ",") + ";"
	}
	b.AddLine(fmt.Sprintf("add set %s %s %s { type %s;%s }", b.family, b.tableName, quote(name), setType, flagStr))
}

// AddIntervalSet adds an interval set that merges overlapping and adjacent
// elements, so "10.0.0.0/8" and "10.1.0.0/16" may both be added.
func (b *ScriptBuilder) AddIntervalSet(name, setType string) {
	b.AddLine(fmt.Sprintf("add set %s %s %s { type %s; flags interval; auto-merge; }", b.family, b.tableName, quote(name), setType))
}

// AddSetElements adds elements to an existing set.
func (b *ScriptBuilder) AddSetElements(setName string, elements []string) {
	if len(elements) == 0 {
		return
	}
	b.AddLine(fmt.Sprintf("add element %s %s %s { %s }", b.family, b.tableName, quote(setName), strings.Join(elements, ", ")))
}

// FlushSet removes every element from a set.
func (b *ScriptBuilder) FlushSet(setName string) {
	b.AddLine(fmt.Sprintf("flush set %s %s %s", b.family, b.tableName, quote(setName)))
}

// Inline joins the script into one command line. nft runs the
// semicolon-separated commands of a single invocation as one transaction.
func (b *ScriptBuilder) Inline() string {
	return strings.Join(b.lines, "; ")
}

// Build returns the complete script as a string.
func (b *ScriptBuilder) Build() string {
	return strings.Join(b.lines, "\n") + "\n"
}

// String returns the script for debugging.
func (b *ScriptBuilder) String() string {
	return b.Build()
}
