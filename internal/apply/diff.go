package apply

import (
	"github.com/pmezard/go-difflib/difflib"
)

// Diff returns a unified diff from a to b, or "" when they are equal.
func Diff(a, b []byte, fromName, toName string) string {
	if string(a) == string(b) {
		return ""
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: fromName,
		ToFile:   toName,
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return diff
}
