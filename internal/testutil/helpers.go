package testutil

import (
	"os"
	"testing"
)

// RequireVM skips the test if the PODNET_VM_TEST environment variable is not set.
// Tests that create real namespaces, links or nftables tables only run in a
// disposable VM where that is safe.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv("PODNET_VM_TEST") == "" {
		t.Skip("Skipping test: requires PODNET_VM_TEST environment")
	}
	if os.Geteuid() != 0 {
		t.Skip("Skipping test: requires root")
	}
}
