package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
)

// captureOutput runs fn against cmd with its output redirected to an
// in-memory buffer and returns what was written, failing the test if fn
// returns an error.
func captureOutput(t *testing.T, cmd *cobra.Command, fn func(*cobra.Command, []string) error) string {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	defer cmd.SetOut(nil)

	if err := fn(cmd, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return buf.String()
}
