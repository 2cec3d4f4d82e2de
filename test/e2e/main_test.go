//go:build e2e

package e2e

import (
	"os"
	"os/exec"
	"testing"
)

var triageBin string

func TestMain(m *testing.M) {
	triageBin = envOrLookPath("TRIAGE_BIN", "triage")
	os.Exit(m.Run())
}

func envOrLookPath(envVar, name string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return ""
}

func requireTriage(t *testing.T) {
	t.Helper()
	if triageBin == "" {
		t.Skip("triage binary not available (set TRIAGE_BIN or add to PATH)")
	}
}
