package kubo

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/evidence/evidencetest"
)

// Runs only where an ipfs binary is installed; it initializes a throwaway repo.
func TestKubo_Conformance(t *testing.T) {
	bin, err := exec.LookPath("ipfs")
	if err != nil {
		t.Skip("ipfs binary not installed")
	}
	evidencetest.RunConformance(t, func(t *testing.T) evidence.Store {
		t.Helper()
		repo := filepath.Join(t.TempDir(), "ipfs")
		env := append(os.Environ(), "IPFS_PATH="+repo)
		cmd := exec.Command(bin, "init", "--profile=test")
		cmd.Env = env
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("ipfs init: %v: %s", err, out)
		}
		return New(Options{Bin: bin, Env: env})
	})
}
