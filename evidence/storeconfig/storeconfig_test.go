package storeconfig

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/evidence/localfs"
	"xdao.co/escrowsync/evidence/registry"
)

// Importing localfs registers the backend these tests open.
var _ = localfs.New

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "evidence.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadFileAndOpen_WriteAll(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	path := writeConfig(t, `
write_policy: all
backends:
  - name: localfs
    id: primary
    settings: {dir: "`+a+`"}
  - name: localfs
    id: mirror
    settings: {dir: "`+b+`"}
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	s, closeFn, err := cfg.Open(registry.UsageDaemon, "mirror")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()

	r, ok := s.(evidence.Replicating)
	if !ok {
		t.Fatalf("expected Replicating, got %T", s)
	}
	if r.Backends[0].Name != "mirror" {
		t.Fatalf("preferred backend should be first, got %q", r.Backends[0].Name)
	}
	if _, err := s.Put(context.Background(), []byte("both")); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func TestOpen_SingleBackendIsUnwrapped(t *testing.T) {
	cfg := Config{Backends: []BackendConfig{{Name: "localfs", Settings: map[string]string{"dir": t.TempDir()}}}}
	s, _, err := cfg.Open(registry.UsageCLI, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.(*localfs.Store); !ok {
		t.Fatalf("expected the bare backend, got %T", s)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]Config{
		"empty":     {},
		"no name":   {Backends: []BackendConfig{{}}},
		"duplicate": {Backends: []BackendConfig{{Name: "localfs"}, {Name: "localfs"}}},
		"policy":    {WritePolicy: "some", Backends: []BackendConfig{{Name: "localfs"}}},
	}
	for name, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := Config{Backends: []BackendConfig{{Name: "tape"}}}
	_, _, err := cfg.Open(registry.UsageCLI, "")
	if err == nil || !strings.Contains(err.Error(), "tape") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}
