package registry

import (
	"errors"
	"testing"

	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/evidence/evidencetest"
)

func TestRegisterAndOpen(t *testing.T) {
	var seen map[string]string
	MustRegister(Backend{
		Name:  "registry-test-mem",
		Usage: UsageCLI,
		Keys:  []string{"label"},
		Open: func(settings map[string]string) (evidence.Store, func() error, error) {
			seen = settings
			return evidencetest.NewMemory(), nil, nil
		},
	})

	if err := Register(Backend{Name: "registry-test-mem", Usage: UsageCLI, Open: func(map[string]string) (evidence.Store, func() error, error) { return nil, nil, nil }}); err == nil {
		t.Fatalf("duplicate registration should fail")
	}

	s, _, err := Open("registry-test-mem", UsageCLI, map[string]string{"label": "x"})
	if err != nil || s == nil {
		t.Fatalf("Open: %v", err)
	}
	if seen["label"] != "x" {
		t.Fatalf("settings not passed through: %v", seen)
	}
	if _, _, err := Open("registry-test-mem", UsageDaemon, nil); err == nil {
		t.Fatalf("usage mismatch should fail")
	}
	if _, _, err := Open("nope", UsageCLI, nil); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}

	found := false
	for _, n := range Names(UsageCLI) {
		found = found || n == "registry-test-mem"
	}
	if !found {
		t.Fatalf("Names missing registered backend")
	}
}

func TestSettingsFlag(t *testing.T) {
	s := Settings{}
	for _, v := range []string{"dir=/tmp/x", "pin=true", "empty="} {
		if err := s.Set(v); err != nil {
			t.Fatalf("Set(%q): %v", v, err)
		}
	}
	if s["dir"] != "/tmp/x" || s["empty"] != "" {
		t.Fatalf("settings: %v", s)
	}
	if got := s.String(); got != "dir=/tmp/x,empty=,pin=true" {
		t.Fatalf("String: %q", got)
	}
	if err := s.Set("novalue"); err == nil {
		t.Fatalf("expected error")
	}
}
