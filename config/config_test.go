package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "escrowd.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_FileThenEnv(t *testing.T) {
	p := writeFile(t, `
listen: 127.0.0.1:9000
self: 0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed
ledger:
  rpc_url: http://localhost:8545
  chain_id: 31337
projection:
  attempts: 2
  delay: 500ms
evidence:
  write_policy: first
  backends:
    - name: localfs
      settings: {dir: /tmp/evidence}
log:
  format: text
`)
	cfg, err := LoadEnv(p, map[string]string{
		"ESCROW_LISTEN":              ":7000",
		"ESCROW_PROJECTION_ATTEMPTS": "6",
		"ESCROW_LOG_LEVEL":           "debug",
		"UNRELATED":                  "x",
	})
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if cfg.Listen != ":7000" {
		t.Fatalf("env should override listen, got %q", cfg.Listen)
	}
	if cfg.Projection.Attempts != 6 || cfg.Projection.Delay != 500*time.Millisecond {
		t.Fatalf("projection: %+v", cfg.Projection)
	}
	if cfg.Ledger.RPCURL != "http://localhost:8545" || cfg.Ledger.ChainID != 31337 {
		t.Fatalf("ledger: %+v", cfg.Ledger)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Fatalf("log: %+v", cfg.Log)
	}
	if !cfg.HasEvidence() || cfg.Evidence.Backends[0].Settings["dir"] != "/tmp/evidence" {
		t.Fatalf("evidence: %+v", cfg.Evidence)
	}
	if pol := cfg.Projection.Policy(); pol.Attempts != 6 {
		t.Fatalf("policy: %+v", pol)
	}
}

func TestLoad_DefaultsFromEnvOnly(t *testing.T) {
	cfg, err := LoadEnv("", map[string]string{"ESCROW_LEDGER_RPC_URL": "http://node:8545"})
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if cfg.Listen != ":8080" || cfg.Projection.Attempts != 4 || cfg.Projection.Delay != 2500*time.Millisecond {
		t.Fatalf("defaults: %+v", cfg)
	}
}

func TestLoad_UnknownYAMLField(t *testing.T) {
	p := writeFile(t, "ledger:\n  rpc: http://x\n")
	if _, err := LoadEnv(p, map[string]string{}); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Listen = ""
	cfg.Self = "0x12"
	cfg.Ledger.PrivateKey = "abc"
	cfg.Projection.Attempts = 0
	cfg.Log.Format = "xml"
	cfg.Telemetry.SampleRatio = 2

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"listen", "self", "rpc_url", "chain_id", "attempts", "log.format", "sample_ratio"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}
