// Package config resolves escrowd and escrowctl settings.
//
// Priority order is defaults, then the YAML file, then ESCROW_* environment
// variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/evidence/storeconfig"
	"xdao.co/escrowsync/internal/logging"
	"xdao.co/escrowsync/retry"
)

const EnvPrefix = "ESCROW_"

type Config struct {
	Listen string `yaml:"listen" env:"LISTEN"`
	// Self is the account to act as. When a private key is configured it
	// must match the key's address; when empty it is derived from the key.
	Self string `yaml:"self" env:"SELF"`

	Ledger     LedgerConfig       `yaml:"ledger" envPrefix:"LEDGER_"`
	Projection ProjectionConfig   `yaml:"projection" envPrefix:"PROJECTION_"`
	Evidence   storeconfig.Config `yaml:"evidence"`
	Log        LogConfig          `yaml:"log" envPrefix:"LOG_"`
	Telemetry  TelemetryConfig    `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

type LedgerConfig struct {
	RPCURL     string `yaml:"rpc_url" env:"RPC_URL"`
	ChainID    int64  `yaml:"chain_id" env:"CHAIN_ID"`
	Factory    string `yaml:"factory" env:"FACTORY"`
	PrivateKey string `yaml:"private_key" env:"PRIVATE_KEY"`
}

type ProjectionConfig struct {
	Attempts int           `yaml:"attempts" env:"ATTEMPTS"`
	Delay    time.Duration `yaml:"delay" env:"DELAY"`
}

// Policy returns the initial-load retry policy.
func (p ProjectionConfig) Policy() retry.Policy {
	return retry.Policy{Attempts: p.Attempts, Delay: p.Delay}
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	SampleRatio  float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

func Default() Config {
	return Config{
		Listen: ":8080",
		Projection: ProjectionConfig{
			Attempts: retry.InitialLoad.Attempts,
			Delay:    retry.InitialLoad.Delay,
		},
		Log: LogConfig{Level: "info", Format: logging.FormatJSON},
	}
}

// Load reads path (optional) and the process environment.
func Load(path string) (Config, error) {
	return LoadEnv(path, nil)
}

// LoadEnv is Load with an explicit environment; nil means os.Environ.
func LoadEnv(path string, environ map[string]string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := decodeYAML(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("config: parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func decodeYAML(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if c.Self != "" {
		if _, err := escrow.ParseAddress(c.Self); err != nil {
			errs = append(errs, fmt.Errorf("self: %w", err))
		}
	}
	if c.Ledger.RPCURL == "" {
		errs = append(errs, errors.New("ledger.rpc_url is required"))
	}
	if c.Ledger.Factory != "" {
		if _, err := escrow.ParseAddress(c.Ledger.Factory); err != nil {
			errs = append(errs, fmt.Errorf("ledger.factory: %w", err))
		}
	}
	if c.Ledger.PrivateKey != "" && c.Ledger.ChainID <= 0 {
		errs = append(errs, errors.New("ledger.chain_id is required with a private key"))
	}
	if c.Projection.Attempts < 1 {
		errs = append(errs, errors.New("projection.attempts must be at least 1"))
	}
	if c.Projection.Delay < 0 {
		errs = append(errs, errors.New("projection.delay must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "", logging.FormatJSON, logging.FormatText:
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown %q", c.Log.Format))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.sample_ratio must be within [0,1]"))
	}
	if len(c.Evidence.Backends) > 0 {
		if err := c.Evidence.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// HasEvidence reports whether any evidence backend is configured.
func (c Config) HasEvidence() bool { return len(c.Evidence.Backends) > 0 }
