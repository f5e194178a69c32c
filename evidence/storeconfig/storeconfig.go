// Package storeconfig opens one or more evidence backends from a YAML
// description.
//
// Backends are looked up in the registry, so callers must link the backend
// packages they want, usually with blank imports.
//
//	write_policy: all
//	backends:
//	  - name: localfs
//	    settings: {dir: /var/lib/escrow/evidence}
//	  - name: pinata
//	    id: pinning
//	    settings: {api-key: ..., api-secret: ...}
package storeconfig

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/evidence/registry"
)

// Write policies.
const (
	// WriteFirst writes only to the first backend; reads fall back in order.
	WriteFirst = "first"
	// WriteAll writes to every backend and requires identical ids.
	WriteAll = "all"
)

type Config struct {
	WritePolicy string          `yaml:"write_policy,omitempty"`
	Backends    []BackendConfig `yaml:"backends"`
}

type BackendConfig struct {
	// Name is the registry backend to open.
	Name string `yaml:"name"`
	// ID is an optional stable alias; Name is used when empty.
	ID       string            `yaml:"id,omitempty"`
	Settings map[string]string `yaml:"settings,omitempty"`
}

func (b BackendConfig) key() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

// LoadFile reads and validates a YAML config.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("storeconfig: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("storeconfig: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("storeconfig: at least one backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return errors.New("storeconfig: backend name is required")
		}
		if _, ok := seen[b.key()]; ok {
			return fmt.Errorf("storeconfig: duplicate backend id %q", b.key())
		}
		seen[b.key()] = struct{}{}
	}
	switch c.WritePolicy {
	case "", WriteFirst, WriteAll:
		return nil
	default:
		return fmt.Errorf("storeconfig: invalid write_policy %q", c.WritePolicy)
	}
}

// Open opens every backend and composes them per the write policy.
//
// If preferred names a backend, it is moved to the front and so receives
// writes under WriteFirst.
func (c Config) Open(usage registry.Usage, preferred string) (evidence.Store, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	ordered := append([]BackendConfig(nil), c.Backends...)
	if preferred != "" {
		idx := -1
		for i, b := range ordered {
			if b.Name == preferred || b.ID == preferred {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil, fmt.Errorf("storeconfig: preferred backend %q not found in config", preferred)
		}
		b := ordered[idx]
		copy(ordered[1:idx+1], ordered[:idx])
		ordered[0] = b
	}

	named := make([]evidence.Named, 0, len(ordered))
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	for _, b := range ordered {
		s, closeFn, err := registry.Open(b.Name, usage, b.Settings)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("storeconfig: backend %q: %w", b.key(), err)
		}
		named = append(named, evidence.Named{Name: b.key(), Store: s})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}

	if len(named) == 1 {
		return named[0].Store, closeAll, nil
	}
	if c.WritePolicy == WriteAll {
		return evidence.Replicating{Backends: named}, closeAll, nil
	}
	stores := make([]evidence.Store, 0, len(named))
	for _, n := range named {
		stores = append(stores, n.Store)
	}
	return evidence.Fallback{Stores: stores}, closeAll, nil
}
