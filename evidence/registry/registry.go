// Package registry lets evidence backends register themselves by name so that
// binaries can open them from configuration.
//
// Backends register in init(); a binary enables one by importing its package,
// usually as a blank import.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"xdao.co/escrowsync/evidence"
)

// Usage restricts which programs accept a given backend.
type Usage uint8

const (
	// UsageCLI marks backends available to command-line tools.
	UsageCLI Usage = 1 << iota
	// UsageDaemon marks backends available to long-running services.
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }

// ErrUnknownBackend is returned by Open for unregistered names.
var ErrUnknownBackend = errors.New("registry: unknown backend")

// Backend opens one kind of evidence store from string settings.
type Backend struct {
	Name        string
	Description string
	Usage       Usage
	// Keys documents the settings Open understands.
	Keys []string

	// Open constructs the store and an optional close function.
	Open func(settings map[string]string) (evidence.Store, func() error, error)
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

// Register registers a backend.
func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("registry: backend name is required")
	}
	if b.Open == nil {
		return fmt.Errorf("registry: backend %q missing Open", b.Name)
	}
	if b.Usage == 0 {
		return fmt.Errorf("registry: backend %q missing Usage", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("registry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns backend names matching usage, sorted.
func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

// Open opens the named backend if it exists and matches usage.
func Open(name string, usage Usage, settings map[string]string) (evidence.Store, func() error, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	if !b.Usage.allows(usage) {
		return nil, nil, fmt.Errorf("registry: backend %q not supported in this binary", name)
	}
	if settings == nil {
		settings = map[string]string{}
	}
	return b.Open(settings)
}

// Settings is a flag.Value collecting repeated key=value backend settings.
type Settings map[string]string

func (s Settings) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+s[k])
	}
	return strings.Join(parts, ",")
}

func (s Settings) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("registry: setting %q is not key=value", v)
	}
	s[strings.TrimSpace(k)] = val
	return nil
}
