// Package evidencetest holds the conformance suite every evidence store runs
// and an in-memory store for tests of its callers.
package evidencetest

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"

	"xdao.co/escrowsync/cidutil"
	"xdao.co/escrowsync/evidence"
)

// Memory is an in-memory evidence.Store.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	failErr error
	puts    int
}

var _ evidence.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{objects: map[string][]byte{}}
}

// FailPuts makes every Put fail with err until called again with nil.
func (m *Memory) FailPuts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Puts returns the number of Put calls, failed ones included.
func (m *Memory) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func (m *Memory) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failErr != nil {
		return cid.Undef, m.failErr
	}
	id, err := cidutil.Sum(data)
	if err != nil {
		return cid.Undef, err
	}
	if _, ok := m.objects[id.KeyString()]; !ok {
		m.objects[id.KeyString()] = append([]byte(nil), data...)
	}
	return id, nil
}

func (m *Memory) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, evidence.ErrInvalidCID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[id.KeyString()]
	if !ok {
		return nil, evidence.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[id.KeyString()]
	return ok
}
