package evidence

import (
	"context"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"
	"golang.org/x/sync/errgroup"

	"xdao.co/escrowsync/cidutil"
)

// Named associates a Store with a stable backend name.
type Named struct {
	Name  string
	Store Store
}

// Replicating writes to every backend concurrently and requires them to agree
// on the id.
// Reads fall back in order.
type Replicating struct {
	Backends []Named
}

var _ Store = Replicating{}

// PutAll writes data to all backends and returns the canonical id along with
// the id each backend reported.
func (r Replicating) PutAll(ctx context.Context, data []byte) (cid.Cid, map[string]cid.Cid, error) {
	want, err := cidutil.Sum(data)
	if err != nil {
		return cid.Undef, nil, err
	}
	if len(r.Backends) == 0 {
		return cid.Undef, nil, fmt.Errorf("evidence: Replicating has no backends")
	}

	for _, b := range r.Backends {
		if b.Store == nil {
			return cid.Undef, nil, fmt.Errorf("evidence: nil store for backend %q", b.Name)
		}
	}

	var mu sync.Mutex
	out := make(map[string]cid.Cid, len(r.Backends))
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range r.Backends {
		g.Go(func() error {
			got, err := b.Store.Put(gctx, data)
			if err != nil {
				return fmt.Errorf("evidence: backend %q: %w", b.Name, err)
			}
			mu.Lock()
			out[b.Name] = got
			mu.Unlock()
			if !got.Equals(want) {
				return fmt.Errorf("%w: backend %q returned %s", ErrCIDMismatch, b.Name, got)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return cid.Undef, out, err
	}
	return want, out, nil
}

func (r Replicating) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, _, err := r.PutAll(ctx, data)
	return id, err
}

func (r Replicating) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	stores := make([]Store, 0, len(r.Backends))
	for _, b := range r.Backends {
		stores = append(stores, b.Store)
	}
	return getOrdered(ctx, id, stores)
}

func (r Replicating) Has(ctx context.Context, id cid.Cid) bool {
	for _, b := range r.Backends {
		if b.Store != nil && b.Store.Has(ctx, id) {
			return true
		}
	}
	return false
}
