package evidence

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
)

// Fallback reads across stores in a fixed order and writes to the first one.
//
// Stores must be supplied in the intended lookup order.
type Fallback struct {
	Stores []Store
}

var _ Store = Fallback{}

func (f Fallback) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if len(f.Stores) == 0 {
		return cid.Undef, errors.New("evidence: Fallback has no stores")
	}
	return f.Stores[0].Put(ctx, data)
}

func (f Fallback) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	return getOrdered(ctx, id, f.Stores)
}

func (f Fallback) Has(ctx context.Context, id cid.Cid) bool {
	for _, s := range f.Stores {
		if s.Has(ctx, id) {
			return true
		}
	}
	return false
}

// getOrdered returns the first hit. A store failing with anything other than
// ErrNotFound stops the lookup.
func getOrdered(ctx context.Context, id cid.Cid, stores []Store) ([]byte, error) {
	for _, s := range stores {
		if s == nil {
			continue
		}
		b, err := s.Get(ctx, id)
		if err == nil {
			return b, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}
