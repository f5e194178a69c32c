// Package evidence stores the files attached to milestone submissions.
//
// Evidence is content-addressed: a Store returns the content id of the bytes it
// accepted, and that id is what gets recorded on the ledger.
package evidence

import (
	"context"

	"github.com/ipfs/go-cid"
)

// Store is a content-addressed evidence store.
//
// Contract:
// - Put is idempotent and returns the id the store addresses the bytes by.
// - Stored objects are immutable.
// - Get returns ErrNotFound when the id is absent.
// - Get verifies the bytes against raw-codec ids.
type Store interface {
	Put(ctx context.Context, data []byte) (cid.Cid, error)
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) bool
}
