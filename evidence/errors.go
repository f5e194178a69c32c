package evidence

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
)

var (
	ErrNotFound    = errors.New("evidence: not found")
	ErrInvalidCID  = errors.New("evidence: invalid cid")
	ErrCIDMismatch = errors.New("evidence: cid mismatch")
	ErrImmutable   = errors.New("evidence: immutable object mismatch")
	ErrEmpty       = errors.New("evidence: empty upload")
	ErrNoStore     = errors.New("evidence: no store configured")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// UploadError is a failed upload made on behalf of a submission. When it is
// returned, nothing was submitted to the ledger.
type UploadError struct {
	Size int
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("evidence: upload of %d bytes failed: %v", e.Size, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Upload writes data to s and wraps every failure in an *UploadError.
func Upload(ctx context.Context, s Store, data []byte) (cid.Cid, error) {
	switch {
	case s == nil:
		return cid.Undef, &UploadError{Size: len(data), Err: ErrNoStore}
	case len(data) == 0:
		return cid.Undef, &UploadError{Err: ErrEmpty}
	}
	id, err := s.Put(ctx, data)
	if err != nil {
		return cid.Undef, &UploadError{Size: len(data), Err: err}
	}
	if !id.Defined() {
		return cid.Undef, &UploadError{Size: len(data), Err: ErrInvalidCID}
	}
	return id, nil
}
