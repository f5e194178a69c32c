package model

import (
	"errors"
	"fmt"

	"xdao.co/escrowsync/dispatch"
	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/ledger"
	"xdao.co/escrowsync/projector"
	"xdao.co/escrowsync/session"
	"xdao.co/escrowsync/units"
)

type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrInvalidCID       ErrorCode = "INVALID_CID"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrCIDMismatch      ErrorCode = "CID_MISMATCH"
	ErrNotConfigured    ErrorCode = "NOT_CONFIGURED"
	ErrNotPermitted     ErrorCode = "NOT_PERMITTED"
	ErrInFlight         ErrorCode = "IN_FLIGHT"
	ErrSubmitFailed     ErrorCode = "SUBMIT_FAILED"
	ErrReverted         ErrorCode = "REVERTED"
	ErrStaleSnapshot    ErrorCode = "STALE_SNAPSHOT"
	ErrProjectionFailed ErrorCode = "PROJECTION_FAILED"
	ErrUploadFailed     ErrorCode = "UPLOAD_FAILED"
	ErrInternal         ErrorCode = "INTERNAL"
)

// CodedError is a stable error with a machine-readable code and a human message.
type CodedError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// MapError assigns a stable code to err. The message is err's text.
//
// Wrapping order matters: an upload failure wraps the store's own error and a
// stale refresh wraps the read failure, so the outer condition is checked
// first. Empty uploads and missing stores are caller problems, not upload
// failures.
func MapError(err error) *CodedError {
	if err == nil {
		return nil
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded
	}
	return NewError(codeOf(err), err.Error())
}

func codeOf(err error) ErrorCode {
	var (
		upload *evidence.UploadError
		proj   *projector.ProjectionError
		disp   *dispatch.DispatchError
	)
	switch {
	case errors.Is(err, evidence.ErrEmpty):
		return ErrInvalidRequest
	case errors.Is(err, evidence.ErrNoStore):
		return ErrNotConfigured
	case errors.As(err, &upload):
		return ErrUploadFailed
	case errors.Is(err, dispatch.ErrStaleSnapshot):
		return ErrStaleSnapshot
	case errors.Is(err, dispatch.ErrInFlight):
		return ErrInFlight
	case errors.Is(err, ledger.ErrReverted):
		return ErrReverted
	case errors.As(err, &proj):
		return ErrProjectionFailed
	case errors.Is(err, escrow.ErrNotPermitted):
		return ErrNotPermitted
	case errors.Is(err, ledger.ErrNoSigner), errors.Is(err, session.ErrNoFactory):
		return ErrNotConfigured
	case errors.Is(err, evidence.ErrInvalidCID):
		return ErrInvalidCID
	case errors.Is(err, evidence.ErrCIDMismatch):
		return ErrCIDMismatch
	case errors.Is(err, evidence.ErrNotFound), errors.Is(err, ledger.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, escrow.ErrInvalidAddress),
		errors.Is(err, escrow.ErrUnknownOperation),
		errors.Is(err, escrow.ErrUnknownMilestone),
		errors.Is(err, session.ErrInvalidProposal),
		errors.Is(err, ledger.ErrInvalidInput),
		errors.Is(err, units.ErrSyntax),
		errors.Is(err, units.ErrNegative),
		errors.Is(err, units.ErrPrecision):
		return ErrInvalidRequest
	case errors.As(err, &disp):
		return ErrSubmitFailed
	default:
		return ErrInternal
	}
}
