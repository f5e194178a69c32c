package escrow

import "errors"

var (
	ErrInvalidAddress    = errors.New("escrow: invalid address")
	ErrUnknownState      = errors.New("escrow: unknown state code")
	ErrUnknownMilestone  = errors.New("escrow: milestone index out of range")
	ErrUnknownOperation  = errors.New("escrow: unknown operation")
	ErrNotPermitted      = errors.New("escrow: operation not permitted")
	ErrIllegalTransition = errors.New("escrow: illegal state transition")
)
