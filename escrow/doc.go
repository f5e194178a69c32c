// Package escrow defines the local view of a milestone escrow contract: the
// snapshot value, the v1.4 state-code mapping, the milestone state machine
// with its guards, and role resolution.
//
// Everything here is pure. Guards decide what a client offers; the ledger
// remains the only authority on what it accepts.
package escrow
