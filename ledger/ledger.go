// Package ledger is the contract between the synchronization core and whatever
// talks to the escrow contracts on chain.
//
// The core only reads typed fields and submits calls; signing, transport and
// confirmation tracking live behind these interfaces.
package ledger

import (
	"context"
	"errors"
	"math/big"

	"xdao.co/escrowsync/escrow"
)

var (
	ErrReverted     = errors.New("ledger: transaction reverted")
	ErrNoSigner     = errors.New("ledger: no signer configured")
	ErrNotFound     = errors.New("ledger: contract not found")
	ErrSchema       = errors.New("ledger: response does not match schema")
	ErrNoEscrowLog  = errors.New("ledger: creation event not found in receipt")
	ErrInvalidInput = errors.New("ledger: invalid input")
)

// ContractFields are the top-level fields of one escrow contract.
type ContractFields struct {
	Initiator    escrow.Address
	Counterparty escrow.Address
	TotalAmount  *big.Int
	Balance      *big.Int
	StateCode    uint8
}

// MilestoneFields are the fields of one milestone record.
type MilestoneFields struct {
	Description     string
	Amount          *big.Int
	StateCode       uint8
	EvidenceRef     string
	RejectionReason string
}

// Reader issues the read calls of one logical contract read.
// Consecutive calls are not atomic with respect to other writers.
type Reader interface {
	ContractFields(ctx context.Context, contract escrow.Address) (ContractFields, error)
	MilestoneCount(ctx context.Context, contract escrow.Address) (int, error)
	Milestone(ctx context.Context, contract escrow.Address, index int) (MilestoneFields, error)
}

// Call is one state-changing contract invocation.
type Call struct {
	Method string
	Args   []any
	// Value is the native amount attached, in base units. Nil means none.
	Value *big.Int
}

// PendingTx is a submitted transaction awaiting confirmation.
type PendingTx interface {
	Hash() string
	// Wait blocks until the transaction is final. A reverted transaction
	// returns an error wrapping ErrReverted.
	Wait(ctx context.Context) error
}

// Submitter signs and submits calls.
type Submitter interface {
	Submit(ctx context.Context, contract escrow.Address, call Call) (PendingTx, error)
}

// Ledger is the full access layer used by a session.
type Ledger interface {
	Reader
	Submitter
}

// MilestoneTerms are the immutable terms of one milestone in a new contract.
type MilestoneTerms struct {
	Description string
	Amount      *big.Int
}

// EscrowProposal is what the factory needs to deploy a new escrow contract.
type EscrowProposal struct {
	Initiator    escrow.Address
	Counterparty escrow.Address
	Milestones   []MilestoneTerms
}

// PendingCreation is a submitted factory transaction.
type PendingCreation interface {
	Hash() string
	// Wait blocks until final and returns the new contract's address.
	Wait(ctx context.Context) (escrow.Address, error)
}

// Factory deploys new escrow contracts and lists the ones it has deployed.
type Factory interface {
	CreateEscrow(ctx context.Context, p EscrowProposal) (PendingCreation, error)
	// DeployedEscrows returns every escrow the factory created, oldest first.
	DeployedEscrows(ctx context.Context) ([]escrow.Address, error)
}
