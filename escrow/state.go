package escrow

import "fmt"

// SchemaVersion names the escrow contract revision whose state codes this
// package decodes. Codes from any other revision are not compatible.
const SchemaVersion = "v1.4"

// ContractState is the contract-level lifecycle state, numbered exactly as
// the v1.4 escrow contract numbers it.
type ContractState uint8

const (
	PendingAcceptance ContractState = iota
	Created
	Funded
	InProgress
	Disputed
	Complete
	Canceled
)

var contractStateNames = [...]string{
	PendingAcceptance: "PendingAcceptance",
	Created:           "Created",
	Funded:            "Funded",
	InProgress:        "InProgress",
	Disputed:          "Disputed",
	Complete:          "Complete",
	Canceled:          "Canceled",
}

// ContractStateFromCode maps a raw ledger code onto a ContractState.
func ContractStateFromCode(code uint8) (ContractState, error) {
	if int(code) >= len(contractStateNames) {
		return 0, fmt.Errorf("%w: contract state %d", ErrUnknownState, code)
	}
	return ContractState(code), nil
}

func (s ContractState) String() string {
	if int(s) < len(contractStateNames) {
		return contractStateNames[s]
	}
	return fmt.Sprintf("ContractState(%d)", uint8(s))
}

// MilestoneState is the per-milestone lifecycle state (v1.4 numbering).
type MilestoneState uint8

const (
	MilestonePending MilestoneState = iota
	MilestoneSubmitted
	MilestoneApproved
	MilestonePaid
	MilestoneRejected
)

var milestoneStateNames = [...]string{
	MilestonePending:   "Pending",
	MilestoneSubmitted: "Submitted",
	MilestoneApproved:  "Approved",
	MilestonePaid:      "Paid",
	MilestoneRejected:  "Rejected",
}

// MilestoneStateFromCode maps a raw ledger code onto a MilestoneState.
func MilestoneStateFromCode(code uint8) (MilestoneState, error) {
	if int(code) >= len(milestoneStateNames) {
		return 0, fmt.Errorf("%w: milestone state %d", ErrUnknownState, code)
	}
	return MilestoneState(code), nil
}

func (s MilestoneState) String() string {
	if int(s) < len(milestoneStateNames) {
		return milestoneStateNames[s]
	}
	return fmt.Sprintf("MilestoneState(%d)", uint8(s))
}

// Terminal reports whether no further transition leaves s.
func (s MilestoneState) Terminal() bool { return s == MilestonePaid }
