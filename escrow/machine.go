package escrow

import (
	"errors"
	"fmt"
)

// MilestoneEvent is an action that moves a milestone along its lifecycle.
type MilestoneEvent uint8

const (
	EventSubmitWork MilestoneEvent = iota + 1
	EventApprove
	EventReject
)

func (e MilestoneEvent) String() string {
	switch e {
	case EventSubmitWork:
		return "submit work"
	case EventApprove:
		return "approve"
	case EventReject:
		return "reject"
	default:
		return fmt.Sprintf("MilestoneEvent(%d)", uint8(e))
	}
}

// Party is who may fire a milestone event.
type Party uint8

const (
	PartyInitiator Party = iota + 1
	PartyCounterparty
)

// MilestoneTransition is one row of the milestone transition table.
type MilestoneTransition struct {
	From  MilestoneState
	Event MilestoneEvent
	Actor Party
	To    MilestoneState
}

// milestoneTable is the complete milestone lifecycle. Approval settles in
// Paid because the ledger releases funds in the same transaction; Approved
// is only ever observed transiently.
var milestoneTable = []MilestoneTransition{
	{From: MilestonePending, Event: EventSubmitWork, Actor: PartyCounterparty, To: MilestoneSubmitted},
	{From: MilestoneSubmitted, Event: EventApprove, Actor: PartyInitiator, To: MilestonePaid},
	{From: MilestoneSubmitted, Event: EventReject, Actor: PartyInitiator, To: MilestoneRejected},
	{From: MilestoneRejected, Event: EventSubmitWork, Actor: PartyCounterparty, To: MilestoneSubmitted},
}

// MilestoneTransitions returns a copy of the transition table.
func MilestoneTransitions() []MilestoneTransition {
	return append([]MilestoneTransition(nil), milestoneTable...)
}

// NextMilestoneState returns the state reached by firing ev in from.
func NextMilestoneState(from MilestoneState, ev MilestoneEvent) (MilestoneState, error) {
	for _, t := range milestoneTable {
		if t.From == from && t.Event == ev {
			return t.To, nil
		}
	}
	return from, fmt.Errorf("%w: %s from %s", ErrIllegalTransition, ev, from)
}

func milestoneActor(from MilestoneState, ev MilestoneEvent) (Party, bool) {
	for _, t := range milestoneTable {
		if t.From == from && t.Event == ev {
			return t.Actor, true
		}
	}
	return 0, false
}

// contractEdges lists every contract-level move the ledger may report.
// Disputed returns to InProgress or Complete by resolution outside this package.
var contractEdges = map[ContractState][]ContractState{
	PendingAcceptance: {Created, Canceled},
	Created:           {Funded, Canceled},
	Funded:            {InProgress, Complete},
	InProgress:        {Disputed, Complete},
	Disputed:          {InProgress, Complete},
}

// CanAdvanceContract reports whether from→to is a legal contract move.
func CanAdvanceContract(from, to ContractState) bool {
	if from == to {
		return true
	}
	for _, next := range contractEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// reachable reports whether to is reachable from from through any number of edges.
func reachable(from, to ContractState) bool {
	seen := map[ContractState]bool{from: true}
	queue := []ContractState{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true
		}
		for _, next := range contractEdges[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

var milestoneOrder = map[MilestoneState]int{
	MilestonePending:   0,
	MilestoneSubmitted: 1,
	MilestoneRejected:  2,
	MilestoneApproved:  3,
	MilestonePaid:      4,
}

func milestoneForward(from, to MilestoneState) bool {
	if from == to {
		return true
	}
	if from == MilestoneRejected && to == MilestoneSubmitted {
		return true
	}
	if to == MilestoneRejected {
		return from == MilestonePending || from == MilestoneSubmitted
	}
	return milestoneOrder[to] > milestoneOrder[from]
}

// CheckProgress reports every move from prev to next that the lifecycle does
// not allow. Several writes may land between two reads, so any state reachable
// along the legal edges is accepted.
//
// The result is diagnostic only; the ledger's report always wins.
func CheckProgress(prev, next *Snapshot) error {
	if prev == nil || next == nil || prev.Contract != next.Contract {
		return nil
	}
	var errs []error
	if !reachable(prev.State, next.State) {
		errs = append(errs, fmt.Errorf("%w: contract %s -> %s", ErrIllegalTransition, prev.State, next.State))
	}
	if len(next.Milestones) < len(prev.Milestones) {
		errs = append(errs, fmt.Errorf("%w: milestone count %d -> %d", ErrIllegalTransition, len(prev.Milestones), len(next.Milestones)))
	}
	for i := 0; i < len(prev.Milestones) && i < len(next.Milestones); i++ {
		from, to := prev.Milestones[i].State, next.Milestones[i].State
		if !milestoneForward(from, to) {
			errs = append(errs, fmt.Errorf("%w: milestone %d %s -> %s", ErrIllegalTransition, i, from, to))
		}
	}
	return errors.Join(errs...)
}
