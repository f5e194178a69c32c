package escrow

import (
	"fmt"
	"strings"
)

// Authorize evaluates the local guard for key against the snapshot.
//
// args are the operation arguments after the milestone index: the evidence
// reference for submitWork and the reason for rejectMilestone. When args is
// empty those argument checks are skipped, which is how Offered asks "could
// this be offered at all".
//
// A nil error means the UI may offer the action. It is not access control.
func Authorize(snap *Snapshot, role Role, key OperationKey, args ...string) error {
	if snap == nil {
		return fmt.Errorf("%w: %s: no contract loaded", ErrNotPermitted, key)
	}
	if key.Op.PerMilestone() != key.Indexed {
		return fmt.Errorf("%w: %s", ErrUnknownOperation, key)
	}

	switch key.Op {
	case OpAcceptAssignment, OpDeclineAssignment:
		if !role.IsCounterparty {
			return deny(key, "only the counterparty may answer an assignment")
		}
		if snap.State != PendingAcceptance {
			return deny(key, "contract is "+snap.State.String())
		}
		return nil
	case OpFund:
		if !role.IsInitiator {
			return deny(key, "only the initiator may fund")
		}
		if snap.State != Created {
			return deny(key, "contract is "+snap.State.String())
		}
		return nil
	case OpSubmitWork, OpApproveMilestone, OpRejectMilestone:
		return authorizeMilestone(snap, role, key, args)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, key.Op)
	}
}

func authorizeMilestone(snap *Snapshot, role Role, key OperationKey, args []string) error {
	m, ok := snap.Milestone(key.Milestone)
	if !ok {
		return fmt.Errorf("%w: %d of %d", ErrUnknownMilestone, key.Milestone, len(snap.Milestones))
	}
	if !snap.IsFunded() {
		return deny(key, "contract is not funded")
	}

	var ev MilestoneEvent
	switch key.Op {
	case OpSubmitWork:
		ev = EventSubmitWork
	case OpApproveMilestone:
		ev = EventApprove
	case OpRejectMilestone:
		ev = EventReject
	}

	actor, ok := milestoneActor(m.State, ev)
	if !ok {
		return deny(key, fmt.Sprintf("milestone is %s", m.State))
	}
	switch actor {
	case PartyInitiator:
		if !role.IsInitiator {
			return deny(key, "only the initiator may "+ev.String())
		}
	case PartyCounterparty:
		if !role.IsCounterparty {
			return deny(key, "only the counterparty may "+ev.String())
		}
	}

	if len(args) > 0 {
		switch key.Op {
		case OpSubmitWork:
			if strings.TrimSpace(args[0]) == "" {
				return deny(key, "evidence reference is required")
			}
		case OpRejectMilestone:
			if strings.TrimSpace(args[0]) == "" {
				return deny(key, "rejection reason is required")
			}
		}
	}
	return nil
}

func deny(key OperationKey, why string) error {
	return fmt.Errorf("%w: %s: %s", ErrNotPermitted, key, why)
}

// Offered lists the operations the UI may present for role, contract-level
// actions first and then milestone actions by ascending index.
func Offered(snap *Snapshot, role Role) []OperationKey {
	if snap == nil {
		return nil
	}
	var out []OperationKey
	for _, op := range operations {
		if op.PerMilestone() {
			continue
		}
		k := ContractKey(op)
		if Authorize(snap, role, k) == nil {
			out = append(out, k)
		}
	}
	for i := range snap.Milestones {
		for _, op := range operations {
			if !op.PerMilestone() {
				continue
			}
			k := MilestoneKey(op, i)
			if Authorize(snap, role, k) == nil {
				out = append(out, k)
			}
		}
	}
	return out
}
