package escrow

// Milestone is one separately payable unit of work, as last reported by the ledger.
type Milestone struct {
	Description string
	// Amount is a decimal string in display units (see package units).
	Amount string
	State  MilestoneState
	// EvidenceRef is the content id attached on submission, or "".
	EvidenceRef string
	// RejectionReason is only meaningful while State is MilestoneRejected.
	RejectionReason string
}

// Snapshot is the local projection of one escrow contract.
//
// A Snapshot is never mutated after construction; a newer read replaces it
// wholesale. Milestone order is release order and is never changed locally.
type Snapshot struct {
	Contract     Address
	Initiator    Address
	Counterparty Address
	TotalAmount  string
	Balance      string
	State        ContractState
	Milestones   []Milestone
}

// Clone returns a deep copy so callers cannot alias the held snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Milestones = append([]Milestone(nil), s.Milestones...)
	return &out
}

// Milestone returns the milestone at index i.
func (s *Snapshot) Milestone(i int) (Milestone, bool) {
	if s == nil || i < 0 || i >= len(s.Milestones) {
		return Milestone{}, false
	}
	return s.Milestones[i], true
}

// IsFunded gates every milestone action: before funding the workflow is inert.
//
// This is the assignment-aware rule: a contract still awaiting acceptance is
// not funded either, and neither is a canceled one.
func (s *Snapshot) IsFunded() bool {
	if s == nil {
		return false
	}
	switch s.State {
	case Funded, InProgress, Disputed, Complete:
		return true
	default:
		return false
	}
}

// Equal reports whether two snapshots carry identical values.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Contract != o.Contract || s.Initiator != o.Initiator || s.Counterparty != o.Counterparty ||
		s.TotalAmount != o.TotalAmount || s.Balance != o.Balance || s.State != o.State ||
		len(s.Milestones) != len(o.Milestones) {
		return false
	}
	for i := range s.Milestones {
		if s.Milestones[i] != o.Milestones[i] {
			return false
		}
	}
	return true
}
