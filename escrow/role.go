package escrow

// Role is the session party's relationship to a loaded contract.
//
// Both flags false means an observer. The two flags are never both true.
type Role struct {
	IsInitiator    bool
	IsCounterparty bool
}

// ResolveRole compares self against the snapshot parties, case-insensitively.
//
// The result is advisory: it decides what to offer, never what the ledger accepts.
// If the ledger ever reports the same address for both parties, self is treated
// as the initiator only.
func ResolveRole(self Address, snap *Snapshot) Role {
	if snap == nil || self.IsZero() {
		return Role{}
	}
	if self.Equal(snap.Initiator) {
		return Role{IsInitiator: true}
	}
	if self.Equal(snap.Counterparty) {
		return Role{IsCounterparty: true}
	}
	return Role{}
}

func (r Role) String() string {
	switch {
	case r.IsInitiator:
		return "initiator"
	case r.IsCounterparty:
		return "counterparty"
	default:
		return "none"
	}
}
