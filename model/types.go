package model

import (
	"sort"

	"xdao.co/escrowsync/dispatch"
	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/session"
)

type MilestoneView struct {
	Index           int    `json:"index"`
	Description     string `json:"description"`
	Amount          string `json:"amount"`
	State           string `json:"state"`
	EvidenceRef     string `json:"evidenceRef,omitempty"`
	RejectionReason string `json:"rejectionReason,omitempty"`
}

// SnapshotView is the wire form of an escrow.Snapshot. Amounts are decimal
// strings in display units.
type SnapshotView struct {
	Contract     string          `json:"contract"`
	Initiator    string          `json:"initiator"`
	Counterparty string          `json:"counterparty"`
	TotalAmount  string          `json:"totalAmount"`
	Balance      string          `json:"balance"`
	State        string          `json:"state"`
	Funded       bool            `json:"funded"`
	Milestones   []MilestoneView `json:"milestones"`
}

// ActionView is the last lifecycle record of one operation key.
type ActionView struct {
	Key       string `json:"key"`
	Operation string `json:"operation"`
	Milestone *int   `json:"milestone,omitempty"`
	Status    string `json:"status"`
	TxHash    string `json:"txHash,omitempty"`
	Error     string `json:"error,omitempty"`
}

type SessionView struct {
	Contract  string        `json:"contract,omitempty"`
	Self      string        `json:"self,omitempty"`
	Role      string        `json:"role"`
	Loading   bool          `json:"loading"`
	Stale     bool          `json:"stale"`
	LoadError *CodedError   `json:"loadError,omitempty"`
	Snapshot  *SnapshotView `json:"snapshot,omitempty"`
	Offered   []string      `json:"offered"`
	Actions   []ActionView  `json:"actions"`
}

// SessionSource is the read side of a session.
type SessionSource interface {
	Contract() escrow.Address
	Self() escrow.Address
	Role() escrow.Role
	Loading() bool
	Stale() bool
	LoadError() error
	Snapshot() *escrow.Snapshot
	Offered() []escrow.OperationKey
	Statuses() map[escrow.OperationKey]dispatch.Status
	Record(key escrow.OperationKey) (dispatch.Record, bool)
}

func FromSnapshot(s *escrow.Snapshot) *SnapshotView {
	if s == nil {
		return nil
	}
	out := &SnapshotView{
		Contract:     string(s.Contract),
		Initiator:    string(s.Initiator),
		Counterparty: string(s.Counterparty),
		TotalAmount:  s.TotalAmount,
		Balance:      s.Balance,
		State:        s.State.String(),
		Funded:       s.IsFunded(),
		Milestones:   make([]MilestoneView, 0, len(s.Milestones)),
	}
	for i, m := range s.Milestones {
		out.Milestones = append(out.Milestones, MilestoneView{
			Index:           i,
			Description:     m.Description,
			Amount:          m.Amount,
			State:           m.State.String(),
			EvidenceRef:     m.EvidenceRef,
			RejectionReason: m.RejectionReason,
		})
	}
	return out
}

// FromSession captures src at one instant. Actions are sorted by key.
func FromSession(src SessionSource) SessionView {
	v := SessionView{
		Contract:  string(src.Contract()),
		Self:      string(src.Self()),
		Role:      src.Role().String(),
		Loading:   src.Loading(),
		Stale:     src.Stale(),
		LoadError: MapError(src.LoadError()),
		Snapshot:  FromSnapshot(src.Snapshot()),
		Offered:   []string{},
		Actions:   []ActionView{},
	}
	for _, k := range src.Offered() {
		v.Offered = append(v.Offered, k.String())
	}
	for k := range src.Statuses() {
		rec, ok := src.Record(k)
		if !ok {
			continue
		}
		v.Actions = append(v.Actions, actionView(k, rec))
	}
	sort.Slice(v.Actions, func(i, j int) bool { return v.Actions[i].Key < v.Actions[j].Key })
	return v
}

func actionView(k escrow.OperationKey, r dispatch.Record) ActionView {
	a := ActionView{
		Key:       k.String(),
		Operation: string(k.Op),
		Status:    r.Status.String(),
		TxHash:    r.TxHash,
		Error:     r.Err,
	}
	if k.Indexed {
		i := k.Milestone
		a.Milestone = &i
	}
	return a
}

// ProjectView is one entry of the caller's escrow list.
type ProjectView struct {
	Contract     string `json:"contract"`
	Initiator    string `json:"initiator"`
	Counterparty string `json:"counterparty"`
	TotalAmount  string `json:"totalAmount"`
	State        string `json:"state"`
	Role         string `json:"role"`
}

// FromProjects keeps the session's order. It never returns nil.
func FromProjects(ps []session.ProjectSummary) []ProjectView {
	out := make([]ProjectView, 0, len(ps))
	for _, p := range ps {
		out = append(out, ProjectView{
			Contract:     string(p.Contract),
			Initiator:    string(p.Initiator),
			Counterparty: string(p.Counterparty),
			TotalAmount:  p.TotalAmount,
			State:        p.State.String(),
			Role:         p.Role.String(),
		})
	}
	return out
}

// MilestoneRequest is one milestone of a CreateEscrowRequest.
type MilestoneRequest struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

type CreateEscrowRequest struct {
	Counterparty string             `json:"counterparty"`
	Milestones   []MilestoneRequest `json:"milestones"`
}

type CreateEscrowResponse struct {
	Contract string `json:"contract"`
}

type OpenRequest struct {
	Contract string `json:"contract"`
}

// ActionRequest carries the text argument of submitWork (Ref) or
// rejectMilestone (Reason). Contract-wide operations take neither.
type ActionRequest struct {
	Ref    string `json:"ref,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type EvidenceResponse struct {
	CID  string `json:"cid"`
	Size int    `json:"size"`
}
