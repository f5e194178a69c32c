package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/escrowsync/dispatch"
	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/ledger"
	"xdao.co/escrowsync/units"
)

var (
	ErrInvalidProposal = errors.New("session: invalid escrow proposal")
	ErrNoFactory       = errors.New("session: no escrow factory configured")
)

// Fund deposits the contract total. The attached value is the snapshot's
// TotalAmount converted to base units.
func (s *Session) Fund(ctx context.Context) error {
	contract, snap, role, ok := s.current()
	if !ok {
		return nil
	}
	if err := escrow.Authorize(snap, role, escrow.ContractKey(escrow.OpFund)); err != nil {
		return err
	}
	total, err := units.ParseEther(snap.TotalAmount)
	if err != nil {
		return fmt.Errorf("session: contract total %q: %w", snap.TotalAmount, err)
	}
	return s.disp.Dispatch(ctx, contract, escrow.OpFund, dispatch.Value{Amount: total})
}

func (s *Session) AcceptAssignment(ctx context.Context) error {
	return s.contractOp(ctx, escrow.OpAcceptAssignment)
}

func (s *Session) DeclineAssignment(ctx context.Context) error {
	return s.contractOp(ctx, escrow.OpDeclineAssignment)
}

func (s *Session) contractOp(ctx context.Context, op escrow.Operation) error {
	contract, snap, role, ok := s.current()
	if !ok {
		return nil
	}
	if err := escrow.Authorize(snap, role, escrow.ContractKey(op)); err != nil {
		return err
	}
	return s.disp.Dispatch(ctx, contract, op)
}

// SubmitWork attaches an already stored evidence reference to milestone i.
func (s *Session) SubmitWork(ctx context.Context, i int, ref string) error {
	return s.milestoneOp(ctx, escrow.OpSubmitWork, i, ref)
}

// SubmitWorkFile stores data in the evidence store and submits its content id
// for milestone i. If the upload fails the error is an *evidence.UploadError
// and nothing reaches the ledger.
func (s *Session) SubmitWorkFile(ctx context.Context, i int, data []byte) (cid.Cid, error) {
	_, snap, role, ok := s.current()
	if !ok {
		return cid.Undef, nil
	}
	if err := escrow.Authorize(snap, role, escrow.MilestoneKey(escrow.OpSubmitWork, i)); err != nil {
		return cid.Undef, err
	}
	id, err := evidence.Upload(ctx, s.evidence, data)
	if err != nil {
		s.log.Warn("evidence upload failed", "milestone", i, "bytes", len(data), "err", err)
		return cid.Undef, err
	}
	s.log.Info("evidence stored", "milestone", i, "cid", id.String())
	return id, s.SubmitWork(ctx, i, id.String())
}

func (s *Session) ApproveMilestone(ctx context.Context, i int) error {
	return s.milestoneOp(ctx, escrow.OpApproveMilestone, i, "")
}

// RejectMilestone returns milestone i to the counterparty with reason.
func (s *Session) RejectMilestone(ctx context.Context, i int, reason string) error {
	return s.milestoneOp(ctx, escrow.OpRejectMilestone, i, reason)
}

func (s *Session) milestoneOp(ctx context.Context, op escrow.Operation, i int, text string) error {
	contract, snap, role, ok := s.current()
	if !ok {
		return nil
	}
	key := escrow.MilestoneKey(op, i)
	if op == escrow.OpApproveMilestone {
		if err := escrow.Authorize(snap, role, key); err != nil {
			return err
		}
		return s.disp.Dispatch(ctx, contract, op, i)
	}
	if err := escrow.Authorize(snap, role, key, text); err != nil {
		return err
	}
	return s.disp.Dispatch(ctx, contract, op, i, text)
}

// MilestoneSpec is one milestone of a new escrow as entered by a user.
type MilestoneSpec struct {
	Description string
	// Amount is in display units, e.g. "0.5".
	Amount string
}

// CreateEscrow deploys a new contract with the session's account as initiator
// and waits for the factory to announce its address. The session keeps its
// currently loaded contract.
func (s *Session) CreateEscrow(ctx context.Context, counterparty string, milestones []MilestoneSpec) (escrow.Address, error) {
	if s.factory == nil {
		return "", ErrNoFactory
	}
	if s.self.IsZero() {
		return "", ledger.ErrNoSigner
	}
	p, err := s.proposal(counterparty, milestones)
	if err != nil {
		return "", err
	}

	tx, err := s.factory.CreateEscrow(ctx, p)
	if err != nil {
		return "", err
	}
	s.log.Info("escrow creation submitted", "tx", tx.Hash(), "milestones", len(p.Milestones))
	addr, err := tx.Wait(ctx)
	if err != nil {
		s.log.Error("escrow creation failed", "tx", tx.Hash(), "err", err)
		return "", err
	}
	s.log.Info("escrow created", "contract", string(addr), "tx", tx.Hash())
	return addr, nil
}

func (s *Session) proposal(counterparty string, milestones []MilestoneSpec) (ledger.EscrowProposal, error) {
	cp, err := escrow.ParseAddress(strings.TrimSpace(counterparty))
	if err != nil {
		return ledger.EscrowProposal{}, fmt.Errorf("%w: counterparty: %v", ErrInvalidProposal, err)
	}
	if cp.Equal(s.self) {
		return ledger.EscrowProposal{}, fmt.Errorf("%w: counterparty is the initiator", ErrInvalidProposal)
	}
	if len(milestones) == 0 {
		return ledger.EscrowProposal{}, fmt.Errorf("%w: at least one milestone is required", ErrInvalidProposal)
	}
	p := ledger.EscrowProposal{Initiator: s.self, Counterparty: cp}
	for i, m := range milestones {
		desc := strings.TrimSpace(m.Description)
		if desc == "" {
			return ledger.EscrowProposal{}, fmt.Errorf("%w: milestone %d has no description", ErrInvalidProposal, i)
		}
		amt, err := units.ParseEther(strings.TrimSpace(m.Amount))
		if err != nil {
			return ledger.EscrowProposal{}, fmt.Errorf("%w: milestone %d amount: %v", ErrInvalidProposal, i, err)
		}
		if amt.Sign() <= 0 {
			return ledger.EscrowProposal{}, fmt.Errorf("%w: milestone %d amount must be positive", ErrInvalidProposal, i)
		}
		p.Milestones = append(p.Milestones, ledger.MilestoneTerms{Description: desc, Amount: amt})
	}
	return p, nil
}
