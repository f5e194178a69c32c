package session

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/units"
)

// projectReads bounds the concurrent contract reads of Projects.
const projectReads = 8

// ProjectSummary is one factory escrow the session's account is a party to.
type ProjectSummary struct {
	Contract     escrow.Address
	Initiator    escrow.Address
	Counterparty escrow.Address
	TotalAmount  string
	State        escrow.ContractState
	Role         escrow.Role
}

// Projects lists the factory's escrows that name Self as initiator or
// counterparty, newest first. Escrows whose details cannot be read are left
// out and logged; only a failure to list the factory is returned. A session
// without Self has no projects.
func (s *Session) Projects(ctx context.Context) ([]ProjectSummary, error) {
	if s.factory == nil {
		return nil, ErrNoFactory
	}
	if s.self.IsZero() {
		return nil, nil
	}
	deployed, err := s.factory.DeployedEscrows(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: list deployed escrows: %w", err)
	}

	found := make([]*ProjectSummary, len(deployed))
	var g errgroup.Group
	g.SetLimit(projectReads)
	for i, addr := range deployed {
		g.Go(func() error {
			p, err := s.summarize(ctx, addr)
			if err != nil {
				s.log.Warn("skipping unreadable escrow", "contract", string(addr), "err", err)
				return nil
			}
			found[i] = p
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]ProjectSummary, 0, len(found))
	for _, p := range slices.Backward(found) {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

// summarize reads one escrow's top-level fields. It returns nil when Self is
// not a party.
func (s *Session) summarize(ctx context.Context, addr escrow.Address) (*ProjectSummary, error) {
	f, err := s.reader.ContractFields(ctx, addr)
	if err != nil {
		return nil, err
	}
	parties := &escrow.Snapshot{Initiator: f.Initiator, Counterparty: f.Counterparty}
	role := escrow.ResolveRole(s.self, parties)
	if !role.IsInitiator && !role.IsCounterparty {
		return nil, nil
	}
	state, err := escrow.ContractStateFromCode(f.StateCode)
	if err != nil {
		return nil, err
	}
	return &ProjectSummary{
		Contract:     addr,
		Initiator:    f.Initiator,
		Counterparty: f.Counterparty,
		TotalAmount:  units.FormatEther(f.TotalAmount),
		State:        state,
		Role:         role,
	}, nil
}
