package ledgertest

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/ledger"
)

var (
	client     = escrow.MustParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	freelancer = escrow.MustParseAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
)

func mustWait(t *testing.T, tx ledger.PendingTx, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := tx.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	l := New()
	addr := l.Deploy(client, freelancer,
		ledger.MilestoneTerms{Description: "Design", Amount: big.NewInt(2)},
		ledger.MilestoneTerms{Description: "Build", Amount: big.NewInt(3)},
	)
	cl, fr := l.Client(client), l.Client(freelancer)

	tx, err := fr.Submit(ctx, addr, ledger.Call{Method: "acceptAssignment"})
	mustWait(t, tx, err)
	tx, err = cl.Submit(ctx, addr, ledger.Call{Method: "fund", Value: big.NewInt(5)})
	mustWait(t, tx, err)

	for i := 0; i < 2; i++ {
		tx, err = fr.Submit(ctx, addr, ledger.Call{Method: "submitWork", Args: []any{i, "bafy"}})
		mustWait(t, tx, err)
		tx, err = cl.Submit(ctx, addr, ledger.Call{Method: "approveMilestone", Args: []any{big.NewInt(int64(i))}})
		mustWait(t, tx, err)
	}

	f, err := cl.ContractFields(ctx, addr)
	if err != nil {
		t.Fatalf("ContractFields: %v", err)
	}
	if escrow.ContractState(f.StateCode) != escrow.Complete || f.Balance.Sign() != 0 {
		t.Fatalf("expected complete and drained, got %+v", f)
	}
}

func TestWrongSenderReverts(t *testing.T) {
	ctx := context.Background()
	l := New()
	addr := l.Deploy(client, freelancer, ledger.MilestoneTerms{Description: "x", Amount: big.NewInt(1)})

	tx, err := l.Client(client).Submit(ctx, addr, ledger.Call{Method: "acceptAssignment"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := tx.Wait(ctx); !errors.Is(err, ledger.ErrReverted) {
		t.Fatalf("expected ErrReverted, got %v", err)
	}
}

func TestFaultInjection(t *testing.T) {
	ctx := context.Background()
	l := New()
	addr := l.Deploy(client, freelancer, ledger.MilestoneTerms{Description: "x", Amount: big.NewInt(1)})
	c := l.Client(client)

	l.FailReads(1, nil)
	if _, err := c.ContractFields(ctx, addr); !errors.Is(err, ErrInjected) {
		t.Fatalf("expected injected read failure, got %v", err)
	}
	if _, err := c.ContractFields(ctx, addr); err != nil {
		t.Fatalf("second read: %v", err)
	}

	l.SetState(addr, 9)
	f, err := c.ContractFields(ctx, addr)
	if err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if _, err := escrow.ContractStateFromCode(f.StateCode); !errors.Is(err, escrow.ErrUnknownState) {
		t.Fatalf("expected unknown state, got %v", err)
	}

	if _, err := c.Submit(ctx, addr, ledger.Call{Method: "withdraw"}); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := l.Client("").Submit(ctx, addr, ledger.Call{Method: "fund"}); !errors.Is(err, ledger.ErrNoSigner) {
		t.Fatalf("expected ErrNoSigner, got %v", err)
	}
}

func TestHoldConfirmations(t *testing.T) {
	l := New()
	addr := l.Deploy(client, freelancer, ledger.MilestoneTerms{Description: "x", Amount: big.NewInt(1)})
	release := l.HoldConfirmations()

	tx, err := l.Client(freelancer).Submit(context.Background(), addr, ledger.Call{Method: "acceptAssignment"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- tx.Wait(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("wait returned before release: %v", err)
	default:
	}
	release()
	if err := <-done; err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestCreateEscrow(t *testing.T) {
	ctx := context.Background()
	l := New()
	pc, err := l.Client(client).CreateEscrow(ctx, ledger.EscrowProposal{
		Counterparty: freelancer,
		Milestones:   []ledger.MilestoneTerms{{Description: "a", Amount: big.NewInt(4)}},
	})
	if err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}
	addr, err := pc.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	f, err := l.Client(freelancer).ContractFields(ctx, addr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !f.Initiator.Equal(client) || f.TotalAmount.Int64() != 4 {
		t.Fatalf("unexpected fields %+v", f)
	}
}

func TestDeployedEscrowsInDeploymentOrder(t *testing.T) {
	ctx := context.Background()
	l := New()
	c := l.Client("")
	if got, err := c.DeployedEscrows(ctx); err != nil || len(got) != 0 {
		t.Fatalf("empty ledger: %v %v", got, err)
	}

	first := l.Deploy(client, freelancer, ledger.MilestoneTerms{Description: "a", Amount: big.NewInt(1)})
	pc, err := l.Client(client).CreateEscrow(ctx, ledger.EscrowProposal{
		Counterparty: freelancer,
		Milestones:   []ledger.MilestoneTerms{{Description: "b", Amount: big.NewInt(2)}},
	})
	if err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}
	if got, _ := c.DeployedEscrows(ctx); len(got) != 1 {
		t.Fatalf("unmined creation listed: %v", got)
	}
	second, err := pc.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	got, err := c.DeployedEscrows(ctx)
	if err != nil {
		t.Fatalf("DeployedEscrows: %v", err)
	}
	if len(got) != 2 || !got[0].Equal(first) || !got[1].Equal(second) {
		t.Fatalf("got %v, want [%s %s]", got, first, second)
	}

	l.FailReads(1, nil)
	if _, err := c.DeployedEscrows(ctx); !errors.Is(err, ErrInjected) {
		t.Fatalf("expected ErrInjected, got %v", err)
	}
}
