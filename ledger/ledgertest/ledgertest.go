// Package ledgertest provides an in-memory escrow ledger for tests.
//
// It enforces the v1.4 contract rules when a transaction is mined, answers
// reads through the same positional decoders the real adapter uses, and lets
// tests inject faults between and around calls.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/ledger"
)

// ErrInjected is returned by reads and submits failed on purpose.
var ErrInjected = errors.New("ledgertest: injected failure")

type milestone struct {
	description string
	amount      *big.Int
	state       uint8
	evidence    string
	reason      string
}

type contract struct {
	initiator    escrow.Address
	counterparty escrow.Address
	total        *big.Int
	balance      *big.Int
	state        uint8
	milestones   []milestone
}

// Ledger is a shared in-memory chain. Use Client to act as one account.
type Ledger struct {
	mu        sync.Mutex
	contracts map[string]*contract
	deployed  []escrow.Address
	seq       uint64
	txSeq     uint64

	failReads   int
	readErr     error
	failSubmits int
	submitErr   error
	reverts     int
	afterRead   func(method string, contract escrow.Address)
	hold        chan struct{}

	reads   int
	submits []ledger.Call
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{contracts: map[string]*contract{}}
}

// Deploy creates a contract awaiting the counterparty's acceptance.
func (l *Ledger) Deploy(initiator, counterparty escrow.Address, terms ...ledger.MilestoneTerms) escrow.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deployLocked(initiator, counterparty, terms)
}

func (l *Ledger) deployLocked(initiator, counterparty escrow.Address, terms []ledger.MilestoneTerms) escrow.Address {
	l.seq++
	addr := escrow.Address(fmt.Sprintf("0x%040x", 0xe5c0000+l.seq))
	c := &contract{
		initiator:    initiator,
		counterparty: counterparty,
		total:        new(big.Int),
		balance:      new(big.Int),
		state:        uint8(escrow.PendingAcceptance),
	}
	for _, t := range terms {
		amt := new(big.Int).Set(t.Amount)
		c.total.Add(c.total, amt)
		c.milestones = append(c.milestones, milestone{description: t.Description, amount: amt})
	}
	l.contracts[key(addr)] = c
	l.deployed = append(l.deployed, addr)
	return addr
}

// SetState overwrites the contract's raw state code, as another writer or a
// contract upgrade would. Codes outside the known mapping are allowed.
func (l *Ledger) SetState(addr escrow.Address, code uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mustGet(addr).state = code
}

// SetBalance overwrites the contract's balance.
func (l *Ledger) SetBalance(addr escrow.Address, balance *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mustGet(addr).balance = new(big.Int).Set(balance)
}

// SetMilestone overwrites one milestone's raw state and text fields.
func (l *Ledger) SetMilestone(addr escrow.Address, index int, code uint8, evidenceRef, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := &l.mustGet(addr).milestones[index]
	m.state, m.evidence, m.reason = code, evidenceRef, reason
}

func (l *Ledger) mustGet(addr escrow.Address) *contract {
	c, ok := l.contracts[key(addr)]
	if !ok {
		panic("ledgertest: unknown contract " + string(addr))
	}
	return c
}

// FailReads makes the next n read calls fail with err (ErrInjected if nil).
func (l *Ledger) FailReads(n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failReads, l.readErr = n, err
}

// FailSubmits makes the next n submissions fail before reaching the chain.
func (l *Ledger) FailSubmits(n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failSubmits, l.submitErr = n, err
}

// Revert makes the next n mined transactions revert without effect.
func (l *Ledger) Revert(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reverts = n
}

// AfterRead installs a hook run after every successful read, outside the
// ledger's lock, so tests can interleave other writers between the calls of
// one logical read.
func (l *Ledger) AfterRead(fn func(method string, contract escrow.Address)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.afterRead = fn
}

// HoldConfirmations blocks every Wait until release is called.
func (l *Ledger) HoldConfirmations() (release func()) {
	ch := make(chan struct{})
	l.mu.Lock()
	l.hold = ch
	l.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(ch)
			l.mu.Lock()
			if l.hold == ch {
				l.hold = nil
			}
			l.mu.Unlock()
		})
	}
}

// Reads returns the number of read calls answered so far, failed ones included.
func (l *Ledger) Reads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads
}

// Submitted returns every call that reached the chain, in order.
func (l *Ledger) Submitted() []ledger.Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.Call(nil), l.submits...)
}

// Client acts on the ledger as one account.
type Client struct {
	l    *Ledger
	self escrow.Address
}

var (
	_ ledger.Ledger  = (*Client)(nil)
	_ ledger.Factory = (*Client)(nil)
)

// Client returns an access layer signing as self.
func (l *Ledger) Client(self escrow.Address) *Client {
	return &Client{l: l, self: self}
}

func (c *Client) read(ctx context.Context, method string, addr escrow.Address, fn func(*contract) ([]any, error)) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := c.l
	l.mu.Lock()
	l.reads++
	if l.failReads > 0 {
		l.failReads--
		err := l.readErr
		l.mu.Unlock()
		if err == nil {
			err = ErrInjected
		}
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	ct, ok := l.contracts[key(addr)]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, addr)
	}
	values, err := fn(ct)
	hook := l.afterRead
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if hook != nil {
		hook(method, addr)
	}
	return values, nil
}

func (c *Client) ContractFields(ctx context.Context, addr escrow.Address) (ledger.ContractFields, error) {
	values, err := c.read(ctx, "getContractDetails", addr, func(ct *contract) ([]any, error) {
		return []any{
			string(ct.initiator),
			string(ct.counterparty),
			new(big.Int).Set(ct.total),
			new(big.Int).Set(ct.balance),
			ct.state,
		}, nil
	})
	if err != nil {
		return ledger.ContractFields{}, err
	}
	return ledger.DecodeContractFieldsV14(values)
}

func (c *Client) MilestoneCount(ctx context.Context, addr escrow.Address) (int, error) {
	values, err := c.read(ctx, "getMilestoneCount", addr, func(ct *contract) ([]any, error) {
		return []any{big.NewInt(int64(len(ct.milestones)))}, nil
	})
	if err != nil {
		return 0, err
	}
	return ledger.DecodeCountV14(values)
}

func (c *Client) Milestone(ctx context.Context, addr escrow.Address, index int) (ledger.MilestoneFields, error) {
	values, err := c.read(ctx, "getMilestone", addr, func(ct *contract) ([]any, error) {
		if index < 0 || index >= len(ct.milestones) {
			return nil, fmt.Errorf("%w: milestone %d of %d", ledger.ErrReverted, index, len(ct.milestones))
		}
		m := ct.milestones[index]
		return []any{m.description, new(big.Int).Set(m.amount), m.state, m.evidence, m.reason}, nil
	})
	if err != nil {
		return ledger.MilestoneFields{}, err
	}
	return ledger.DecodeMilestoneV14(values)
}

// Submit records the call; its effect is applied when the transaction is awaited.
func (c *Client) Submit(ctx context.Context, addr escrow.Address, call ledger.Call) (ledger.PendingTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.self.IsZero() {
		return nil, ledger.ErrNoSigner
	}
	l := c.l
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failSubmits > 0 {
		l.failSubmits--
		if l.submitErr != nil {
			return nil, l.submitErr
		}
		return nil, ErrInjected
	}
	if _, ok := l.contracts[key(addr)]; !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, addr)
	}
	if err := checkArgs(call); err != nil {
		return nil, err
	}
	l.txSeq++
	l.submits = append(l.submits, call)
	return &pendingTx{
		hash:  fmt.Sprintf("0x%064x", l.txSeq),
		l:     l,
		apply: func(ct map[string]*contract) error { return applyCall(ct[key(addr)], c.self, call) },
	}, nil
}

// DeployedEscrows lists every contract on the ledger in deployment order,
// whether made by Deploy or CreateEscrow. It counts as a read.
func (c *Client) DeployedEscrows(ctx context.Context) ([]escrow.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := c.l
	l.mu.Lock()
	l.reads++
	if l.failReads > 0 {
		l.failReads--
		err := l.readErr
		l.mu.Unlock()
		if err == nil {
			err = ErrInjected
		}
		return nil, fmt.Errorf("getDeployedEscrows: %w", err)
	}
	list := make([]string, len(l.deployed))
	for i, a := range l.deployed {
		list[i] = string(a)
	}
	l.mu.Unlock()
	return ledger.DecodeAddressListV14([]any{list})
}

// CreateEscrow deploys a contract with the client as initiator once mined.
func (c *Client) CreateEscrow(ctx context.Context, p ledger.EscrowProposal) (ledger.PendingCreation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.self.IsZero() {
		return nil, ledger.ErrNoSigner
	}
	if !p.Initiator.IsZero() && !p.Initiator.Equal(c.self) {
		return nil, fmt.Errorf("%w: initiator must be the signer", ledger.ErrInvalidInput)
	}
	if len(p.Milestones) == 0 {
		return nil, fmt.Errorf("%w: no milestones", ledger.ErrInvalidInput)
	}
	l := c.l
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failSubmits > 0 {
		l.failSubmits--
		if l.submitErr != nil {
			return nil, l.submitErr
		}
		return nil, ErrInjected
	}
	l.txSeq++
	l.submits = append(l.submits, ledger.Call{Method: "createEscrow", Args: []any{p.Counterparty, len(p.Milestones)}})
	return &pendingCreation{
		pendingTx: pendingTx{hash: fmt.Sprintf("0x%064x", l.txSeq), l: l},
		deploy: func() escrow.Address {
			return l.deployLocked(c.self, p.Counterparty, p.Milestones)
		},
	}, nil
}

type pendingTx struct {
	hash  string
	l     *Ledger
	apply func(map[string]*contract) error
}

func (p *pendingTx) Hash() string { return p.hash }

func (p *pendingTx) Wait(ctx context.Context) error {
	return p.mine(ctx, func() error { return p.apply(p.l.contracts) })
}

func (p *pendingTx) mine(ctx context.Context, effect func() error) error {
	p.l.mu.Lock()
	hold := p.l.hold
	p.l.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.l.mu.Lock()
	defer p.l.mu.Unlock()
	if p.l.reverts > 0 {
		p.l.reverts--
		return fmt.Errorf("%w: tx %s", ledger.ErrReverted, p.hash)
	}
	if err := effect(); err != nil {
		return fmt.Errorf("%w: tx %s: %v", ledger.ErrReverted, p.hash, err)
	}
	return nil
}

type pendingCreation struct {
	pendingTx
	deploy func() escrow.Address
}

func (p *pendingCreation) Wait(ctx context.Context) (escrow.Address, error) {
	var addr escrow.Address
	err := p.mine(ctx, func() error {
		addr = p.deploy()
		return nil
	})
	return addr, err
}

func key(a escrow.Address) string { return strings.ToLower(string(a)) }
