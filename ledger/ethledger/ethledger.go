// Package ethledger implements ledger.Ledger and ledger.Factory against an
// EVM JSON-RPC endpoint using go-ethereum's contract bindings.
package ethledger

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/ledger"
)

//go:embed abi/escrow.json
var escrowABIJSON []byte

//go:embed abi/factory.json
var factoryABIJSON []byte

const createdEvent = "EscrowCreated"

// Backend is what the bindings need from a node connection. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

type Options struct {
	// Factory is the escrow factory contract. Required for CreateEscrow.
	Factory escrow.Address
	// Signer signs every transaction. Nil gives a read-only ledger.
	Signer *bind.TransactOpts
	Logger *slog.Logger
}

type Ledger struct {
	backend    Backend
	escrowABI  abi.ABI
	factoryABI abi.ABI
	factory    common.Address
	signer     *bind.TransactOpts
	log        *slog.Logger
}

var (
	_ ledger.Ledger  = (*Ledger)(nil)
	_ ledger.Factory = (*Ledger)(nil)
)

// New binds to backend with the embedded escrow and factory ABIs.
func New(backend Backend, opts Options) (*Ledger, error) {
	if backend == nil {
		return nil, errors.New("ethledger: backend is required")
	}
	escrowABI, err := abi.JSON(bytes.NewReader(escrowABIJSON))
	if err != nil {
		return nil, fmt.Errorf("ethledger: escrow abi: %w", err)
	}
	factoryABI, err := abi.JSON(bytes.NewReader(factoryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("ethledger: factory abi: %w", err)
	}
	l := &Ledger{
		backend:    backend,
		escrowABI:  escrowABI,
		factoryABI: factoryABI,
		signer:     opts.Signer,
		log:        opts.Logger,
	}
	if l.log == nil {
		l.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if !opts.Factory.IsZero() {
		if !common.IsHexAddress(string(opts.Factory)) {
			return nil, fmt.Errorf("%w: factory %q", ledger.ErrInvalidInput, opts.Factory)
		}
		l.factory = common.HexToAddress(string(opts.Factory))
	}
	return l, nil
}

// Dial connects to rpcURL. The returned close func releases the connection.
func Dial(ctx context.Context, rpcURL string, opts Options) (*Ledger, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("ethledger: dial %s: %w", rpcURL, err)
	}
	l, err := New(client, opts)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return l, client.Close, nil
}

// NewSigner builds transaction options from a hex private key for chainID.
func NewSigner(hexKey string, chainID *big.Int) (*bind.TransactOpts, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("ethledger: private key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("ethledger: signer: %w", err)
	}
	return opts, nil
}

// Self returns the signing account, or "" for a read-only ledger.
func (l *Ledger) Self() escrow.Address {
	if l.signer == nil {
		return ""
	}
	return escrow.Address(strings.ToLower(l.signer.From.Hex()))
}

func (l *Ledger) bound(addr common.Address, parsed abi.ABI) *bind.BoundContract {
	return bind.NewBoundContract(addr, parsed, l.backend, l.backend, l.backend)
}

func toCommon(a escrow.Address) (common.Address, error) {
	if !common.IsHexAddress(string(a)) {
		return common.Address{}, fmt.Errorf("%w: address %q", ledger.ErrInvalidInput, a)
	}
	return common.HexToAddress(string(a)), nil
}

func (l *Ledger) call(ctx context.Context, contract escrow.Address, method string, args ...any) ([]any, error) {
	addr, err := toCommon(contract)
	if err != nil {
		return nil, err
	}
	return l.callAt(ctx, addr, l.escrowABI, method, args...)
}

func (l *Ledger) callAt(ctx context.Context, addr common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	opts := &bind.CallOpts{Context: ctx}
	if l.signer != nil {
		opts.From = l.signer.From
	}
	var out []any
	if err := l.bound(addr, parsed).Call(opts, &out, method, args...); err != nil {
		if errors.Is(err, bind.ErrNoCode) {
			return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, strings.ToLower(addr.Hex()))
		}
		return nil, fmt.Errorf("ethledger: %s: %w", method, err)
	}
	return out, nil
}

func (l *Ledger) ContractFields(ctx context.Context, contract escrow.Address) (ledger.ContractFields, error) {
	out, err := l.call(ctx, contract, "getContractDetails")
	if err != nil {
		return ledger.ContractFields{}, err
	}
	return ledger.DecodeContractFieldsV14(out)
}

func (l *Ledger) MilestoneCount(ctx context.Context, contract escrow.Address) (int, error) {
	out, err := l.call(ctx, contract, "getMilestoneCount")
	if err != nil {
		return 0, err
	}
	return ledger.DecodeCountV14(out)
}

func (l *Ledger) Milestone(ctx context.Context, contract escrow.Address, index int) (ledger.MilestoneFields, error) {
	out, err := l.call(ctx, contract, "getMilestone", big.NewInt(int64(index)))
	if err != nil {
		return ledger.MilestoneFields{}, err
	}
	return ledger.DecodeMilestoneV14(out)
}

// Submit signs and sends call. The signer's options are copied per call.
func (l *Ledger) Submit(ctx context.Context, contract escrow.Address, call ledger.Call) (ledger.PendingTx, error) {
	if l.signer == nil {
		return nil, ledger.ErrNoSigner
	}
	addr, err := toCommon(contract)
	if err != nil {
		return nil, err
	}
	m, ok := l.escrowABI.Methods[call.Method]
	if !ok {
		return nil, fmt.Errorf("%w: unknown method %q", ledger.ErrInvalidInput, call.Method)
	}
	args, err := convertArgs(m.Inputs, call.Args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", call.Method, err)
	}
	if call.Value != nil && !m.IsPayable() {
		return nil, fmt.Errorf("%w: %s is not payable", ledger.ErrInvalidInput, call.Method)
	}

	opts := *l.signer
	opts.Context = ctx
	opts.Value = call.Value
	tx, err := l.bound(addr, l.escrowABI).Transact(&opts, call.Method, args...)
	if err != nil {
		return nil, fmt.Errorf("ethledger: %s: %w", call.Method, err)
	}
	l.log.Debug("transaction sent", "method", call.Method, "contract", string(contract), "tx", tx.Hash().Hex())
	return &pendingTx{backend: l.backend, tx: tx}, nil
}

// convertArgs adapts plain Go values to the ABI input types.
func convertArgs(inputs abi.Arguments, args []any) ([]any, error) {
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("%w: want %d arguments, got %d", ledger.ErrInvalidInput, len(inputs), len(args))
	}
	out := make([]any, len(args))
	for i, in := range inputs {
		switch in.Type.T {
		case abi.UintTy, abi.IntTy:
			n, err := toBig(args[i])
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ledger.ErrInvalidInput, in.Name, err)
			}
			out[i] = n
		case abi.StringTy:
			s, ok := args[i].(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s is %T, want string", ledger.ErrInvalidInput, in.Name, args[i])
			}
			out[i] = s
		case abi.AddressTy:
			a, ok := args[i].(escrow.Address)
			if !ok {
				return nil, fmt.Errorf("%w: %s is %T, want address", ledger.ErrInvalidInput, in.Name, args[i])
			}
			ca, err := toCommon(a)
			if err != nil {
				return nil, err
			}
			out[i] = ca
		default:
			out[i] = args[i]
		}
	}
	return out, nil
}

func toBig(v any) (*big.Int, error) {
	switch t := v.(type) {
	case int:
		if t < 0 {
			return nil, errors.New("negative")
		}
		return big.NewInt(int64(t)), nil
	case int64:
		if t < 0 {
			return nil, errors.New("negative")
		}
		return big.NewInt(t), nil
	case uint64:
		return new(big.Int).SetUint64(t), nil
	case *big.Int:
		if t == nil || t.Sign() < 0 {
			return nil, errors.New("nil or negative")
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%T is not an integer", v)
	}
}

type pendingTx struct {
	backend bind.DeployBackend
	tx      *types.Transaction
}

func (p *pendingTx) Hash() string { return p.tx.Hash().Hex() }

func (p *pendingTx) Wait(ctx context.Context) error {
	_, err := waitMined(ctx, p.backend, p.tx)
	return err
}

func waitMined(ctx context.Context, b bind.DeployBackend, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, b, tx)
	if err != nil {
		return nil, fmt.Errorf("ethledger: wait %s: %w", tx.Hash().Hex(), err)
	}
	if err := receiptErr(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

func receiptErr(r *types.Receipt) error {
	if r.Status == types.ReceiptStatusFailed {
		return fmt.Errorf("%w: %s in block %v", ledger.ErrReverted, r.TxHash.Hex(), r.BlockNumber)
	}
	return nil
}

// DeployedEscrows lists the factory's escrows, oldest first. It needs no
// signer.
func (l *Ledger) DeployedEscrows(ctx context.Context) ([]escrow.Address, error) {
	if l.factory == (common.Address{}) {
		return nil, fmt.Errorf("%w: no factory address", ledger.ErrInvalidInput)
	}
	out, err := l.callAt(ctx, l.factory, l.factoryABI, "getDeployedEscrows")
	if err != nil {
		return nil, err
	}
	return ledger.DecodeAddressListV14(out)
}

// CreateEscrow calls the factory with the signer as client.
func (l *Ledger) CreateEscrow(ctx context.Context, p ledger.EscrowProposal) (ledger.PendingCreation, error) {
	if l.signer == nil {
		return nil, ledger.ErrNoSigner
	}
	if l.factory == (common.Address{}) {
		return nil, fmt.Errorf("%w: no factory address", ledger.ErrInvalidInput)
	}
	self := escrow.Address(l.signer.From.Hex())
	if !p.Initiator.IsZero() && !p.Initiator.Equal(self) {
		return nil, fmt.Errorf("%w: initiator must be the signer", ledger.ErrInvalidInput)
	}
	counterparty, err := toCommon(p.Counterparty)
	if err != nil {
		return nil, err
	}
	if len(p.Milestones) == 0 {
		return nil, fmt.Errorf("%w: no milestones", ledger.ErrInvalidInput)
	}
	descriptions := make([]string, len(p.Milestones))
	amounts := make([]*big.Int, len(p.Milestones))
	for i, m := range p.Milestones {
		descriptions[i], amounts[i] = m.Description, m.Amount
	}

	opts := *l.signer
	opts.Context = ctx
	tx, err := l.bound(l.factory, l.factoryABI).Transact(&opts, "createEscrow", l.signer.From, counterparty, descriptions, amounts)
	if err != nil {
		return nil, fmt.Errorf("ethledger: createEscrow: %w", err)
	}
	l.log.Debug("escrow creation sent", "tx", tx.Hash().Hex())
	return &pendingCreation{
		pendingTx:    pendingTx{backend: l.backend, tx: tx},
		l:            l,
		client:       l.signer.From,
		counterparty: counterparty,
	}, nil
}

type pendingCreation struct {
	pendingTx
	l            *Ledger
	client       common.Address
	counterparty common.Address
}

func (p *pendingCreation) Wait(ctx context.Context) (escrow.Address, error) {
	receipt, err := waitMined(ctx, p.backend, p.tx)
	if err != nil {
		return "", err
	}
	return p.l.createdAddress(receipt.Logs, p.client, p.counterparty)
}

type escrowCreated struct {
	EscrowAddress common.Address
	Client        common.Address
	Freelancer    common.Address
}

// createdAddress finds the factory's creation event for this pair of parties.
// Logs from other contracts or with other signatures are skipped.
func (l *Ledger) createdAddress(logs []*types.Log, client, counterparty common.Address) (escrow.Address, error) {
	bc := l.bound(l.factory, l.factoryABI)
	for _, lg := range logs {
		if lg == nil || lg.Address != l.factory {
			continue
		}
		var ev escrowCreated
		if err := bc.UnpackLog(&ev, createdEvent, *lg); err != nil {
			continue
		}
		if ev.Client == client && ev.Freelancer == counterparty {
			return escrow.ParseAddress(ev.EscrowAddress.Hex())
		}
	}
	return "", ledger.ErrNoEscrowLog
}
