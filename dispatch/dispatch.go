// Package dispatch submits state-changing escrow operations and tracks the
// lifecycle of each one under its status key.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/ledger"
)

var (
	// ErrInFlight rejects a dispatch whose status key is already Pending.
	ErrInFlight = errors.New("dispatch: operation already in flight")
	// ErrStaleSnapshot marks a confirmed write whose follow-up refresh failed.
	ErrStaleSnapshot = errors.New("dispatch: confirmed but local snapshot is stale")
)

// Stage is where in the lifecycle a dispatch failed.
type Stage string

const (
	StageSubmit  Stage = "submit"
	StageConfirm Stage = "confirm"
	StageRefresh Stage = "refresh"
)

// DispatchError reports a failed dispatch.
type DispatchError struct {
	Key    escrow.OperationKey
	Stage  Stage
	TxHash string
	Err    error
}

func (e *DispatchError) Error() string {
	if e.Stage == StageRefresh {
		return fmt.Sprintf("dispatch: %s: confirmed in %s but refresh failed: %v", e.Key, e.TxHash, e.Err)
	}
	if e.TxHash != "" {
		return fmt.Sprintf("dispatch: %s: %s %s: %v", e.Key, e.Stage, e.TxHash, e.Err)
	}
	return fmt.Sprintf("dispatch: %s: %s: %v", e.Key, e.Stage, e.Err)
}

func (e *DispatchError) Unwrap() []error {
	if e.Stage == StageRefresh {
		return []error{ErrStaleSnapshot, e.Err}
	}
	return []error{e.Err}
}

// Confirmed reports whether the write itself is final on the ledger.
func (e *DispatchError) Confirmed() bool { return e.Stage == StageRefresh }

// Value attaches a native amount to a call. Pass it as the last argument.
type Value struct{ Amount *big.Int }

// Refresher re-projects contract after a confirmed write.
type Refresher func(ctx context.Context, contract escrow.Address) error

// Dispatcher owns the per-key status map of one session.
type Dispatcher struct {
	submitter ledger.Submitter
	refresh   Refresher
	log       *slog.Logger
	tracer    trace.Tracer
	newID     func() string

	mu      sync.Mutex
	records map[escrow.OperationKey]Record
}

type Option func(*Dispatcher)

func WithRefresher(r Refresher) Option {
	return func(d *Dispatcher) { d.refresh = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithIDs replaces the correlation id generator.
func WithIDs(fn func() string) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// New returns a dispatcher submitting through s.
func New(s ledger.Submitter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		submitter: s,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:    otel.Tracer("xdao.co/escrowsync/dispatch"),
		newID:     uuid.NewString,
		records:   map[escrow.OperationKey]Record{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch submits op against contract, waits for confirmation and refreshes.
//
// The status key is derived from args (see escrow.KeyFor). Dispatch against an
// absent contract is a no-op. Writes are never retried: every failure sets the
// key to Error and is returned as a *DispatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, contract escrow.Address, op escrow.Operation, args ...any) error {
	if contract.IsZero() {
		return nil
	}
	call := ledger.Call{Method: string(op)}
	for _, a := range args {
		if v, ok := a.(Value); ok {
			call.Value = v.Amount
			continue
		}
		call.Args = append(call.Args, a)
	}
	key := escrow.KeyFor(op, call.Args...)

	id, err := d.begin(key)
	if err != nil {
		return err
	}
	log := d.log.With("dispatch_id", id, "contract", string(contract), "key", key.String())
	ctx, span := d.tracer.Start(ctx, "dispatch."+string(op), trace.WithAttributes(
		attribute.String("escrow.contract", string(contract)),
		attribute.String("escrow.key", key.String()),
		attribute.String("dispatch.id", id),
	))
	defer span.End()

	fail := func(stage Stage, hash string, cause error) error {
		derr := &DispatchError{Key: key, Stage: stage, TxHash: hash, Err: cause}
		d.finish(key, id, hash, derr)
		span.RecordError(derr)
		span.SetStatus(codes.Error, string(stage))
		log.Error("dispatch failed", "stage", string(stage), "tx", hash, "err", cause)
		return derr
	}

	log.Info("submitting")
	tx, err := d.submitter.Submit(ctx, contract, call)
	if err != nil {
		return fail(StageSubmit, "", err)
	}
	hash := tx.Hash()
	d.setHash(key, id, hash)
	span.AddEvent("submitted", trace.WithAttributes(attribute.String("tx.hash", hash)))
	log.Info("awaiting confirmation", "tx", hash)

	if err := tx.Wait(ctx); err != nil {
		return fail(StageConfirm, hash, err)
	}
	span.AddEvent("confirmed")

	if d.refresh != nil {
		if err := d.refresh(ctx, contract); err != nil {
			return fail(StageRefresh, hash, err)
		}
	}
	d.finish(key, id, hash, nil)
	log.Info("confirmed", "tx", hash)
	return nil
}

func (d *Dispatcher) begin(key escrow.OperationKey) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.records[key].Status == Pending {
		return "", fmt.Errorf("%w: %s", ErrInFlight, key)
	}
	id := d.newID()
	d.records[key] = Record{Status: Pending, ID: id}
	return id, nil
}

func (d *Dispatcher) setHash(key escrow.OperationKey, id, hash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.records[key]; r.ID == id {
		r.TxHash = hash
		d.records[key] = r
	}
}

func (d *Dispatcher) finish(key escrow.OperationKey, id, hash string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.records[key]; r.ID != id {
		return
	}
	if err == nil {
		d.records[key] = Record{Status: Idle, ID: id, TxHash: hash}
		return
	}
	d.records[key] = Record{Status: Error, ID: id, TxHash: hash, Err: err.Error()}
}

// Status returns the status of key; keys never dispatched are Idle.
func (d *Dispatcher) Status(key escrow.OperationKey) Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.records[key].Status
}

// Record returns the last lifecycle record of key.
func (d *Dispatcher) Record(key escrow.OperationKey) (Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.records[key]
	return r, ok
}

// Records returns the status of every key dispatched since the last Reset.
// Keys that finished successfully are included as Idle.
func (d *Dispatcher) Records() map[escrow.OperationKey]Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[escrow.OperationKey]Status, len(d.records))
	for k, r := range d.records {
		out[k] = r.Status
	}
	return out
}

// Reset clears every record; used when the session switches contracts.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.records)
}
