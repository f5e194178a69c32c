// Package projector reads escrow contracts from a ledger into snapshots.
package projector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/ledger"
	"xdao.co/escrowsync/retry"
	"xdao.co/escrowsync/units"
)

// ErrNoContract is returned when asked to project an absent address.
var ErrNoContract = errors.New("projector: no contract address")

// ProjectionError is the terminal failure of a projection.
type ProjectionError struct {
	Contract escrow.Address
	Attempts int
	Err      error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("projector: %s: failed after %d attempt(s): %v", e.Contract, e.Attempts, e.Err)
}

func (e *ProjectionError) Unwrap() error { return e.Err }

// Projector assembles snapshots from the ledger's individual read calls.
type Projector struct {
	reader  ledger.Reader
	log     *slog.Logger
	initial retry.Policy
	sleep   retry.Sleeper
	tracer  trace.Tracer

	mu   sync.Mutex
	last map[string]*escrow.Snapshot
}

type Option func(*Projector)

func WithLogger(l *slog.Logger) Option {
	return func(p *Projector) {
		if l != nil {
			p.log = l
		}
	}
}

// WithInitialPolicy replaces the retry policy of Project.
func WithInitialPolicy(pol retry.Policy) Option {
	return func(p *Projector) { p.initial = pol }
}

func WithSleeper(s retry.Sleeper) Option {
	return func(p *Projector) { p.sleep = s }
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Projector) {
		if t != nil {
			p.tracer = t
		}
	}
}

// New returns a projector reading through r.
func New(r ledger.Reader, opts ...Option) *Projector {
	p := &Projector{
		reader:  r,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		initial: retry.InitialLoad,
		tracer:  otel.Tracer("xdao.co/escrowsync/projector"),
		last:    map[string]*escrow.Snapshot{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Project performs the initial load of contract under the initial retry policy.
func (p *Projector) Project(ctx context.Context, contract escrow.Address) (*escrow.Snapshot, error) {
	return p.run(ctx, "projector.Project", contract, p.initial)
}

// Refresh performs a single-attempt read, used once a write is already final.
func (p *Projector) Refresh(ctx context.Context, contract escrow.Address) (*escrow.Snapshot, error) {
	return p.run(ctx, "projector.Refresh", contract, retry.Once)
}

func (p *Projector) run(ctx context.Context, name string, contract escrow.Address, pol retry.Policy) (*escrow.Snapshot, error) {
	if contract.IsZero() {
		return nil, &ProjectionError{Contract: contract, Err: ErrNoContract}
	}
	ctx, span := p.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("escrow.contract", string(contract))))
	defer span.End()

	log := p.log.With("contract", string(contract))
	snap, attempts, err := retry.Do(ctx, pol, retry.Config{
		Sleep: p.sleep,
		Observe: func(attempt int, err error, final bool) {
			if final {
				log.Error("projection failed", "attempt", attempt, "err", err)
				return
			}
			log.Warn("projection attempt failed, retrying", "attempt", attempt, "delay", pol.Delay, "err", err)
		},
	}, func(ctx context.Context, attempt int) (*escrow.Snapshot, error) {
		log.Debug("projecting", "attempt", attempt)
		return p.read(ctx, contract)
	})
	span.SetAttributes(attribute.Int("escrow.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "projection failed")
		return nil, &ProjectionError{Contract: contract, Attempts: attempts, Err: err}
	}

	p.mu.Lock()
	prev := p.last[lower(contract)]
	p.last[lower(contract)] = snap
	p.mu.Unlock()
	if perr := escrow.CheckProgress(prev, snap); perr != nil {
		log.Warn("ledger reported an unexpected move", "err", perr)
	}
	return snap.Clone(), nil
}

// read is one logical read: top-level fields, the milestone count, then each
// milestone. The calls are not atomic; a failure anywhere discards the whole read.
func (p *Projector) read(ctx context.Context, contract escrow.Address) (*escrow.Snapshot, error) {
	f, err := p.reader.ContractFields(ctx, contract)
	if err != nil {
		return nil, fmt.Errorf("contract fields: %w", err)
	}
	state, err := escrow.ContractStateFromCode(f.StateCode)
	if err != nil {
		return nil, err
	}
	n, err := p.reader.MilestoneCount(ctx, contract)
	if err != nil {
		return nil, fmt.Errorf("milestone count: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("milestone count: %w: negative count %d", ledger.ErrSchema, n)
	}

	snap := &escrow.Snapshot{
		Contract:     contract,
		Initiator:    f.Initiator,
		Counterparty: f.Counterparty,
		TotalAmount:  units.FormatEther(f.TotalAmount),
		Balance:      units.FormatEther(f.Balance),
		State:        state,
		Milestones:   make([]escrow.Milestone, 0, n),
	}
	for i := 0; i < n; i++ {
		m, err := p.reader.Milestone(ctx, contract, i)
		if err != nil {
			return nil, fmt.Errorf("milestone %d: %w", i, err)
		}
		ms, err := escrow.MilestoneStateFromCode(m.StateCode)
		if err != nil {
			return nil, fmt.Errorf("milestone %d: %w", i, err)
		}
		snap.Milestones = append(snap.Milestones, escrow.Milestone{
			Description:     m.Description,
			Amount:          units.FormatEther(m.Amount),
			State:           ms,
			EvidenceRef:     m.EvidenceRef,
			RejectionReason: m.RejectionReason,
		})
	}
	return snap, nil
}

// Forget drops the progress history kept for contract.
func (p *Projector) Forget(contract escrow.Address) {
	p.mu.Lock()
	delete(p.last, lower(contract))
	p.mu.Unlock()
}

func lower(a escrow.Address) string { return strings.ToLower(string(a)) }
