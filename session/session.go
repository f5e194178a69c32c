// Package session ties one user's view of one escrow contract together: the
// loaded handle, the current snapshot, the derived role and the operations
// the user may invoke.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"xdao.co/escrowsync/dispatch"
	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/ledger"
	"xdao.co/escrowsync/projector"
	"xdao.co/escrowsync/retry"
)

// Config wires a Session to its collaborators.
type Config struct {
	Ledger ledger.Ledger
	// Factory is needed only by CreateEscrow and Projects.
	Factory ledger.Factory
	// Evidence is needed only by SubmitWorkFile.
	Evidence evidence.Store
	// Self is the account the ledger client signs as. It may be empty for a
	// read-only observer.
	Self escrow.Address

	Logger *slog.Logger
	Tracer trace.Tracer
	// Projection is the initial-load retry policy; zero means retry.InitialLoad.
	Projection retry.Policy
	Sleeper    retry.Sleeper
}

// Session is safe for concurrent use.
type Session struct {
	self     escrow.Address
	reader   ledger.Reader
	factory  ledger.Factory
	evidence evidence.Store
	log      *slog.Logger
	proj     *projector.Projector
	disp     *dispatch.Dispatcher

	mu       sync.RWMutex
	contract escrow.Address
	gen      uint64
	loading  bool
	snap     *escrow.Snapshot
	stale    bool
	loadErr  error

	// ticket is the last read started and installed the read that produced
	// snap. loadTicket is the projection that loading waits on.
	ticket     uint64
	installed  uint64
	loadTicket uint64
}

// New builds a session with no contract loaded.
func New(cfg Config) (*Session, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("session: ledger is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("xdao.co/escrowsync/session")
	}
	pol := cfg.Projection
	if pol == (retry.Policy{}) {
		pol = retry.InitialLoad
	}

	s := &Session{
		self:     cfg.Self,
		reader:   cfg.Ledger,
		factory:  cfg.Factory,
		evidence: cfg.Evidence,
		log:      log,
	}
	s.proj = projector.New(cfg.Ledger,
		projector.WithLogger(log.With("component", "projector")),
		projector.WithTracer(tracer),
		projector.WithInitialPolicy(pol),
		projector.WithSleeper(cfg.Sleeper),
	)
	s.disp = dispatch.New(cfg.Ledger,
		dispatch.WithLogger(log.With("component", "dispatch")),
		dispatch.WithTracer(tracer),
		dispatch.WithRefresher(s.refreshAfterWrite),
	)
	return s, nil
}

// Open loads contract and runs the initial projection. An empty address
// unloads the session. On failure no snapshot is held and the
// *projector.ProjectionError is returned.
//
// Opening the contract that is already loaded is a reload: the handle, its
// operation records and any write in flight are kept.
func (s *Session) Open(ctx context.Context, contract escrow.Address) error {
	s.mu.Lock()
	if !contract.IsZero() && contract.Equal(s.contract) {
		s.mu.Unlock()
		return s.Reload(ctx)
	}
	if !s.contract.IsZero() {
		s.proj.Forget(s.contract)
	}
	s.contract = contract
	s.gen++
	gen := s.gen
	s.snap, s.stale, s.loadErr = nil, false, nil
	s.loading = !contract.IsZero()
	// Records belong to the old handle; clearing them under mu keeps a write
	// from being dispatched against the new contract with stale statuses.
	s.disp.Reset()
	ticket := s.nextTicketLocked()
	s.loadTicket = ticket
	s.mu.Unlock()

	if contract.IsZero() {
		return nil
	}
	s.log.Info("loading contract", "contract", string(contract))
	return s.project(ctx, gen, ticket, contract)
}

// Reload re-runs the initial projection for the loaded contract.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	contract, gen := s.contract, s.gen
	if contract.IsZero() {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	ticket := s.nextTicketLocked()
	s.loadTicket = ticket
	s.mu.Unlock()
	return s.project(ctx, gen, ticket, contract)
}

// Close unloads the contract.
func (s *Session) Close() {
	_ = s.Open(context.Background(), "")
}

// nextTicketLocked orders reads of the loaded contract. A read installs its
// result only if no later read has installed one first.
func (s *Session) nextTicketLocked() uint64 {
	s.ticket++
	return s.ticket
}

func (s *Session) project(ctx context.Context, gen, ticket uint64, contract escrow.Address) error {
	snap, err := s.proj.Project(ctx, contract)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		s.log.Debug("discarding projection for a replaced handle", "contract", string(contract))
		return err
	}
	if ticket == s.loadTicket {
		s.loading = false
	}
	if ticket < s.installed {
		s.log.Debug("discarding projection older than the current snapshot", "contract", string(contract))
		return err
	}
	s.installed = ticket
	if err != nil {
		s.snap, s.stale, s.loadErr = nil, false, err
		return err
	}
	s.snap, s.stale, s.loadErr = snap, false, nil
	return nil
}

// refreshAfterWrite is the dispatcher's post-confirmation hook. A failed
// refresh keeps the previous snapshot and marks it stale.
func (s *Session) refreshAfterWrite(ctx context.Context, contract escrow.Address) error {
	s.mu.Lock()
	gen, current := s.gen, s.contract
	ticket := s.nextTicketLocked()
	s.mu.Unlock()
	if !current.Equal(contract) {
		return nil
	}

	snap, err := s.proj.Refresh(ctx, contract)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil
	}
	// A later read already started after confirmation and reflects the write.
	if ticket < s.installed {
		return nil
	}
	if err != nil {
		s.stale = true
		return err
	}
	s.installed = ticket
	s.snap, s.stale, s.loadErr = snap, false, nil
	return nil
}

// Contract returns the loaded address, or "".
func (s *Session) Contract() escrow.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contract
}

// Self returns the session's own account.
func (s *Session) Self() escrow.Address { return s.self }

// Snapshot returns a copy of the current snapshot, or nil.
func (s *Session) Snapshot() *escrow.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Loading reports whether a projection of the loaded contract is running.
func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Stale reports whether a confirmed write has not been reflected yet.
func (s *Session) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale
}

// LoadError returns the error of the last failed projection, if any.
func (s *Session) LoadError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}

// Role resolves the session's role against the current snapshot.
func (s *Session) Role() escrow.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return escrow.ResolveRole(s.self, s.snap)
}

// Offered lists the operations the user may be offered right now.
func (s *Session) Offered() []escrow.OperationKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return escrow.Offered(s.snap, escrow.ResolveRole(s.self, s.snap))
}

// Status returns the lifecycle status of key.
func (s *Session) Status(key escrow.OperationKey) dispatch.Status { return s.disp.Status(key) }

// Record returns the last lifecycle record of key.
func (s *Session) Record(key escrow.OperationKey) (dispatch.Record, bool) { return s.disp.Record(key) }

// Statuses returns a copy of the status map.
func (s *Session) Statuses() map[escrow.OperationKey]dispatch.Status { return s.disp.Records() }

// current returns the loaded contract with its snapshot and role, or ok=false
// when no handle is loaded.
func (s *Session) current() (contract escrow.Address, snap *escrow.Snapshot, role escrow.Role, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.contract.IsZero() {
		return "", nil, escrow.Role{}, false
	}
	return s.contract, s.snap.Clone(), escrow.ResolveRole(s.self, s.snap), true
}

func (s *Session) String() string {
	c := s.Contract()
	if c.IsZero() {
		return "session(unloaded)"
	}
	return fmt.Sprintf("session(%s as %s)", c, s.Role())
}
