// Command escrowctl drives one escrow contract from the command line.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"xdao.co/escrowsync/config"
	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/evidence/registry"
	"xdao.co/escrowsync/evidence/storeconfig"
	"xdao.co/escrowsync/internal/logging"
	"xdao.co/escrowsync/ledger"
	"xdao.co/escrowsync/ledger/ethledger"
	"xdao.co/escrowsync/model"
	"xdao.co/escrowsync/session"

	_ "xdao.co/escrowsync/evidence/grpcstore"
	_ "xdao.co/escrowsync/evidence/kubo"
	_ "xdao.co/escrowsync/evidence/localfs"
	_ "xdao.co/escrowsync/evidence/pinata"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "show":
		return cmdShow(ctx, args[1:], out, errOut)
	case "fund", "accept", "decline":
		return cmdContractOp(ctx, args[0], args[1:], out, errOut)
	case "submit":
		return cmdSubmit(ctx, args[1:], out, errOut)
	case "approve", "reject":
		return cmdMilestoneOp(ctx, args[0], args[1:], out, errOut)
	case "create":
		return cmdCreate(ctx, args[1:], out, errOut)
	case "list":
		return cmdList(ctx, args[1:], out, errOut)
	case "evidence":
		return cmdEvidence(ctx, args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "escrowctl: milestone escrow client")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  escrowctl show --contract <addr>")
	fmt.Fprintln(w, "  escrowctl fund|accept|decline --contract <addr>")
	fmt.Fprintln(w, "  escrowctl submit --contract <addr> --milestone <i> (--ref <text> | --file <path>)")
	fmt.Fprintln(w, "  escrowctl approve --contract <addr> --milestone <i>")
	fmt.Fprintln(w, "  escrowctl reject --contract <addr> --milestone <i> [--reason <text>]")
	fmt.Fprintln(w, "  escrowctl list")
	fmt.Fprintln(w, "  escrowctl create --counterparty <addr> --milestone <description=amount> [--milestone ...]")
	fmt.Fprintln(w, "  escrowctl evidence put <file>")
	fmt.Fprintln(w, "  escrowctl evidence get [--out <file>] <cid>")
	fmt.Fprintln(w, "  escrowctl evidence export --contract <addr> --out <bundle.tar>")
	fmt.Fprintln(w, "  escrowctl evidence import [--ignore-unknown] <bundle.tar>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Common flags:")
	fmt.Fprintln(w, "  --config <file>     escrow YAML config (ESCROW_* variables override it)")
	fmt.Fprintln(w, "  --backend <name>    evidence backend; repeat --set key=value for its settings")
	fmt.Fprintln(w, "  --stores <file>     evidence backend list, as served by evidence-grpcd --config")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Evidence backends:")
	for _, name := range registry.Names(registry.UsageCLI) {
		fmt.Fprintf(w, "  %s\n", name)
	}
}

// backend is what escrowctl needs from a ledger connection.
type backend struct {
	ledger  ledger.Ledger
	factory ledger.Factory
	self    escrow.Address
	close   func()
}

// connect is replaced in tests.
var connect = connectEth

func connectEth(ctx context.Context, cfg config.Config) (backend, error) {
	opts := ethledger.Options{Factory: escrow.Address(cfg.Ledger.Factory)}
	if cfg.Ledger.PrivateKey != "" {
		signer, err := ethledger.NewSigner(cfg.Ledger.PrivateKey, big.NewInt(cfg.Ledger.ChainID))
		if err != nil {
			return backend{}, err
		}
		opts.Signer = signer
	}
	l, closeFn, err := ethledger.Dial(ctx, cfg.Ledger.RPCURL, opts)
	if err != nil {
		return backend{}, err
	}
	b := backend{ledger: l, self: l.Self(), close: closeFn}
	if cfg.Ledger.Factory != "" {
		b.factory = l
	}
	return b, nil
}

// storeFlags selects an evidence store independently of the escrow config.
type storeFlags struct {
	backend  string
	settings registry.Settings
	stores   string
}

func (f *storeFlags) register(fs *flag.FlagSet) {
	f.settings = registry.Settings{}
	fs.StringVar(&f.backend, "backend", "", "evidence backend name")
	fs.Var(f.settings, "set", "evidence backend setting key=value (repeatable)")
	fs.StringVar(&f.stores, "stores", "", "YAML evidence backend list")
}

// open returns the selected store, falling back to cfg's evidence section.
// A nil store with a nil error means none was configured.
func (f *storeFlags) open(cfg *config.Config) (evidence.Store, func() error, error) {
	switch {
	case f.backend != "":
		return registry.Open(f.backend, registry.UsageCLI, f.settings)
	case f.stores != "":
		sc, err := storeconfig.LoadFile(f.stores)
		if err != nil {
			return nil, nil, err
		}
		return sc.Open(registry.UsageCLI, "")
	case cfg != nil && cfg.HasEvidence():
		return cfg.Evidence.Open(registry.UsageCLI, "")
	}
	return nil, nil, nil
}

// sessionFlags are shared by every command that talks to the ledger.
type sessionFlags struct {
	config   string
	contract string
	verbose  bool
	store    storeFlags
}

func (f *sessionFlags) register(fs *flag.FlagSet, needContract bool) {
	fs.StringVar(&f.config, "config", os.Getenv("ESCROW_CONFIG"), "escrow YAML config")
	if needContract {
		fs.StringVar(&f.contract, "contract", "", "escrow contract address")
	}
	fs.BoolVar(&f.verbose, "v", false, "log ledger activity to stderr")
	f.store.register(fs)
}

// client is an open session plus what must be released with it.
type client struct {
	*session.Session
	store   evidence.Store
	closers []func()
}

func (c *client) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// openClient connects, builds a session and, when a contract was given,
// projects it.
func openClient(ctx context.Context, f *sessionFlags, errOut io.Writer) (*client, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}
	log := logging.Discard()
	if f.verbose {
		log, err = logging.New(logging.Options{Level: "debug", Format: logging.FormatText, Writer: errOut, Service: "escrowctl"})
		if err != nil {
			return nil, err
		}
	}

	b, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c := &client{closers: []func(){b.close}}

	self := b.self
	if cfg.Self != "" {
		configured, err := escrow.ParseAddress(cfg.Self)
		if err != nil {
			c.Close()
			return nil, err
		}
		if !self.IsZero() && !configured.Equal(self) {
			c.Close()
			return nil, fmt.Errorf("self %s does not match the signing key %s", configured, self)
		}
		self = configured
	}

	store, closeStore, err := f.store.open(&cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	if closeStore != nil {
		c.closers = append(c.closers, func() { _ = closeStore() })
	}
	c.store = store

	s, err := session.New(session.Config{
		Ledger:     b.ledger,
		Factory:    b.factory,
		Evidence:   store,
		Self:       self,
		Logger:     log,
		Projection: cfg.Projection.Policy(),
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Session = s

	if f.contract != "" {
		addr, err := escrow.ParseAddress(f.contract)
		if err != nil {
			c.Close()
			return nil, err
		}
		if err := s.Open(ctx, addr); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func requireContract(f *sessionFlags, errOut io.Writer, usage string) bool {
	if f.contract == "" {
		fmt.Fprintln(errOut, "usage: "+usage)
		return false
	}
	return true
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// fail prints err with its stable code and returns the exit status.
func fail(errOut io.Writer, err error) int {
	ce := model.MapError(err)
	fmt.Fprintf(errOut, "%s: %s\n", ce.Code, ce.Message)
	return 1
}
