// Command escrowd serves one escrow session over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xdao.co/escrowsync/config"
	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/evidence/registry"
	"xdao.co/escrowsync/httpapi"
	"xdao.co/escrowsync/internal/logging"
	"xdao.co/escrowsync/internal/telemetry"
	"xdao.co/escrowsync/ledger"
	"xdao.co/escrowsync/ledger/ethledger"
	"xdao.co/escrowsync/session"

	_ "xdao.co/escrowsync/evidence/grpcstore"
	_ "xdao.co/escrowsync/evidence/kubo"
	_ "xdao.co/escrowsync/evidence/localfs"
	_ "xdao.co/escrowsync/evidence/pinata"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr, nil))
}

// backend is what escrowd needs from a ledger connection.
type backend struct {
	ledger  ledger.Ledger
	factory ledger.Factory
	self    escrow.Address
	close   func()
}

// connect is replaced in tests.
var connect = connectEth

func connectEth(ctx context.Context, cfg config.Config, log *slog.Logger) (backend, error) {
	opts := ethledger.Options{Factory: escrow.Address(cfg.Ledger.Factory), Logger: log.With("component", "ethledger")}
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

// resolveSelf reconciles the configured account with the signer's.
func resolveSelf(configured string, signer escrow.Address) (escrow.Address, error) {
	if configured == "" {
		return signer, nil
	}
	self, err := escrow.ParseAddress(configured)
	if err != nil {
		return "", err
	}
	if !signer.IsZero() && !self.Equal(signer) {
		return "", fmt.Errorf("self %s does not match the signing key %s", self, signer)
	}
	return self, nil
}

// run serves until ctx ends. ready, when set, receives the bound address.
func run(ctx context.Context, args []string, errOut io.Writer, ready chan<- net.Addr) int {
	fs := flag.NewFlagSet("escrowd", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", os.Getenv("ESCROW_CONFIG"), "YAML config file")
	contract := fs.String("contract", "", "contract to load at startup")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Writer: errOut, Service: "escrowd"})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: "escrowd",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Error("telemetry setup failed", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	b, err := connect(ctx, cfg, log)
	if err != nil {
		log.Error("ledger connection failed", "rpc", cfg.Ledger.RPCURL, "err", err)
		return 1
	}
	defer b.close()

	self, err := resolveSelf(cfg.Self, b.self)
	if err != nil {
		log.Error("invalid identity", "err", err)
		return 2
	}

	var store evidence.Store
	if cfg.HasEvidence() {
		s, closeStore, err := cfg.Evidence.Open(registry.UsageDaemon, "")
		if err != nil {
			log.Error("evidence store failed", "err", err)
			return 1
		}
		defer closeStore()
		store = s
	}

	sess, err := session.New(session.Config{
		Ledger:     b.ledger,
		Factory:    b.factory,
		Evidence:   store,
		Self:       self,
		Logger:     log.With("component", "session"),
		Projection: cfg.Projection.Policy(),
	})
	if err != nil {
		log.Error("session setup failed", "err", err)
		return 1
	}
	if *contract != "" {
		addr, err := escrow.ParseAddress(*contract)
		if err != nil {
			log.Error("invalid -contract", "err", err)
			return 2
		}
		// A failed initial load is reported and left for a later reload.
		if err := sess.Open(ctx, addr); err != nil {
			log.Warn("initial load failed", "contract", string(addr), "err", err)
		}
	}

	handler := httpapi.NewRouter(httpapi.NewHandler(sess, httpapi.Options{Evidence: store, Logger: log.With("component", "http")}))
	return serve(ctx, cfg.Listen, handler, log, ready)
}

func serve(ctx context.Context, addr string, h http.Handler, log *slog.Logger, ready chan<- net.Addr) int {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("listen failed", "addr", addr, "err", err)
		return 1
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(lis) }()
	log.Info("listening", "addr", lis.Addr().String())
	if ready != nil {
		ready <- lis.Addr()
	}

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error("shutdown failed", "err", err)
			return 1
		}
		log.Info("stopped")
		return 0
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return 0
		}
		log.Error("serve failed", "err", err)
		return 1
	}
}
