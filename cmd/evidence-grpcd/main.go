// Command evidence-grpcd serves one evidence backend over gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/evidence/grpcstore"
	"xdao.co/escrowsync/evidence/registry"
	"xdao.co/escrowsync/evidence/storeconfig"
	"xdao.co/escrowsync/internal/logging"
	"xdao.co/escrowsync/internal/telemetry"

	_ "xdao.co/escrowsync/evidence/kubo"
	_ "xdao.co/escrowsync/evidence/localfs"
	_ "xdao.co/escrowsync/evidence/pinata"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr, nil))
}

// run serves until ctx ends. ready, when set, receives the bound address.
func run(ctx context.Context, args []string, out, errOut io.Writer, ready chan<- net.Addr) int {
	fs := flag.NewFlagSet("evidence-grpcd", flag.ContinueOnError)
	fs.SetOutput(errOut)
	listen := fs.String("listen", "127.0.0.1:7777", "listen address")
	backend := fs.String("backend", "localfs", "evidence backend name")
	configPath := fs.String("config", "", "YAML backend list (overrides -backend)")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")
	logLevel := fs.String("log-level", "info", "debug, info, warn or error")
	otlpEndpoint := fs.String("otlp-endpoint", os.Getenv("ESCROW_TELEMETRY_OTLP_ENDPOINT"), "OTLP/HTTP trace endpoint; empty disables tracing")
	settings := registry.Settings{}
	fs.Var(settings, "set", "backend setting key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *listBackends {
		for _, b := range registry.List(registry.UsageDaemon) {
			if b.Description == "" {
				_, _ = fmt.Fprintf(out, "%s\n", b.Name)
				continue
			}
			_, _ = fmt.Fprintf(out, "%s\t%s\tkeys=%v\n", b.Name, b.Description, b.Keys)
		}
		return 0
	}

	log, err := logging.New(logging.Options{Level: *logLevel, Writer: errOut, Service: "evidence-grpcd"})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{ServiceName: "evidence-grpcd", Endpoint: *otlpEndpoint})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer func() { _ = shutdownTracing(context.WithoutCancel(ctx)) }()

	var (
		store   evidence.Store
		closeFn func() error
	)
	if *configPath != "" {
		cfg, err := storeconfig.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
		store, closeFn, err = cfg.Open(registry.UsageDaemon, "")
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
	} else {
		store, closeFn, err = registry.Open(*backend, registry.UsageDaemon, settings)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
	}
	if closeFn != nil {
		defer closeFn()
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer lis.Close()

	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpcstore.RegisterStoreServer(s, &grpcstore.Server{Store: store})

	log.Info("listening", "addr", lis.Addr().String(), "backend", *backend, "config", *configPath)
	if ready != nil {
		ready <- lis.Addr()
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(lis) }()
	select {
	case <-ctx.Done():
		s.GracefulStop()
		log.Info("stopped")
		return 0
	case err := <-errc:
		log.Error("serve failed", "err", err)
		return 1
	}
}
