package grpcstore

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"xdao.co/escrowsync/cidutil"
	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/evidence/evidencetest"
)

func serve(t *testing.T, backing evidence.Store) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterStoreServer(srv, &Server{Store: backing})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := Dial("passthrough:///bufnet", DialOptions{Extra: []grpc.DialOption{
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
	}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client.Timeout = 2 * time.Second
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGRPCStore_Conformance(t *testing.T) {
	evidencetest.RunConformance(t, func(t *testing.T) evidence.Store {
		return serve(t, evidencetest.NewMemory())
	})
}

func TestGRPCStore_MapsErrors(t *testing.T) {
	backing := evidencetest.NewMemory()
	client := serve(t, backing)
	ctx := context.Background()

	id, _ := cidutil.Sum([]byte("absent"))
	if _, err := client.Get(ctx, id); !errors.Is(err, evidence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	backing.FailPuts(evidence.ErrImmutable)
	if _, err := client.Put(ctx, []byte("x")); !errors.Is(err, evidence.ErrImmutable) {
		t.Fatalf("expected ErrImmutable, got %v", err)
	}
}
