package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"xdao.co/escrowsync/evidence/grpcstore"
)

func TestRun_ServesLocalfs(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan net.Addr, 1)
	done := make(chan int, 1)
	var errOut bytes.Buffer
	go func() {
		done <- run(ctx, []string{"-listen", "127.0.0.1:0", "-backend", "localfs", "-set", "dir=" + dir}, &bytes.Buffer{}, &errOut, ready)
	}()

	var addr net.Addr
	select {
	case addr = <-ready:
	case code := <-done:
		t.Fatalf("run exited early with %d: %s", code, errOut.String())
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not start")
	}

	c, err := grpcstore.Dial(addr.String(), grpcstore.DialOptions{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	id, err := c.Put(context.Background(), []byte("evidence"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := c.Get(context.Background(), id)
	if err != nil || string(got) != "evidence" {
		t.Fatalf("Get: %q %v", got, err)
	}

	cancel()
	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("exit code %d: %s", code, errOut.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}

func TestRun_ListBackends(t *testing.T) {
	var out bytes.Buffer
	if code := run(context.Background(), []string{"-list-backends"}, &out, &bytes.Buffer{}, nil); code != 0 {
		t.Fatalf("exit %d", code)
	}
	for _, name := range []string{"kubo", "localfs", "pinata"} {
		if !strings.Contains(out.String(), name) {
			t.Fatalf("missing %s in %q", name, out.String())
		}
	}
}

func TestRun_UnknownBackend(t *testing.T) {
	var errOut bytes.Buffer
	if code := run(context.Background(), []string{"-backend", "tape"}, &bytes.Buffer{}, &errOut, nil); code != 2 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(errOut.String(), "unknown backend") {
		t.Fatalf("stderr: %q", errOut.String())
	}
}
