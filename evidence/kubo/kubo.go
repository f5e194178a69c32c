// Package kubo is an evidence store backed by the local Kubo "ipfs" CLI.
//
// It works on the local IPFS repo and needs no daemon. Objects are stored as
// raw blocks so their ids match cidutil.Sum.
package kubo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/escrowsync/cidutil"
	"xdao.co/escrowsync/evidence"
)

type Store struct {
	bin string
	env []string
	pin bool
}

var _ evidence.Store = (*Store)(nil)

type Options struct {
	// Bin is the path to the ipfs binary. Defaults to "ipfs".
	Bin string
	// Env overrides the command environment (e.g. IPFS_PATH). Nil inherits.
	Env []string
	// Pin pins every block written.
	Pin bool
}

func New(opts Options) *Store {
	bin := opts.Bin
	if bin == "" {
		bin = "ipfs"
	}
	return &Store{bin: bin, env: opts.Env, pin: opts.Pin}
}

func (s *Store) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, err := cidutil.Sum(data)
	if err != nil {
		return cid.Undef, err
	}

	args := []string{
		"block", "put",
		"--quiet",
		"--cid-codec=raw",
		"--mhtype=sha2-256",
		"--mhlen=32",
	}
	if s.pin {
		args = append(args, "--pin=true")
	}
	out, err := s.run(ctx, data, append(args, "/dev/stdin")...)
	if err != nil {
		return cid.Undef, err
	}

	got, err := cid.Decode(strings.TrimSpace(string(out)))
	if err != nil {
		return cid.Undef, fmt.Errorf("kubo: unexpected block put output: %w", err)
	}
	if !got.Equals(id) {
		return cid.Undef, evidence.ErrCIDMismatch
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, evidence.ErrInvalidCID
	}
	out, err := s.run(ctx, nil, "block", "get", id.String())
	if err != nil {
		if isLikelyNotFound(err) {
			return nil, evidence.ErrNotFound
		}
		return nil, err
	}
	ok, err := cidutil.Matches(id, out)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, evidence.ErrCIDMismatch
	}
	return out, nil
}

func (s *Store) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := s.run(ctx, nil, "block", "stat", "--offline", id.String())
	return err == nil
}

func (s *Store) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.bin, args...)
	if s.env != nil {
		cmd.Env = s.env
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		msg := strings.TrimSpace(string(ee.Stderr))
		if msg == "" {
			return nil, fmt.Errorf("kubo: %v", err)
		}
		return nil, fmt.Errorf("kubo: %s", msg)
	}
	return nil, err
}

func isLikelyNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found")
}
