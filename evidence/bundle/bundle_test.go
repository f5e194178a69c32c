package bundle_test

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"xdao.co/escrowsync/cidutil"
	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/evidence/bundle"
	"xdao.co/escrowsync/evidence/evidencetest"
	"xdao.co/escrowsync/evidence/localfs"
)

func snapshotWith(refs ...string) *escrow.Snapshot {
	snap := &escrow.Snapshot{Contract: "0x00000000000000000000000000000000000e5c01", State: escrow.InProgress}
	for i, r := range refs {
		st := escrow.MilestonePending
		if r != "" {
			st = escrow.MilestoneSubmitted
		}
		snap.Milestones = append(snap.Milestones, escrow.Milestone{Description: string(rune('A' + i)), State: st, EvidenceRef: r})
	}
	return snap
}

func TestExport_IsDeterministic(t *testing.T) {
	ctx := context.Background()
	store, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	id1, _ := store.Put(ctx, []byte("hello"))
	id2, _ := store.Put(ctx, []byte("world"))

	var a, b bytes.Buffer
	if _, err := bundle.Export(ctx, &a, store, snapshotWith(id2.String(), "", id1.String())); err != nil {
		t.Fatal(err)
	}
	m, err := bundle.Export(ctx, &b, store, snapshotWith(id2.String(), "", id1.String()))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatalf("expected deterministic bundle bytes")
	}
	if len(m.Milestones) != 2 || m.Milestones[0].Index != 0 || m.Milestones[1].Index != 2 {
		t.Fatalf("manifest: %+v", m)
	}
}

func TestImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := evidencetest.NewMemory()
	payload := []byte("final report")
	id, _ := src.Put(ctx, payload)

	var buf bytes.Buffer
	if _, err := bundle.Export(ctx, &buf, src, snapshotWith(id.String())); err != nil {
		t.Fatal(err)
	}

	dst, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	res, err := bundle.Import(ctx, bytes.NewReader(buf.Bytes()), dst, bundle.ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Manifest == nil || res.Manifest.Milestones[0].CID != id.String() {
		t.Fatalf("manifest: %+v", res.Manifest)
	}
	got, err := dst.Get(ctx, id)
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("Get: %q %v", got, err)
	}
}

func TestImport_RejectsCIDMismatch(t *testing.T) {
	other, _ := cidutil.Sum([]byte("other"))
	raw := makeTar(t, "blocks/"+other.String(), []byte("good"))

	_, err := bundle.Import(context.Background(), bytes.NewReader(raw), evidencetest.NewMemory(), bundle.ImportOptions{})
	if !errors.Is(err, evidence.ErrCIDMismatch) {
		t.Fatalf("expected ErrCIDMismatch, got %v", err)
	}
}

func TestImport_RejectsTraversal(t *testing.T) {
	raw := makeTar(t, "../blocks/x", []byte("x"))
	if _, err := bundle.Import(context.Background(), bytes.NewReader(raw), evidencetest.NewMemory(), bundle.ImportOptions{}); err == nil {
		t.Fatalf("expected path rejection")
	}
}

func makeTar(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	h := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  time.Unix(0, 0).UTC(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(h); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
