package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"xdao.co/escrowsync/cidutil"
	"xdao.co/escrowsync/config"
	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/ledger"
	"xdao.co/escrowsync/ledger/ledgertest"
	"xdao.co/escrowsync/model"
)

var (
	client     = escrow.MustParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	freelancer = escrow.MustParseAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
)

var oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// harness runs escrowctl against an in-memory ledger, acting as whichever
// account the chosen config names.
type harness struct {
	ledger   *ledgertest.Ledger
	configs  map[escrow.Address]string
	evidence string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{ledger: ledgertest.New(), configs: map[escrow.Address]string{}, evidence: t.TempDir()}
	dir := t.TempDir()
	for i, who := range []escrow.Address{client, freelancer} {
		p := filepath.Join(dir, []string{"client.yaml", "freelancer.yaml"}[i])
		body := "self: " + string(who) + "\nledger:\n  rpc_url: http://127.0.0.1:8545\n"
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		h.configs[who] = p
	}

	prev := connect
	connect = func(_ context.Context, cfg config.Config) (backend, error) {
		self := escrow.MustParseAddress(cfg.Self)
		c := h.ledger.Client(self)
		return backend{ledger: c, factory: c, self: self, close: func() {}}, nil
	}
	t.Cleanup(func() { connect = prev })
	return h
}

func (h *harness) run(t *testing.T, as escrow.Address, args ...string) (int, string, string) {
	t.Helper()
	full := append([]string{}, args...)
	if as != "" {
		// Flags follow the subcommand name (and the evidence subcommand name).
		n := 1
		if args[0] == "evidence" {
			n = 2
		}
		full = append(append(append([]string{}, args[:n]...), "-config", h.configs[as]), args[n:]...)
	}
	var out, errOut bytes.Buffer
	code := run(context.Background(), full, &out, &errOut)
	return code, out.String(), errOut.String()
}

func (h *harness) store() []string {
	return []string{"-backend", "localfs", "-set", "dir=" + h.evidence}
}

func decodeView(t *testing.T, out string) model.SessionView {
	t.Helper()
	var v model.SessionView
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return v
}

func TestRun_Usage(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(context.Background(), nil, &out, &errOut); code != 2 {
		t.Fatalf("no args: exit %d", code)
	}
	if code := run(context.Background(), []string{"help"}, &out, &errOut); code != 0 {
		t.Fatalf("help: exit %d", code)
	}
	if !strings.Contains(out.String(), "escrowctl submit") || !strings.Contains(out.String(), "escrowctl list") || !strings.Contains(out.String(), "localfs") {
		t.Fatalf("usage: %q", out.String())
	}
	errOut.Reset()
	if code := run(context.Background(), []string{"dance"}, &out, &errOut); code != 2 {
		t.Fatalf("unknown command: exit %d", code)
	}
	if !strings.Contains(errOut.String(), "unknown command: dance") {
		t.Fatalf("stderr: %q", errOut.String())
	}
}

func TestMilestoneLifecycle(t *testing.T) {
	h := newHarness(t)
	addr := h.ledger.Deploy(client, freelancer, ledger.MilestoneTerms{Description: "design", Amount: new(big.Int).Set(oneEther)})

	code, out, errOut := h.run(t, client, "show", "-contract", string(addr))
	if code != 0 {
		t.Fatalf("show: %d %s", code, errOut)
	}
	if v := decodeView(t, out); v.Snapshot == nil || v.Snapshot.State != "PendingAcceptance" || v.Role != "initiator" {
		t.Fatalf("initial view: %+v", v)
	}

	if code, _, errOut := h.run(t, freelancer, "accept", "-contract", string(addr)); code != 0 {
		t.Fatalf("accept: %d %s", code, errOut)
	}
	code, out, errOut = h.run(t, client, "fund", "-contract", string(addr))
	if code != 0 {
		t.Fatalf("fund: %d %s", code, errOut)
	}
	if v := decodeView(t, out); v.Snapshot.State != "Funded" || v.Snapshot.Balance != "1" {
		t.Fatalf("after fund: %+v", v.Snapshot)
	}

	file := filepath.Join(t.TempDir(), "design.pdf")
	if err := os.WriteFile(file, []byte("wireframes"), 0o600); err != nil {
		t.Fatal(err)
	}
	args := append([]string{"submit", "-contract", string(addr), "-milestone", "0", "-file", file}, h.store()...)
	code, out, errOut = h.run(t, freelancer, args...)
	if code != 0 {
		t.Fatalf("submit: %d %s", code, errOut)
	}
	want, _ := cidutil.Sum([]byte("wireframes"))
	if !strings.Contains(errOut, "uploaded "+want.String()) {
		t.Fatalf("stderr: %q", errOut)
	}
	if v := decodeView(t, out); v.Snapshot.Milestones[0].EvidenceRef != want.String() {
		t.Fatalf("evidence ref: %+v", v.Snapshot.Milestones[0])
	}

	code, out, errOut = h.run(t, client, "approve", "-contract", string(addr), "-milestone", "0")
	if code != 0 {
		t.Fatalf("approve: %d %s", code, errOut)
	}
	v := decodeView(t, out)
	if v.Snapshot.State != "Complete" || v.Snapshot.Milestones[0].State != "Paid" || v.Snapshot.Balance != "0" {
		t.Fatalf("after approve: %+v", v.Snapshot)
	}
}

func TestRejectCarriesReason(t *testing.T) {
	h := newHarness(t)
	addr := h.ledger.Deploy(client, freelancer, ledger.MilestoneTerms{Description: "copy", Amount: new(big.Int).Set(oneEther)})
	h.ledger.SetState(addr, uint8(escrow.Funded))
	h.ledger.SetBalance(addr, new(big.Int).Set(oneEther))

	if code, _, errOut := h.run(t, freelancer, "submit", "-contract", string(addr), "-milestone", "0", "-ref", "draft-1"); code != 0 {
		t.Fatalf("submit: %d %s", code, errOut)
	}
	code, out, errOut := h.run(t, client, "reject", "-contract", string(addr), "-milestone", "0", "-reason", "too short")
	if code != 0 {
		t.Fatalf("reject: %d %s", code, errOut)
	}
	m := decodeView(t, out).Snapshot.Milestones[0]
	if m.State != "Rejected" || m.RejectionReason != "too short" {
		t.Fatalf("after reject: %+v", m)
	}
}

func TestDeniedOperationReportsCode(t *testing.T) {
	h := newHarness(t)
	addr := h.ledger.Deploy(client, freelancer, ledger.MilestoneTerms{Description: "copy", Amount: new(big.Int).Set(oneEther)})
	h.ledger.SetState(addr, uint8(escrow.Created))

	code, out, errOut := h.run(t, freelancer, "fund", "-contract", string(addr))
	if code != 1 {
		t.Fatalf("exit %d", code)
	}
	if out != "" || !strings.HasPrefix(errOut, string(model.ErrNotPermitted)+":") {
		t.Fatalf("stdout %q stderr %q", out, errOut)
	}
	if len(h.ledger.Submitted()) != 0 {
		t.Fatalf("denied operation reached the ledger")
	}
}

func TestSubmitRequiresOneSource(t *testing.T) {
	h := newHarness(t)
	if code, _, _ := h.run(t, freelancer, "submit", "-contract", string(client), "-milestone", "0"); code != 2 {
		t.Fatalf("exit %d", code)
	}
	if code, _, _ := h.run(t, freelancer, "submit", "-contract", string(client), "-milestone", "0", "-ref", "a", "-file", "b"); code != 2 {
		t.Fatalf("exit %d", code)
	}
}

func TestCreate(t *testing.T) {
	h := newHarness(t)
	code, out, errOut := h.run(t, client, "create",
		"-counterparty", string(freelancer),
		"-milestone", "design=0.5",
		"-milestone", "build = phase 2=1.5",
	)
	if code != 0 {
		t.Fatalf("create: %d %s", code, errOut)
	}
	var resp model.CreateEscrowResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	code, out, errOut = h.run(t, freelancer, "show", "-contract", resp.Contract)
	if code != 0 {
		t.Fatalf("show: %d %s", code, errOut)
	}
	v := decodeView(t, out)
	if v.Role != "counterparty" || len(v.Snapshot.Milestones) != 2 || v.Snapshot.TotalAmount != "2" {
		t.Fatalf("created escrow: %+v", v)
	}
	if got := v.Snapshot.Milestones[1].Description; got != "build = phase 2" {
		t.Fatalf("description: %q", got)
	}
}

func TestList(t *testing.T) {
	h := newHarness(t)
	older := h.ledger.Deploy(client, freelancer, ledger.MilestoneTerms{Description: "design", Amount: new(big.Int).Set(oneEther)})
	h.ledger.Deploy(client, escrow.MustParseAddress("0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB"),
		ledger.MilestoneTerms{Description: "audit", Amount: new(big.Int).Set(oneEther)})
	code, out, errOut := h.run(t, client, "create", "-counterparty", string(freelancer), "-milestone", "build=2")
	if code != 0 {
		t.Fatalf("create: %d %s", code, errOut)
	}
	var created model.CreateEscrowResponse
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	code, out, errOut = h.run(t, freelancer, "list")
	if code != 0 {
		t.Fatalf("list: %d %s", code, errOut)
	}
	var list []model.ProjectView
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(list) != 2 {
		t.Fatalf("freelancer sees %d escrows: %s", len(list), out)
	}
	if !strings.EqualFold(list[0].Contract, created.Contract) || list[0].TotalAmount != "2" || list[0].Role != "counterparty" {
		t.Fatalf("newest: %+v", list[0])
	}
	if !strings.EqualFold(list[1].Contract, string(older)) {
		t.Fatalf("oldest: %+v", list[1])
	}

	if code, _, _ := h.run(t, freelancer, "list", "extra"); code != 2 {
		t.Fatalf("stray argument: exit %d", code)
	}
}

func TestCreateRejectsBadMilestoneFlag(t *testing.T) {
	h := newHarness(t)
	if code, _, _ := h.run(t, client, "create", "-counterparty", string(freelancer), "-milestone", "no amount"); code != 2 {
		t.Fatalf("exit %d", code)
	}
}

func TestEvidencePutGet(t *testing.T) {
	h := newHarness(t)
	file := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(file, []byte("meeting notes"), 0o600); err != nil {
		t.Fatal(err)
	}

	code, out, errOut := h.run(t, "", append(append([]string{"evidence", "put"}, h.store()...), file)...)
	if code != 0 {
		t.Fatalf("put: %d %s", code, errOut)
	}
	var put model.EvidenceResponse
	if err := json.Unmarshal([]byte(out), &put); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if put.Size != len("meeting notes") {
		t.Fatalf("size %d", put.Size)
	}

	code, out, errOut = h.run(t, "", append(append([]string{"evidence", "get"}, h.store()...), put.CID)...)
	if code != 0 || out != "meeting notes" {
		t.Fatalf("get: %d %q %s", code, out, errOut)
	}

	code, _, errOut = h.run(t, "", "evidence", "put", file)
	if code != 1 || !strings.HasPrefix(errOut, string(model.ErrNotConfigured)+":") {
		t.Fatalf("put without store: %d %q", code, errOut)
	}
	code, _, errOut = h.run(t, "", append(append([]string{"evidence", "get"}, h.store()...), "not-a-cid")...)
	if code != 1 || !strings.HasPrefix(errOut, string(model.ErrInvalidCID)+":") {
		t.Fatalf("get invalid cid: %d %q", code, errOut)
	}
}

func TestEvidenceExportImport(t *testing.T) {
	h := newHarness(t)
	addr := h.ledger.Deploy(client, freelancer,
		ledger.MilestoneTerms{Description: "design", Amount: new(big.Int).Set(oneEther)},
		ledger.MilestoneTerms{Description: "build", Amount: new(big.Int).Set(oneEther)},
	)
	h.ledger.SetState(addr, uint8(escrow.Funded))
	h.ledger.SetBalance(addr, new(big.Int).Mul(oneEther, big.NewInt(2)))

	file := filepath.Join(t.TempDir(), "design.txt")
	if err := os.WriteFile(file, []byte("design doc"), 0o600); err != nil {
		t.Fatal(err)
	}
	args := append([]string{"submit", "-contract", string(addr), "-milestone", "0", "-file", file}, h.store()...)
	if code, _, errOut := h.run(t, freelancer, args...); code != 0 {
		t.Fatalf("submit: %d %s", code, errOut)
	}

	bundlePath := filepath.Join(t.TempDir(), "evidence.tar")
	args = append([]string{"evidence", "export", "-contract", string(addr), "-out", bundlePath}, h.store()...)
	code, out, errOut := h.run(t, client, args...)
	if code != 0 {
		t.Fatalf("export: %d %s", code, errOut)
	}
	if !strings.Contains(out, `"description": "design"`) || strings.Contains(out, `"description": "build"`) {
		t.Fatalf("manifest: %s", out)
	}

	dest := t.TempDir()
	code, out, errOut = h.run(t, "", "evidence", "import", "-backend", "localfs", "-set", "dir="+dest, bundlePath)
	if code != 0 {
		t.Fatalf("import: %d %s", code, errOut)
	}
	want, _ := cidutil.Sum([]byte("design doc"))
	if !strings.Contains(out, want.String()) {
		t.Fatalf("import report: %s", out)
	}

	code, out, _ = h.run(t, "", "evidence", "get", "-backend", "localfs", "-set", "dir="+dest, want.String())
	if code != 0 || out != "design doc" {
		t.Fatalf("get from imported store: %d %q", code, out)
	}
}
