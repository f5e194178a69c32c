package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/ipfs/go-cid"

	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/evidence/bundle"
	"xdao.co/escrowsync/model"
)

func cmdEvidence(ctx context.Context, args []string, out, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: escrowctl evidence <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: put, get, export, import")
		return 2
	}
	switch args[0] {
	case "put":
		return cmdEvidencePut(ctx, args[1:], out, errOut)
	case "get":
		return cmdEvidenceGet(ctx, args[1:], out, errOut)
	case "export":
		return cmdEvidenceExport(ctx, args[1:], out, errOut)
	case "import":
		return cmdEvidenceImport(ctx, args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown evidence subcommand: %s\n", args[0])
		return 2
	}
}

// openStore opens the store named by f. Commands that never touch the ledger
// do not read the escrow config.
func openStore(f *storeFlags) (evidence.Store, func(), error) {
	s, closeFn, err := f.open(nil)
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		return nil, nil, evidence.ErrNoStore
	}
	release := func() {}
	if closeFn != nil {
		release = func() { _ = closeFn() }
	}
	return s, release, nil
}

func cmdEvidencePut(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("evidence put", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var f storeFlags
	f.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: escrowctl evidence put --backend <name> [--set key=value ...] <file>")
		return 2
	}
	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(errOut, "read %s: %v\n", filepath.Base(path), err)
		return 1
	}

	store, release, err := openStore(&f)
	if err != nil {
		return fail(errOut, err)
	}
	defer release()

	id, err := evidence.Upload(ctx, store, data)
	if err != nil {
		return fail(errOut, err)
	}
	if err := printJSON(out, model.EvidenceResponse{CID: id.String(), Size: len(data)}); err != nil {
		return fail(errOut, err)
	}
	return 0
}

func cmdEvidenceGet(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("evidence get", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var f storeFlags
	f.register(fs)
	outPath := fs.String("out", "", "write to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: escrowctl evidence get --backend <name> [--out <file>] <cid>")
		return 2
	}
	id, err := cid.Decode(fs.Arg(0))
	if err != nil {
		return fail(errOut, fmt.Errorf("%w: %v", evidence.ErrInvalidCID, err))
	}

	store, release, err := openStore(&f)
	if err != nil {
		return fail(errOut, err)
	}
	defer release()

	data, err := store.Get(ctx, id)
	if err != nil {
		return fail(errOut, err)
	}
	if *outPath == "" {
		if _, err := out.Write(data); err != nil {
			return fail(errOut, err)
		}
		return 0
	}
	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		fmt.Fprintf(errOut, "write %s: %v\n", filepath.Base(*outPath), err)
		return 1
	}
	return 0
}

func cmdEvidenceExport(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("evidence export", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var f sessionFlags
	f.register(fs, true)
	outPath := fs.String("out", "", "bundle file to write")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if f.contract == "" || *outPath == "" {
		fmt.Fprintln(errOut, "usage: escrowctl evidence export --contract <addr> --out <bundle.tar>")
		return 2
	}

	c, err := openClient(ctx, &f, errOut)
	if err != nil {
		return fail(errOut, err)
	}
	defer c.Close()
	if c.store == nil {
		return fail(errOut, evidence.ErrNoStore)
	}

	file, err := os.Create(*outPath)
	if err != nil {
		fmt.Fprintf(errOut, "create %s: %v\n", filepath.Base(*outPath), err)
		return 1
	}
	m, err := bundle.Export(ctx, file, c.store, c.Snapshot())
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(*outPath)
		return fail(errOut, err)
	}
	if err := printJSON(out, m); err != nil {
		return fail(errOut, err)
	}
	return 0
}

// importReport is the printed outcome of an import.
type importReport struct {
	Manifest *bundle.Manifest `json:"manifest,omitempty"`
	Stored   []string         `json:"stored"`
}

func cmdEvidenceImport(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("evidence import", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var f storeFlags
	f.register(fs)
	ignoreUnknown := fs.Bool("ignore-unknown", false, "skip unrecognized bundle entries")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: escrowctl evidence import --backend <name> [--ignore-unknown] <bundle.tar>")
		return 2
	}
	path := fs.Arg(0)
	file, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(errOut, "open %s: %v\n", filepath.Base(path), err)
		return 1
	}
	defer file.Close()

	store, release, err := openStore(&f)
	if err != nil {
		return fail(errOut, err)
	}
	defer release()

	res, err := bundle.Import(ctx, file, store, bundle.ImportOptions{IgnoreUnknown: *ignoreUnknown})
	if err != nil {
		return fail(errOut, err)
	}
	report := importReport{Manifest: res.Manifest, Stored: make([]string, 0, len(res.Stored))}
	for _, id := range res.Stored {
		report.Stored = append(report.Stored, id.String())
	}
	sort.Strings(report.Stored)
	if err := printJSON(out, report); err != nil {
		return fail(errOut, err)
	}
	return 0
}
