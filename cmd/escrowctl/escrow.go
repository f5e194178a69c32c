package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"xdao.co/escrowsync/model"
	"xdao.co/escrowsync/session"
)

func cmdShow(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var f sessionFlags
	f.register(fs, true)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !requireContract(&f, errOut, "escrowctl show --contract <addr>") {
		return 2
	}

	c, err := openClient(ctx, &f, errOut)
	if err != nil {
		return fail(errOut, err)
	}
	defer c.Close()
	if err := printJSON(out, model.FromSession(c)); err != nil {
		return fail(errOut, err)
	}
	return 0
}

// finish prints the session after a write. A confirmed write whose refresh
// failed still prints the last snapshot before reporting the error.
func finish(c *client, err error, out, errOut io.Writer) int {
	if err != nil && !c.Stale() {
		return fail(errOut, err)
	}
	if perr := printJSON(out, model.FromSession(c)); perr != nil {
		return fail(errOut, perr)
	}
	if err != nil {
		return fail(errOut, err)
	}
	return 0
}

func cmdContractOp(ctx context.Context, name string, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(errOut)
	var f sessionFlags
	f.register(fs, true)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !requireContract(&f, errOut, "escrowctl "+name+" --contract <addr>") {
		return 2
	}

	c, err := openClient(ctx, &f, errOut)
	if err != nil {
		return fail(errOut, err)
	}
	defer c.Close()

	switch name {
	case "fund":
		err = c.Fund(ctx)
	case "accept":
		err = c.AcceptAssignment(ctx)
	case "decline":
		err = c.DeclineAssignment(ctx)
	}
	return finish(c, err, out, errOut)
}

func cmdSubmit(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var f sessionFlags
	f.register(fs, true)
	index := fs.Int("milestone", -1, "milestone index")
	ref := fs.String("ref", "", "evidence reference to submit as-is")
	file := fs.String("file", "", "file to upload as evidence")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if f.contract == "" || *index < 0 || (*ref == "") == (*file == "") {
		fmt.Fprintln(errOut, "usage: escrowctl submit --contract <addr> --milestone <i> (--ref <text> | --file <path>)")
		return 2
	}

	var data []byte
	if *file != "" {
		b, err := os.ReadFile(*file)
		if err != nil {
			fmt.Fprintf(errOut, "read %s: %v\n", filepath.Base(*file), err)
			return 1
		}
		data = b
	}

	c, err := openClient(ctx, &f, errOut)
	if err != nil {
		return fail(errOut, err)
	}
	defer c.Close()

	if *file != "" {
		id, err := c.SubmitWorkFile(ctx, *index, data)
		if id.Defined() {
			fmt.Fprintf(errOut, "uploaded %s\n", id)
		}
		return finish(c, err, out, errOut)
	}
	return finish(c, c.SubmitWork(ctx, *index, *ref), out, errOut)
}

func cmdMilestoneOp(ctx context.Context, name string, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(errOut)
	var f sessionFlags
	f.register(fs, true)
	index := fs.Int("milestone", -1, "milestone index")
	var reason *string
	if name == "reject" {
		reason = fs.String("reason", "", "rejection reason")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if f.contract == "" || *index < 0 {
		fmt.Fprintf(errOut, "usage: escrowctl %s --contract <addr> --milestone <i>\n", name)
		return 2
	}

	c, err := openClient(ctx, &f, errOut)
	if err != nil {
		return fail(errOut, err)
	}
	defer c.Close()

	if name == "reject" {
		err = c.RejectMilestone(ctx, *index, *reason)
	} else {
		err = c.ApproveMilestone(ctx, *index)
	}
	return finish(c, err, out, errOut)
}

// cmdList prints the escrows the configured account is a party to, newest
// first.
func cmdList(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var f sessionFlags
	f.register(fs, false)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(errOut, "usage: escrowctl list")
		return 2
	}

	c, err := openClient(ctx, &f, errOut)
	if err != nil {
		return fail(errOut, err)
	}
	defer c.Close()

	ps, err := c.Projects(ctx)
	if err != nil {
		return fail(errOut, err)
	}
	if err := printJSON(out, model.FromProjects(ps)); err != nil {
		return fail(errOut, err)
	}
	return 0
}

// milestoneList collects repeated --milestone description=amount flags.
type milestoneList []session.MilestoneSpec

func (m *milestoneList) String() string {
	parts := make([]string, 0, len(*m))
	for _, s := range *m {
		parts = append(parts, s.Description+"="+s.Amount)
	}
	return strings.Join(parts, ",")
}

func (m *milestoneList) Set(v string) error {
	// The amount follows the last '=' so descriptions may contain one.
	i := strings.LastIndex(v, "=")
	if i < 0 {
		return fmt.Errorf("expected description=amount, got %q", v)
	}
	*m = append(*m, session.MilestoneSpec{
		Description: strings.TrimSpace(v[:i]),
		Amount:      strings.TrimSpace(v[i+1:]),
	})
	return nil
}

func cmdCreate(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var f sessionFlags
	f.register(fs, false)
	counterparty := fs.String("counterparty", "", "freelancer address")
	var milestones milestoneList
	fs.Var(&milestones, "milestone", "milestone as description=amount (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *counterparty == "" || len(milestones) == 0 {
		fmt.Fprintln(errOut, "usage: escrowctl create --counterparty <addr> --milestone <description=amount> [--milestone ...]")
		return 2
	}

	c, err := openClient(ctx, &f, errOut)
	if err != nil {
		return fail(errOut, err)
	}
	defer c.Close()

	addr, err := c.CreateEscrow(ctx, *counterparty, milestones)
	if err != nil {
		return fail(errOut, err)
	}
	if err := printJSON(out, model.CreateEscrowResponse{Contract: string(addr)}); err != nil {
		return fail(errOut, err)
	}
	return 0
}
