package ledgertest

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/ledger"
)

var (
	errOnlyInitiator    = errors.New("only initiator")
	errOnlyCounterparty = errors.New("only counterparty")
	errBadState         = errors.New("invalid state")
	errBadValue         = errors.New("incorrect amount")
)

func checkArgs(call ledger.Call) error {
	switch call.Method {
	case "fund", "acceptAssignment", "declineAssignment":
		if len(call.Args) != 0 {
			return fmt.Errorf("%w: %s takes no arguments", ledger.ErrInvalidInput, call.Method)
		}
	case "approveMilestone":
		if len(call.Args) != 1 {
			return fmt.Errorf("%w: %s takes an index", ledger.ErrInvalidInput, call.Method)
		}
	case "submitWork", "rejectMilestone":
		if len(call.Args) != 2 {
			return fmt.Errorf("%w: %s takes an index and a string", ledger.ErrInvalidInput, call.Method)
		}
		if _, ok := call.Args[1].(string); !ok {
			return fmt.Errorf("%w: %s second argument is %T", ledger.ErrInvalidInput, call.Method, call.Args[1])
		}
	default:
		return fmt.Errorf("%w: unknown method %q", ledger.ErrInvalidInput, call.Method)
	}
	if len(call.Args) > 0 {
		if _, err := index(call.Args[0]); err != nil {
			return err
		}
	}
	return nil
}

func index(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case uint64:
		return int(t), nil
	case *big.Int:
		if t != nil && t.IsInt64() {
			return int(t.Int64()), nil
		}
	}
	return 0, fmt.Errorf("%w: milestone index is %T", ledger.ErrInvalidInput, v)
}

// applyCall enforces the v1.4 contract rules for sender and mutates ct.
func applyCall(ct *contract, sender escrow.Address, call ledger.Call) error {
	state := escrow.ContractState(ct.state)
	switch call.Method {
	case "acceptAssignment", "declineAssignment":
		if !sender.Equal(ct.counterparty) {
			return errOnlyCounterparty
		}
		if state != escrow.PendingAcceptance {
			return errBadState
		}
		if call.Method == "acceptAssignment" {
			ct.state = uint8(escrow.Created)
		} else {
			ct.state = uint8(escrow.Canceled)
		}
		return nil
	case "fund":
		if !sender.Equal(ct.initiator) {
			return errOnlyInitiator
		}
		if state != escrow.Created {
			return errBadState
		}
		if call.Value == nil || call.Value.Cmp(ct.total) != 0 {
			return errBadValue
		}
		ct.balance = new(big.Int).Set(call.Value)
		ct.state = uint8(escrow.Funded)
		return nil
	}

	i, _ := index(call.Args[0])
	if i < 0 || i >= len(ct.milestones) {
		return fmt.Errorf("milestone %d out of range", i)
	}
	if state != escrow.Funded && state != escrow.InProgress {
		return errBadState
	}
	m := &ct.milestones[i]
	ms := escrow.MilestoneState(m.state)

	switch call.Method {
	case "submitWork":
		if !sender.Equal(ct.counterparty) {
			return errOnlyCounterparty
		}
		if ms != escrow.MilestonePending && ms != escrow.MilestoneRejected {
			return errBadState
		}
		ref := call.Args[1].(string)
		if strings.TrimSpace(ref) == "" {
			return errors.New("empty evidence reference")
		}
		m.state, m.evidence, m.reason = uint8(escrow.MilestoneSubmitted), ref, ""
		ct.state = uint8(escrow.InProgress)
	case "approveMilestone":
		if !sender.Equal(ct.initiator) {
			return errOnlyInitiator
		}
		if ms != escrow.MilestoneSubmitted {
			return errBadState
		}
		m.state = uint8(escrow.MilestonePaid)
		ct.balance = new(big.Int).Sub(ct.balance, m.amount)
		if allPaid(ct) {
			ct.state = uint8(escrow.Complete)
		}
	case "rejectMilestone":
		if !sender.Equal(ct.initiator) {
			return errOnlyInitiator
		}
		if ms != escrow.MilestoneSubmitted {
			return errBadState
		}
		m.state, m.reason = uint8(escrow.MilestoneRejected), call.Args[1].(string)
	}
	return nil
}

func allPaid(ct *contract) bool {
	for _, m := range ct.milestones {
		if escrow.MilestoneState(m.state) != escrow.MilestonePaid {
			return false
		}
	}
	return true
}
