package ledger

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"xdao.co/escrowsync/escrow"
)

// Positional response layouts of the v1.4 escrow contract.
//
// getContractDetails() returns
//
//	0 address initiator
//	1 address counterparty
//	2 uint256 totalAmount
//	3 uint256 balance
//	4 uint8   currentState
//
// getMilestone(uint256) returns
//
//	0 string  description
//	1 uint256 amount
//	2 uint8   state
//	3 string  ipfsCid
//	4 string  rejectionReason
//
// The factory's getDeployedEscrows() returns a single address[], oldest
// deployment first.
//
// A contract revision that reorders or adds fields needs its own decoder;
// these never reinterpret a response of a different shape.
const (
	contractFieldsArityV14 = 5
	milestoneArityV14      = 5
)

// DecodeContractFieldsV14 maps a getContractDetails response onto ContractFields.
func DecodeContractFieldsV14(values []any) (ContractFields, error) {
	if len(values) != contractFieldsArityV14 {
		return ContractFields{}, fmt.Errorf("%w: getContractDetails returned %d values, want %d", ErrSchema, len(values), contractFieldsArityV14)
	}
	initiator, err := asAddress(values[0], "initiator")
	if err != nil {
		return ContractFields{}, err
	}
	counterparty, err := asAddress(values[1], "counterparty")
	if err != nil {
		return ContractFields{}, err
	}
	total, err := asBigInt(values[2], "totalAmount")
	if err != nil {
		return ContractFields{}, err
	}
	balance, err := asBigInt(values[3], "balance")
	if err != nil {
		return ContractFields{}, err
	}
	state, err := asUint8(values[4], "currentState")
	if err != nil {
		return ContractFields{}, err
	}
	return ContractFields{
		Initiator:    initiator,
		Counterparty: counterparty,
		TotalAmount:  total,
		Balance:      balance,
		StateCode:    state,
	}, nil
}

// DecodeMilestoneV14 maps a getMilestone response onto MilestoneFields.
func DecodeMilestoneV14(values []any) (MilestoneFields, error) {
	if len(values) != milestoneArityV14 {
		return MilestoneFields{}, fmt.Errorf("%w: getMilestone returned %d values, want %d", ErrSchema, len(values), milestoneArityV14)
	}
	description, err := asString(values[0], "description")
	if err != nil {
		return MilestoneFields{}, err
	}
	amount, err := asBigInt(values[1], "amount")
	if err != nil {
		return MilestoneFields{}, err
	}
	state, err := asUint8(values[2], "state")
	if err != nil {
		return MilestoneFields{}, err
	}
	ref, err := asString(values[3], "ipfsCid")
	if err != nil {
		return MilestoneFields{}, err
	}
	reason, err := asString(values[4], "rejectionReason")
	if err != nil {
		return MilestoneFields{}, err
	}
	return MilestoneFields{
		Description:     description,
		Amount:          amount,
		StateCode:       state,
		EvidenceRef:     ref,
		RejectionReason: reason,
	}, nil
}

// DecodeCountV14 maps a getMilestoneCount response onto an int.
func DecodeCountV14(values []any) (int, error) {
	if len(values) != 1 {
		return 0, fmt.Errorf("%w: getMilestoneCount returned %d values, want 1", ErrSchema, len(values))
	}
	n, err := asBigInt(values[0], "count")
	if err != nil {
		return 0, err
	}
	if !n.IsInt64() || n.Int64() > 1<<16 {
		return 0, fmt.Errorf("%w: implausible milestone count %s", ErrSchema, n)
	}
	return int(n.Int64()), nil
}

// DecodeAddressListV14 maps a getDeployedEscrows response onto addresses,
// keeping the factory's order. The list may be any slice whose elements are
// addresses.
func DecodeAddressListV14(values []any) ([]escrow.Address, error) {
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: getDeployedEscrows returned %d values, want 1", ErrSchema, len(values))
	}
	list := reflect.ValueOf(values[0])
	if list.Kind() != reflect.Slice && list.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: deployed escrows is %T, want address[]", ErrSchema, values[0])
	}
	out := make([]escrow.Address, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		a, err := asAddress(list.Index(i).Interface(), fmt.Sprintf("deployed escrow %d", i))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

type hexer interface{ Hex() string }

func asAddress(v any, field string) (escrow.Address, error) {
	var s string
	switch t := v.(type) {
	case escrow.Address:
		s = string(t)
	case string:
		s = t
	case hexer:
		s = t.Hex()
	default:
		return "", fmt.Errorf("%w: %s is %T, want address", ErrSchema, field, v)
	}
	a, err := escrow.ParseAddress(strings.ToLower(s))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSchema, field, err)
	}
	return a, nil
}

func asBigInt(v any, field string) (*big.Int, error) {
	switch t := v.(type) {
	case *big.Int:
		if t == nil {
			return nil, fmt.Errorf("%w: %s is nil", ErrSchema, field)
		}
		if t.Sign() < 0 {
			return nil, fmt.Errorf("%w: %s is negative", ErrSchema, field)
		}
		return new(big.Int).Set(t), nil
	case uint64:
		return new(big.Int).SetUint64(t), nil
	case string:
		n, ok := new(big.Int).SetString(t, 10)
		if !ok || n.Sign() < 0 {
			return nil, fmt.Errorf("%w: %s is not an unsigned integer: %q", ErrSchema, field, t)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: %s is %T, want uint256", ErrSchema, field, v)
	}
}

func asUint8(v any, field string) (uint8, error) {
	switch t := v.(type) {
	case uint8:
		return t, nil
	case *big.Int:
		if t == nil || t.Sign() < 0 || t.BitLen() > 8 {
			return 0, fmt.Errorf("%w: %s out of uint8 range", ErrSchema, field)
		}
		return uint8(t.Uint64()), nil
	default:
		return 0, fmt.Errorf("%w: %s is %T, want uint8", ErrSchema, field, v)
	}
}

func asString(v any, field string) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, want string", ErrSchema, field, v)
	}
	return s, nil
}
