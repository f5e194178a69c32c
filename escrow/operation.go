package escrow

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Operation names a state-changing contract method.
type Operation string

const (
	OpFund              Operation = "fund"
	OpAcceptAssignment  Operation = "acceptAssignment"
	OpDeclineAssignment Operation = "declineAssignment"
	OpSubmitWork        Operation = "submitWork"
	OpApproveMilestone  Operation = "approveMilestone"
	OpRejectMilestone   Operation = "rejectMilestone"
)

var operations = []Operation{
	OpAcceptAssignment,
	OpDeclineAssignment,
	OpFund,
	OpSubmitWork,
	OpApproveMilestone,
	OpRejectMilestone,
}

// Operations lists every known operation in offer order.
func Operations() []Operation { return append([]Operation(nil), operations...) }

// ParseOperation validates a wire operation name.
func ParseOperation(s string) (Operation, error) {
	for _, op := range operations {
		if string(op) == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}

// PerMilestone reports whether op targets a single milestone.
func (op Operation) PerMilestone() bool {
	switch op {
	case OpSubmitWork, OpApproveMilestone, OpRejectMilestone:
		return true
	default:
		return false
	}
}

// OperationKey identifies the lifecycle record of an operation.
//
// Milestone actions are keyed per index so that acting on one milestone never
// blocks another; contract-wide actions share one key.
type OperationKey struct {
	Op        Operation
	Milestone int
	Indexed   bool
}

// ContractKey returns the key of a contract-wide operation.
func ContractKey(op Operation) OperationKey { return OperationKey{Op: op} }

// MilestoneKey returns the key of op applied to milestone index.
func MilestoneKey(op Operation, index int) OperationKey {
	return OperationKey{Op: op, Milestone: index, Indexed: true}
}

// KeyFor derives the status key from the dispatched arguments: an integer
// first argument is a milestone index, anything else keys by name alone.
// An index that does not fit in an int keys as -1, which no milestone has.
func KeyFor(op Operation, args ...any) OperationKey {
	if len(args) > 0 {
		switch v := args[0].(type) {
		case int:
			return MilestoneKey(op, v)
		case int64:
			if v > math.MaxInt || v < math.MinInt {
				return MilestoneKey(op, -1)
			}
			return MilestoneKey(op, int(v))
		case uint64:
			if v > math.MaxInt {
				return MilestoneKey(op, -1)
			}
			return MilestoneKey(op, int(v))
		}
	}
	return ContractKey(op)
}

func (k OperationKey) String() string {
	if !k.Indexed {
		return string(k.Op)
	}
	return string(k.Op) + "-" + strconv.Itoa(k.Milestone)
}

// ParseOperationKey is the inverse of OperationKey.String.
func ParseOperationKey(s string) (OperationKey, error) {
	name, idx, found := strings.Cut(s, "-")
	op, err := ParseOperation(name)
	if err != nil {
		return OperationKey{}, err
	}
	if found != op.PerMilestone() {
		if found {
			return OperationKey{}, fmt.Errorf("%w: %s takes no milestone index: %q", ErrUnknownOperation, op, s)
		}
		return OperationKey{}, fmt.Errorf("%w: %s needs a milestone index: %q", ErrUnknownOperation, op, s)
	}
	if !found {
		return ContractKey(op), nil
	}
	i, err := strconv.Atoi(idx)
	if err != nil || i < 0 {
		return OperationKey{}, fmt.Errorf("%w: bad milestone index in %q", ErrUnknownOperation, s)
	}
	return MilestoneKey(op, i), nil
}

// MarshalText lets keys serve as JSON object keys.
func (k OperationKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *OperationKey) UnmarshalText(b []byte) error {
	parsed, err := ParseOperationKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
