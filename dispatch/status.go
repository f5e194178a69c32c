package dispatch

import "fmt"

// Status is the lifecycle state of one operation key.
type Status uint8

const (
	Idle Status = iota
	Pending
	Error
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Record is the last known lifecycle of an operation key.
type Record struct {
	Status Status
	// ID correlates the record with log lines and spans.
	ID     string
	TxHash string
	Err    string
}
