package evidencetest

import (
	"testing"

	"xdao.co/escrowsync/evidence"
)

func TestMemory_Conformance(t *testing.T) {
	RunConformance(t, func(*testing.T) evidence.Store { return NewMemory() })
}
