package ledger

import (
	"errors"
	"math/big"
	"testing"
)

type fakeHexAddress string

func (f fakeHexAddress) Hex() string { return string(f) }

func TestDecodeContractFieldsV14(t *testing.T) {
	got, err := DecodeContractFieldsV14([]any{
		fakeHexAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"),
		"0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359",
		big.NewInt(3_000),
		big.NewInt(1_000),
		uint8(3),
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Initiator != "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed" {
		t.Fatalf("initiator: %s", got.Initiator)
	}
	if got.TotalAmount.Int64() != 3_000 || got.Balance.Int64() != 1_000 || got.StateCode != 3 {
		t.Fatalf("unexpected fields: %+v", got)
	}
}

func TestDecodeContractFieldsV14_RejectsDrift(t *testing.T) {
	cases := map[string][]any{
		"short": {
			"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
			"0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359",
			big.NewInt(1),
			big.NewInt(1),
		},
		"swapped amount and state": {
			"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
			"0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359",
			uint8(1),
			big.NewInt(1),
			big.NewInt(1_000_000),
		},
		"address as number": {
			big.NewInt(1),
			"0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359",
			big.NewInt(1),
			big.NewInt(1),
			uint8(1),
		},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeContractFieldsV14(values); !errors.Is(err, ErrSchema) {
				t.Fatalf("expected ErrSchema, got %v", err)
			}
		})
	}
}

func TestDecodeMilestoneV14(t *testing.T) {
	got, err := DecodeMilestoneV14([]any{"Design", big.NewInt(5), uint8(4), "bafy123", "needs revisions"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := MilestoneFields{Description: "Design", StateCode: 4, EvidenceRef: "bafy123", RejectionReason: "needs revisions"}
	if got.Description != want.Description || got.StateCode != want.StateCode || got.EvidenceRef != want.EvidenceRef ||
		got.RejectionReason != want.RejectionReason || got.Amount.Int64() != 5 {
		t.Fatalf("got %+v", got)
	}

	// The 4-field milestone layout of older contracts must not decode.
	if _, err := DecodeMilestoneV14([]any{"Design", big.NewInt(5), uint8(1), "bafy123"}); !errors.Is(err, ErrSchema) {
		t.Fatalf("expected ErrSchema for legacy layout, got %v", err)
	}
}

func TestDecodeCountV14(t *testing.T) {
	n, err := DecodeCountV14([]any{big.NewInt(3)})
	if err != nil || n != 3 {
		t.Fatalf("got %d %v", n, err)
	}
	if _, err := DecodeCountV14([]any{new(big.Int).Lsh(big.NewInt(1), 80)}); !errors.Is(err, ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

func TestDecodeAddressListV14(t *testing.T) {
	got, err := DecodeAddressListV14([]any{[]fakeHexAddress{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
	}})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0] != "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed" || got[1] != "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359" {
		t.Fatalf("got %v", got)
	}

	empty, err := DecodeAddressListV14([]any{[]string{}})
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty list: %v %v", empty, err)
	}

	bad := [][]any{
		nil,
		{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"},
		{[]string{"0x1234"}},
		{[]any{big.NewInt(1)}},
		{[]string{}, []string{}},
	}
	for i, values := range bad {
		if _, err := DecodeAddressListV14(values); !errors.Is(err, ErrSchema) {
			t.Fatalf("case %d: expected ErrSchema, got %v", i, err)
		}
	}
}
