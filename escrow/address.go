package escrow

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Address is a 20-byte ledger account or contract address in 0x-prefixed hex.
//
// Addresses compare case-insensitively; the zero value means "absent".
type Address string

// ParseAddress validates s as a 0x-prefixed 40-digit hex address.
//
// All-lowercase and all-uppercase inputs are accepted as-is. Mixed-case inputs
// must carry a valid EIP-55 checksum.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != 42 || (s[:2] != "0x" && s[:2] != "0X") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	body := s[2:]
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	lower, upper := strings.ToLower(body), strings.ToUpper(body)
	if body != lower && body != upper && checksum(lower) != body {
		return "", fmt.Errorf("%w: bad checksum %q", ErrInvalidAddress, s)
	}
	return Address("0x" + body), nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) IsZero() bool { return a == "" }

// Equal reports whether a and b name the same account. Absent addresses never match.
func (a Address) Equal(b Address) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	return strings.EqualFold(string(a), string(b))
}

// Checksum returns the EIP-55 mixed-case rendering of a.
func (a Address) Checksum() string {
	if len(a) != 42 {
		return string(a)
	}
	return "0x" + checksum(strings.ToLower(string(a[2:])))
}

func (a Address) String() string { return string(a) }

func checksum(lowerHex string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lowerHex))
	digest := h.Sum(nil)

	out := []byte(lowerHex)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}
