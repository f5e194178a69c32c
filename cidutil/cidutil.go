package cidutil

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Sum returns the CIDv1 (raw + sha2-256) of data. This is the id every
// evidence store derives for bytes it writes itself.
func Sum(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// String is Sum rendered in its default base32 form, or "" on error.
func String(data []byte) string {
	id, err := Sum(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// Verifiable reports whether id can be checked against bytes directly.
// Only raw-codec ids qualify; a dag-pb id names a UnixFS graph, not the bytes.
func Verifiable(id cid.Cid) bool {
	return id.Defined() && id.Type() == cid.Raw
}

// Matches reports whether data hashes to id under id's own prefix.
// Ids that are not Verifiable always match.
func Matches(id cid.Cid, data []byte) (bool, error) {
	if !Verifiable(id) {
		return true, nil
	}
	got, err := id.Prefix().Sum(data)
	if err != nil {
		return false, err
	}
	return got.Equals(id), nil
}
