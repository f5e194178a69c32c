// Package bundle exports the evidence of one escrow contract as a
// deterministic TAR archive and imports such archives into a store.
//
// Layout:
//
//	manifest.json      contract address and per-milestone evidence ids
//	blocks/<cid>       the evidence bytes
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/escrowsync/cidutil"
	"xdao.co/escrowsync/escrow"
	"xdao.co/escrowsync/evidence"
)

// FormatVersion is the current manifest schema version.
const FormatVersion = 1

const manifestName = "manifest.json"

var epoch0 = time.Unix(0, 0).UTC()

// Manifest describes the contents of a bundle. It is informational; blocks
// are authenticated by their ids, not by the manifest.
type Manifest struct {
	Version    int             `json:"version"`
	Contract   string          `json:"contract"`
	Milestones []ManifestEntry `json:"milestones"`
}

type ManifestEntry struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	State       string `json:"state"`
	CID         string `json:"cid"`
	Size        int    `json:"size"`
}

// Export writes every evidence object referenced by snap's milestones.
//
// Output is byte-for-byte deterministic for the same snapshot and store
// contents: blocks are sorted by id and TAR headers are normalized.
func Export(ctx context.Context, w io.Writer, store evidence.Store, snap *escrow.Snapshot) (Manifest, error) {
	if store == nil {
		return Manifest{}, errors.New("bundle: nil store")
	}
	if snap == nil {
		return Manifest{}, errors.New("bundle: nil snapshot")
	}

	m := Manifest{Version: FormatVersion, Contract: strings.ToLower(string(snap.Contract))}
	blocks := map[string][]byte{}
	for i, ms := range snap.Milestones {
		if ms.EvidenceRef == "" {
			continue
		}
		id, err := cid.Decode(ms.EvidenceRef)
		if err != nil {
			return Manifest{}, fmt.Errorf("%w: milestone %d: %q", evidence.ErrInvalidCID, i, ms.EvidenceRef)
		}
		key := id.String()
		b, ok := blocks[key]
		if !ok {
			b, err = store.Get(ctx, id)
			if err != nil {
				return Manifest{}, fmt.Errorf("bundle: milestone %d: %w", i, err)
			}
			if ok, err := cidutil.Matches(id, b); err != nil || !ok {
				return Manifest{}, evidence.ErrCIDMismatch
			}
			blocks[key] = b
		}
		m.Milestones = append(m.Milestones, ManifestEntry{
			Index:       i,
			Description: ms.Description,
			State:       ms.State.String(),
			CID:         key,
			Size:        len(b),
		})
	}

	keys := make([]string, 0, len(blocks))
	for k := range blocks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tar.NewWriter(w)
	for _, k := range keys {
		if err := writeFile(tw, "blocks/"+k, blocks[k]); err != nil {
			_ = tw.Close()
			return Manifest{}, err
		}
	}
	mb, err := json.Marshal(m)
	if err != nil {
		_ = tw.Close()
		return Manifest{}, err
	}
	if err := writeFile(tw, manifestName, append(mb, '\n')); err != nil {
		_ = tw.Close()
		return Manifest{}, err
	}
	return m, tw.Close()
}

// ImportOptions controls Import.
type ImportOptions struct {
	// IgnoreUnknown skips unknown entries instead of failing.
	IgnoreUnknown bool
}

// Result reports what Import stored.
type Result struct {
	Manifest *Manifest
	// Stored maps each bundle block id to the id the destination assigned.
	// They are equal for raw-codec ids.
	Stored map[string]cid.Cid
}

// Import reads a bundle and writes every block into store.
//
// Raw-codec blocks must hash to their entry name, and the destination must
// store them under the same id.
func Import(ctx context.Context, r io.Reader, store evidence.Store, opts ImportOptions) (Result, error) {
	if store == nil {
		return Result{}, errors.New("bundle: nil store")
	}
	res := Result{Stored: map[string]cid.Cid{}}
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return res, fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return res, fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		if name == manifestName {
			var m Manifest
			if err := json.NewDecoder(tr).Decode(&m); err != nil {
				return res, fmt.Errorf("bundle: manifest: %w", err)
			}
			res.Manifest = &m
			continue
		}
		if !strings.HasPrefix(name, "blocks/") {
			if opts.IgnoreUnknown {
				continue
			}
			return res, fmt.Errorf("bundle: unknown entry: %s", name)
		}

		id, err := cid.Decode(strings.TrimPrefix(name, "blocks/"))
		if err != nil || !id.Defined() {
			return res, evidence.ErrInvalidCID
		}
		key := id.String()
		if _, dup := res.Stored[key]; dup {
			return res, fmt.Errorf("bundle: duplicate block entry: %s", key)
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return res, err
		}
		if ok, err := cidutil.Matches(id, payload); err != nil || !ok {
			return res, evidence.ErrCIDMismatch
		}
		got, err := store.Put(ctx, payload)
		if err != nil {
			return res, err
		}
		if cidutil.Verifiable(id) && !got.Equals(id) {
			return res, evidence.ErrCIDMismatch
		}
		res.Stored[key] = got
	}
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	parts := strings.Split(name, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
