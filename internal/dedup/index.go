// Package dedup answers whether freshly fingerprinted content is already in
// the catalog, either byte-identical or visually near-identical.
package dedup

import (
	"github.com/walldrop/walldrop/internal/catalog"
	"github.com/walldrop/walldrop/internal/fingerprint"
)

// Kind classifies a duplicate lookup result.
type Kind int

// Lookup results, from cheapest to most expensive to establish.
const (
	None Kind = iota
	Exact
	Near
)

// String names the kind for logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case Exact:
		return "exact"
	case Near:
		return "near"
	default:
		return "none"
	}
}

// Match is the outcome of one duplicate lookup. Distance and
// SimilarityPercent are meaningful only for Near.
type Match struct {
	Kind              Kind
	SourceURL         string
	Distance          int
	SimilarityPercent float64
}

// Index is a point-in-time view over the catalog's fingerprints. It is cheap
// to rebuild and is reconstructed from the store before each lookup rather
// than kept in sync incrementally.
type Index struct {
	threshold  int
	exact      map[string]string
	perceptual []record
}

type record struct {
	sourceURL string
	hash      string
}

// New builds an index over the given records. A threshold <= 0 falls back to
// fingerprint.DefaultThreshold. Record order is preserved: the perceptual
// scan in Find walks records in the order given here.
func New(records []catalog.FingerprintRecord, threshold int) *Index {
	if threshold <= 0 {
		threshold = fingerprint.DefaultThreshold
	}
	ix := &Index{
		threshold:  threshold,
		exact:      make(map[string]string, len(records)),
		perceptual: make([]record, 0, len(records)),
	}
	for _, r := range records {
		if r.ExactHash == "" || r.PerceptualHash == "" {
			continue
		}
		if _, ok := ix.exact[r.ExactHash]; !ok {
			ix.exact[r.ExactHash] = r.SourceURL
		}
		ix.perceptual = append(ix.perceptual, record{sourceURL: r.SourceURL, hash: r.PerceptualHash})
	}
	return ix
}

// Len returns the number of indexed items.
func (ix *Index) Len() int {
	return len(ix.perceptual)
}

// Find looks up the digests of a new payload. The exact hash is checked
// first: any stored item sharing it wins regardless of perceptual distance.
// Otherwise every stored perceptual digest is scanned in index order and the
// first one strictly under the threshold is returned; a distance equal to the
// threshold is not a match. The scan is O(n) and the reported near match is
// scan-order dependent when several stored items sit under the threshold.
func (ix *Index) Find(exactHash, perceptualHash string) Match {
	if src, ok := ix.exact[exactHash]; ok {
		return Match{Kind: Exact, SourceURL: src}
	}
	for _, rec := range ix.perceptual {
		d, err := fingerprint.Distance(perceptualHash, rec.hash)
		if err != nil {
			// A stored digest of an unexpected shape cannot vote.
			continue
		}
		if d < ix.threshold {
			return Match{
				Kind:              Near,
				SourceURL:         rec.sourceURL,
				Distance:          d,
				SimilarityPercent: fingerprint.SimilarityPercent(d, fingerprint.HashBits),
			}
		}
	}
	return Match{Kind: None}
}
