package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walldrop/walldrop/internal/catalog"
)

const (
	digestZero  = "0000000000000000"
	digestNear  = "000000000000000f" // distance 4 from zero
	digestEdge  = "000000000000001f" // distance 5 from zero
	digestFar   = "00000000000000ff" // distance 8 from zero
	exactAlpha  = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	exactBravo  = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	exactNovel  = "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
	srcExisting = "https://example.com/w/existing"
)

func indexOf(records ...catalog.FingerprintRecord) *Index {
	return New(records, 5)
}

func TestFindExactMatchWinsOverDistance(t *testing.T) {
	t.Parallel()

	// The stored item is perceptually miles away; the shared exact hash must
	// still win, and must win before any scan happens.
	ix := indexOf(catalog.FingerprintRecord{
		SourceURL:      srcExisting,
		ExactHash:      exactAlpha,
		PerceptualHash: "ffffffffffffffff",
	})

	m := ix.Find(exactAlpha, digestZero)
	require.Equal(t, Exact, m.Kind)
	require.Equal(t, srcExisting, m.SourceURL)
}

func TestFindNearMatchUnderThreshold(t *testing.T) {
	t.Parallel()

	ix := indexOf(catalog.FingerprintRecord{
		SourceURL:      srcExisting,
		ExactHash:      exactAlpha,
		PerceptualHash: digestNear,
	})

	m := ix.Find(exactNovel, digestZero)
	require.Equal(t, Near, m.Kind)
	require.Equal(t, srcExisting, m.SourceURL)
	require.Equal(t, 4, m.Distance)
	require.InDelta(t, 93.75, m.SimilarityPercent, 1e-9)
}

func TestFindDistanceAtThresholdIsNone(t *testing.T) {
	t.Parallel()

	// Strict inequality: distance 5 against threshold 5 is not a match.
	ix := indexOf(catalog.FingerprintRecord{
		SourceURL:      srcExisting,
		ExactHash:      exactAlpha,
		PerceptualHash: digestEdge,
	})

	m := ix.Find(exactNovel, digestZero)
	require.Equal(t, None, m.Kind)
}

func TestFindNoMatch(t *testing.T) {
	t.Parallel()

	ix := indexOf(catalog.FingerprintRecord{
		SourceURL:      srcExisting,
		ExactHash:      exactAlpha,
		PerceptualHash: digestFar,
	})

	m := ix.Find(exactNovel, digestZero)
	require.Equal(t, None, m.Kind)
	require.Empty(t, m.SourceURL)
}

func TestFindFirstUnderThresholdWins(t *testing.T) {
	t.Parallel()

	// Two stored items sit under the threshold; the scan returns the first in
	// index order even though the second is strictly closer. The reported
	// match is scan-order dependent by design.
	ix := indexOf(
		catalog.FingerprintRecord{
			SourceURL:      "https://example.com/w/first",
			ExactHash:      exactAlpha,
			PerceptualHash: digestNear, // distance 4
		},
		catalog.FingerprintRecord{
			SourceURL:      "https://example.com/w/second",
			ExactHash:      exactBravo,
			PerceptualHash: digestZero, // distance 0
		},
	)

	m := ix.Find(exactNovel, digestZero)
	require.Equal(t, Near, m.Kind)
	require.Equal(t, "https://example.com/w/first", m.SourceURL)
	require.Equal(t, 4, m.Distance)
}

func TestFindSkipsMalformedStoredDigests(t *testing.T) {
	t.Parallel()

	ix := indexOf(
		catalog.FingerprintRecord{
			SourceURL:      "https://example.com/w/short",
			ExactHash:      exactAlpha,
			PerceptualHash: "0f", // wrong length, must not abort the scan
		},
		catalog.FingerprintRecord{
			SourceURL:      srcExisting,
			ExactHash:      exactBravo,
			PerceptualHash: digestNear,
		},
	)

	m := ix.Find(exactNovel, digestZero)
	require.Equal(t, Near, m.Kind)
	require.Equal(t, srcExisting, m.SourceURL)
}

func TestNewExcludesPartialRecords(t *testing.T) {
	t.Parallel()

	ix := indexOf(
		catalog.FingerprintRecord{SourceURL: "https://example.com/w/a", ExactHash: exactAlpha},
		catalog.FingerprintRecord{SourceURL: "https://example.com/w/b", PerceptualHash: digestZero},
	)
	require.Zero(t, ix.Len())
	require.Equal(t, None, ix.Find(exactAlpha, digestZero).Kind)
}

func TestKindString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "none", None.String())
	require.Equal(t, "exact", Exact.String())
	require.Equal(t, "near", Near.String())
}
