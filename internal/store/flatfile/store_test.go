package flatfile

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walldrop/walldrop/internal/catalog"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.json"))
	require.NoError(t, err)
	return s
}

func pendingItem(n string, category string) catalog.Item {
	return catalog.Item{
		SourceURL:  "https://example.com/w/" + n,
		ContentURL: "https://example.com/images/" + n + ".jpg",
		Category:   category,
		Tags:       []string{category, "4k"},
	}
}

func TestOpenMissingFileIsEmptyCatalog(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.Zero(t, s.Len())
}

func TestAppendRejectsDuplicateKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Append(ctx, pendingItem("a", "nature")))

	// Same source URL, fresh content URL.
	dup := pendingItem("a", "nature")
	dup.ContentURL = "https://example.com/images/other.jpg"
	require.ErrorIs(t, s.Append(ctx, dup), catalog.ErrDuplicateItem)

	// Fresh source URL, same content URL.
	dup = pendingItem("b", "nature")
	dup.ContentURL = "https://example.com/images/a.jpg"
	require.ErrorIs(t, s.Append(ctx, dup), catalog.ErrDuplicateItem)

	require.Equal(t, 1, s.Len())
}

func TestReserveFiltersByCategoryAndStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Append(ctx, pendingItem("nature-1", "nature")))
	require.NoError(t, s.Append(ctx, pendingItem("space-1", "space")))

	// Only the nature item is eligible for a nature-only destination, however
	// many times we draw.
	for i := 0; i < 20; i++ {
		item, ok, err := s.Reserve(ctx, []string{"nature"})
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "nature", item.Category)
		require.NoError(t, s.Release(ctx, item.SourceURL))
	}
}

func TestReserveExcludesTerminalItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Append(ctx, pendingItem("a", "nature")))
	require.NoError(t, s.RecordOutcome(ctx, "https://example.com/w/a", catalog.Outcome{
		Status: catalog.StatusFailed,
		Reason: catalog.FetchFailed(nil),
	}))

	_, ok, err := s.Reserve(ctx, []string{"nature"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReserveMarksItemInFlight(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Append(ctx, pendingItem("a", "nature")))

	first, ok, err := s.Reserve(ctx, []string{"nature"})
	require.NoError(t, err)
	require.True(t, ok)

	// A second destination racing for the same category must not get the
	// reserved item.
	_, ok, err = s.Reserve(ctx, []string{"nature"})
	require.NoError(t, err)
	require.False(t, ok)

	// Releasing puts it back in play.
	require.NoError(t, s.Release(ctx, first.SourceURL))
	_, ok, err = s.Reserve(ctx, []string{"nature"})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReserveNoEligibleIsNotAnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	_, ok, err := s.Reserve(ctx, []string{"nature"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecordOutcomePersistsFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.json")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, pendingItem("a", "nature")))

	receipt := &catalog.Receipt{Preview: []byte(`{"message_id":1}`), Archival: []byte(`{"message_id":2}`)}
	require.NoError(t, s.RecordOutcome(ctx, "https://example.com/w/a", catalog.Outcome{
		Status:         catalog.StatusPosted,
		ExactHash:      "deadbeef",
		PerceptualHash: "0f0f0f0f0f0f0f0f",
		Receipt:        receipt,
	}))

	// Reopen from disk: the outcome must have been written synchronously.
	reopened, err := Open(path)
	require.NoError(t, err)
	records, err := reopened.Fingerprints(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "deadbeef", records[0].ExactHash)
	require.Equal(t, "0f0f0f0f0f0f0f0f", records[0].PerceptualHash)

	_, ok, err := reopened.Reserve(ctx, []string{"nature"})
	require.NoError(t, err)
	require.False(t, ok, "posted item must not be selectable after reload")
}

func TestRecordOutcomeRejectsTerminalItem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Append(ctx, pendingItem("a", "nature")))
	require.NoError(t, s.RecordOutcome(ctx, "https://example.com/w/a", catalog.Outcome{
		Status: catalog.StatusSkipped,
		Reason: catalog.ExactDuplicate("https://example.com/w/other"),
	}))

	err := s.RecordOutcome(ctx, "https://example.com/w/a", catalog.Outcome{Status: catalog.StatusPosted})
	require.ErrorIs(t, err, catalog.ErrTerminalItem)

	// Status must be unchanged.
	records, err := s.Fingerprints(ctx)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestRecordOutcomeUnknownItem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	err := s.RecordOutcome(ctx, "https://example.com/w/ghost", catalog.Outcome{Status: catalog.StatusFailed})
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestRecordOutcomeRejectsNonTerminalStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Append(ctx, pendingItem("a", "nature")))
	err := s.RecordOutcome(ctx, "https://example.com/w/a", catalog.Outcome{Status: catalog.StatusPending})
	require.Error(t, err)
}

func TestFingerprintsSkipsPartialItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Append(ctx, pendingItem("a", "nature")))
	require.NoError(t, s.Append(ctx, pendingItem("b", "nature")))
	require.NoError(t, s.RecordOutcome(ctx, "https://example.com/w/b", catalog.Outcome{
		Status:         catalog.StatusPosted,
		ExactHash:      "cafe",
		PerceptualHash: "00000000000000ff",
	}))

	records, err := s.Fingerprints(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "https://example.com/w/b", records[0].SourceURL)
}
