package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, StatusPending.Terminal())
	require.True(t, StatusPosted.Terminal())
	require.True(t, StatusSkipped.Terminal())
	require.True(t, StatusFailed.Terminal())
}

func TestStatusValid(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusPending, StatusPosted, StatusSkipped, StatusFailed} {
		require.True(t, s.Valid(), "status %q", s)
	}
	require.False(t, Status("reserved").Valid())
	require.False(t, Status("").Valid())
}

func TestDestinationWantsCategory(t *testing.T) {
	t.Parallel()

	d := Destination{Name: "scenic", Categories: []string{"nature", "space"}}
	require.True(t, d.WantsCategory("nature"))
	require.True(t, d.WantsCategory("space"))
	require.False(t, d.WantsCategory("anime"))
	require.False(t, Destination{}.WantsCategory("nature"))
}

func TestReasonString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", (*Reason)(nil).String())

	near := NearDuplicate("https://example.com/w/1", 3, 95.31)
	require.Equal(t, "near_duplicate: https://example.com/w/1 at distance 3 (95.31%)", near.String())

	exact := ExactDuplicate("https://example.com/w/2")
	require.Equal(t, "exact_duplicate: https://example.com/w/2", exact.String())

	fetch := FetchFailed(errFake("connection refused"))
	require.Equal(t, "fetch_failed: connection refused", fetch.String())
}

type errFake string

func (e errFake) Error() string { return string(e) }
