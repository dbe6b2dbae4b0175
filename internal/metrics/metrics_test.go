package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIdempotentAndObserversSafe(t *testing.T) {
	Init()
	Init()

	// Observations must not panic once initialized.
	ObserveAttempt("scenic", "posted")
	ObserveDuplicate("near")
	AddFetchedBytes(2048)
	AddFetchedBytes(-1)
	ObserveSendDuration("scenic", "preview", 750*time.Millisecond)
	ObserveSkippedTick("scenic")
	ObserveHarvest("added")
}

func TestHandlerServesCollectors(t *testing.T) {
	Init()
	ObserveAttempt("scenic", "skipped")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "walldrop_attempts_total")
}
