package catalog

import (
	"context"
	"encoding/json"
	"time"
)

// Outcome bundles everything RecordOutcome persists in one transition.
type Outcome struct {
	Status         Status
	Reason         *Reason
	ExactHash      string
	PerceptualHash string
	Receipt        *Receipt
}

// Store persists catalog items and owns all lifecycle mutation. No caller
// writes item fields directly; every change goes through Append, Reserve,
// Release, or RecordOutcome.
type Store interface {
	// Append inserts a new pending item. It rejects atomically with
	// ErrDuplicateItem when either SourceURL or ContentURL already exists.
	Append(ctx context.Context, item Item) error

	// Reserve picks uniformly at random among pending items whose category is
	// in the given set and which are not already reserved, marks the choice
	// in-flight, and returns it. No eligible item yields ok == false, not an
	// error.
	Reserve(ctx context.Context, categories []string) (item Item, ok bool, err error)

	// Release drops a reservation without recording an outcome, making the
	// item selectable again.
	Release(ctx context.Context, sourceURL string) error

	// RecordOutcome applies a forward-only transition and persists it
	// synchronously. A terminal item is never modified; the call returns
	// ErrTerminalItem instead. The reservation on the item is cleared.
	RecordOutcome(ctx context.Context, sourceURL string, outcome Outcome) error

	// Fingerprints returns every stored (exact, perceptual) digest pair. Items
	// missing either digest are excluded.
	Fingerprints(ctx context.Context) ([]FingerprintRecord, error)
}

// Fetcher downloads a payload into a caller-owned local file.
type Fetcher interface {
	FetchToFile(ctx context.Context, url, dest string) (int64, error)
}

// Deliverer sends a payload to one destination. A successful attempt sends
// twice: a lightweight preview first, a full-resolution archival copy second.
type Deliverer interface {
	SendPreview(ctx context.Context, chatID int64, path, caption string) (json.RawMessage, error)
	SendArchival(ctx context.Context, chatID int64, path, caption string) (json.RawMessage, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers for scoped payload files.
type IDGenerator interface {
	NewID() (string, error)
}
