// Package catalog defines the core types and ports for the wallpaper
// distribution engine: catalog items and their lifecycle, delivery
// destinations, and the interfaces the pipeline is wired against.
package catalog

import (
	"encoding/json"
	"time"
)

// Status tracks an item's position in the delivery lifecycle.
type Status string

// Lifecycle states. Pending is the only state an item can leave.
const (
	StatusPending Status = "pending"
	StatusPosted  Status = "posted"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusPosted, StatusSkipped, StatusFailed:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPosted, StatusSkipped, StatusFailed:
		return true
	default:
		return false
	}
}

// Item is one discovered wallpaper and its delivery state.
//
// SourceURL and ContentURL are each unique across the whole catalog. The two
// fingerprint fields are set together once a payload has been hashed, or not
// at all. Items are never deleted; skipped and failed entries remain for
// audit and so true duplicates are never re-selected.
type Item struct {
	SourceURL      string     `json:"wallpaper_url"`
	ContentURL     string     `json:"image_url"`
	Category       string     `json:"category"`
	Tags           []string   `json:"tags"`
	Status         Status     `json:"status"`
	ExactHash      string     `json:"sha256,omitempty"`
	PerceptualHash string     `json:"phash,omitempty"`
	Reason         *Reason    `json:"reason,omitempty"`
	Receipt        *Receipt   `json:"receipt,omitempty"`
	DiscoveredAt   time.Time  `json:"discovered_at,omitzero"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Receipt records the platform acknowledgments for a posted item. Both sends
// of a successful attempt are kept verbatim as returned by the platform.
type Receipt struct {
	Preview  json.RawMessage `json:"preview"`
	Archival json.RawMessage `json:"hd"`
}

// Destination is one delivery channel with its own cadence and category
// filter. The destination set is static configuration, read-only at runtime.
type Destination struct {
	Name       string
	ChatID     int64
	Categories []string
	Interval   time.Duration
}

// WantsCategory reports whether the destination accepts items of category.
func (d Destination) WantsCategory(category string) bool {
	for _, c := range d.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// FingerprintRecord is the duplicate index's view of one stored item.
type FingerprintRecord struct {
	SourceURL      string
	ExactHash      string
	PerceptualHash string
}
