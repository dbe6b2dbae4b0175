package catalog

import "fmt"

// ReasonKind tags the variant carried by a Reason.
type ReasonKind string

// Reason variants. Each skip or failure cause carries only the fields that
// matter for that cause.
const (
	ReasonExactDuplicate    ReasonKind = "exact_duplicate"
	ReasonNearDuplicate     ReasonKind = "near_duplicate"
	ReasonFetchFailed       ReasonKind = "fetch_failed"
	ReasonFingerprintFailed ReasonKind = "fingerprint_failed"
	ReasonDeliveryFailed    ReasonKind = "delivery_failed"
)

// Reason explains why an item ended up skipped or failed.
type Reason struct {
	Kind ReasonKind `json:"kind"`

	// MatchedSourceURL names the stored item a duplicate matched. Set for
	// both duplicate kinds.
	MatchedSourceURL string `json:"matched_source_url,omitempty"`

	// Distance and SimilarityPercent describe a near match.
	Distance          int     `json:"distance,omitempty"`
	SimilarityPercent float64 `json:"similarity_percent,omitempty"`

	// Cause holds the underlying error text for failure kinds.
	Cause string `json:"cause,omitempty"`
}

// ExactDuplicate builds the reason for an exact-hash match against matched.
func ExactDuplicate(matched string) *Reason {
	return &Reason{Kind: ReasonExactDuplicate, MatchedSourceURL: matched}
}

// NearDuplicate builds the reason for a perceptual match against matched.
func NearDuplicate(matched string, distance int, similarity float64) *Reason {
	return &Reason{
		Kind:              ReasonNearDuplicate,
		MatchedSourceURL:  matched,
		Distance:          distance,
		SimilarityPercent: similarity,
	}
}

// FetchFailed builds the reason for a payload download failure.
func FetchFailed(err error) *Reason {
	return &Reason{Kind: ReasonFetchFailed, Cause: errText(err)}
}

// FingerprintFailed builds the reason for a hash or decode failure.
func FingerprintFailed(err error) *Reason {
	return &Reason{Kind: ReasonFingerprintFailed, Cause: errText(err)}
}

// DeliveryFailed builds the reason for a rejected or timed-out send.
func DeliveryFailed(err error) *Reason {
	return &Reason{Kind: ReasonDeliveryFailed, Cause: errText(err)}
}

// String renders the reason for logs.
func (r *Reason) String() string {
	if r == nil {
		return ""
	}
	switch r.Kind {
	case ReasonNearDuplicate:
		return fmt.Sprintf("%s: %s at distance %d (%.2f%%)",
			r.Kind, r.MatchedSourceURL, r.Distance, r.SimilarityPercent)
	case ReasonExactDuplicate:
		return fmt.Sprintf("%s: %s", r.Kind, r.MatchedSourceURL)
	default:
		return fmt.Sprintf("%s: %s", r.Kind, r.Cause)
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
