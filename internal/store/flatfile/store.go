// Package flatfile persists the catalog as a JSON array on disk, the same
// document-per-item shape the harvester has always produced. It suits
// single-process deployments; saves go through a temp file and an atomic
// rename so a crash mid-write never truncates the catalog.
package flatfile

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/walldrop/walldrop/internal/catalog"
)

// Store is a mutex-guarded catalog store backed by one JSON file.
// Reservations live in memory only: they are a coordination detail between
// concurrent destinations, not part of an item's persisted lifecycle.
type Store struct {
	mu       sync.Mutex
	path     string
	items    []catalog.Item
	bySource map[string]int
	byContent map[string]string
	reserved map[string]bool
	now      func() time.Time
}

// Open loads the catalog at path. A missing file is an empty catalog, not an
// error; the file is created on the first write.
func Open(path string) (*Store, error) {
	s := &Store{
		path:      path,
		bySource:  make(map[string]int),
		byContent: make(map[string]string),
		reserved:  make(map[string]bool),
		now:       func() time.Time { return time.Now().UTC() },
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.items); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for i := range s.items {
		if s.items[i].Status == "" {
			s.items[i].Status = catalog.StatusPending
		}
		s.bySource[s.items[i].SourceURL] = i
		s.byContent[s.items[i].ContentURL] = s.items[i].SourceURL
	}
	return s, nil
}

// Len returns the number of items in the catalog.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Append inserts a new pending item, rejecting duplicates on either unique
// key atomically.
func (s *Store) Append(_ context.Context, item catalog.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySource[item.SourceURL]; exists {
		return fmt.Errorf("source url %s: %w", item.SourceURL, catalog.ErrDuplicateItem)
	}
	if _, exists := s.byContent[item.ContentURL]; exists {
		return fmt.Errorf("content url %s: %w", item.ContentURL, catalog.ErrDuplicateItem)
	}

	item.Status = catalog.StatusPending
	if item.DiscoveredAt.IsZero() {
		item.DiscoveredAt = s.now()
	}
	s.items = append(s.items, item)
	s.bySource[item.SourceURL] = len(s.items) - 1
	s.byContent[item.ContentURL] = item.SourceURL
	return s.saveLocked()
}

// Reserve picks uniformly at random among unreserved pending items in the
// given categories and marks the choice in-flight before returning it.
func (s *Store) Reserve(_ context.Context, categories []string) (catalog.Item, bool, error) {
	wanted := make(map[string]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []int
	for i, item := range s.items {
		if item.Status != catalog.StatusPending || !wanted[item.Category] || s.reserved[item.SourceURL] {
			continue
		}
		eligible = append(eligible, i)
	}
	if len(eligible) == 0 {
		return catalog.Item{}, false, nil
	}

	pick := s.items[eligible[rand.IntN(len(eligible))]]
	s.reserved[pick.SourceURL] = true
	return pick, true, nil
}

// Release drops a reservation without a lifecycle transition.
func (s *Store) Release(_ context.Context, sourceURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, sourceURL)
	return nil
}

// RecordOutcome applies a forward-only transition and saves the catalog
// synchronously before returning.
func (s *Store) RecordOutcome(_ context.Context, sourceURL string, outcome catalog.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.bySource[sourceURL]
	if !ok {
		return fmt.Errorf("source url %s: %w", sourceURL, catalog.ErrNotFound)
	}
	item := &s.items[idx]
	if item.Status.Terminal() {
		return fmt.Errorf("source url %s is %s: %w", sourceURL, item.Status, catalog.ErrTerminalItem)
	}
	if !outcome.Status.Terminal() {
		return fmt.Errorf("outcome status %q is not terminal", outcome.Status)
	}

	item.Status = outcome.Status
	if outcome.Reason != nil {
		item.Reason = outcome.Reason
	}
	if outcome.ExactHash != "" {
		item.ExactHash = outcome.ExactHash
	}
	if outcome.PerceptualHash != "" {
		item.PerceptualHash = outcome.PerceptualHash
	}
	if outcome.Receipt != nil {
		item.Receipt = outcome.Receipt
	}
	resolved := s.now()
	item.ResolvedAt = &resolved

	delete(s.reserved, sourceURL)
	return s.saveLocked()
}

// Fingerprints returns the digest pairs of every fully fingerprinted item in
// insertion order.
func (s *Store) Fingerprints(_ context.Context) ([]catalog.FingerprintRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]catalog.FingerprintRecord, 0, len(s.items))
	for _, item := range s.items {
		if item.ExactHash == "" || item.PerceptualHash == "" {
			continue
		}
		records = append(records, catalog.FingerprintRecord{
			SourceURL:      item.SourceURL,
			ExactHash:      item.ExactHash,
			PerceptualHash: item.PerceptualHash,
		})
	}
	return records, nil
}

func (s *Store) saveLocked() error {
	raw, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".catalog-*.json")
	if err != nil {
		return fmt.Errorf("create temp catalog: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp catalog: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace catalog: %w", err)
	}
	return nil
}
