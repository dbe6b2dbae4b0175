// Package pipeline orchestrates one delivery attempt: reserve a candidate,
// fetch its payload, fingerprint it, consult the duplicate index, deliver or
// reject, and record the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/walldrop/walldrop/internal/catalog"
	"github.com/walldrop/walldrop/internal/dedup"
	"github.com/walldrop/walldrop/internal/fingerprint"
	"github.com/walldrop/walldrop/internal/metrics"
)

// Config controls Runner behavior.
type Config struct {
	// TempDir holds in-flight payload files. Empty means os.TempDir.
	TempDir string
	// InterSendPause separates the preview send from the archival send to
	// respect platform rate limits.
	InterSendPause time.Duration
	// SimilarityThreshold is the Hamming distance below which a payload is a
	// near duplicate. <= 0 falls back to fingerprint.DefaultThreshold.
	SimilarityThreshold int
	// OutcomeRetries is how many extra times a failed outcome write is
	// retried. An outcome write after a completed delivery must not be lost.
	OutcomeRetries int
	// OutcomeBackoff separates outcome write retries.
	OutcomeBackoff time.Duration
}

// Runner executes delivery attempts against a single shared store.
type Runner struct {
	store     catalog.Store
	fetcher   catalog.Fetcher
	deliverer catalog.Deliverer
	ids       catalog.IDGenerator
	clock     catalog.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Runner.
func New(
	store catalog.Store,
	fetcher catalog.Fetcher,
	deliverer catalog.Deliverer,
	ids catalog.IDGenerator,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.InterSendPause <= 0 {
		cfg.InterSendPause = 5 * time.Second
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = fingerprint.DefaultThreshold
	}
	if cfg.OutcomeRetries < 0 {
		cfg.OutcomeRetries = 0
	}
	if cfg.OutcomeBackoff <= 0 {
		cfg.OutcomeBackoff = time.Second
	}
	return &Runner{
		store:     store,
		fetcher:   fetcher,
		deliverer: deliverer,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// RunOnce performs at most one delivery attempt for the destination. Every
// terminal condition is absorbed here: the scheduler never sees an error from
// an attempt, only the item's recorded state does.
//
// A canceled context is honored only at the top; once an attempt has reserved
// an item it runs to completion so a payload is never half-delivered. The
// scheduler drains in-flight attempts on shutdown.
func (r *Runner) RunOnce(ctx context.Context, dest catalog.Destination) {
	if ctx.Err() != nil {
		r.logger.Info("shutdown requested, skipping attempt", zap.String("destination", dest.Name))
		return
	}
	ctx = context.WithoutCancel(ctx)

	item, ok, err := r.store.Reserve(ctx, dest.Categories)
	if err != nil {
		// Store unavailable on read: no candidate this tick, retried on the
		// next firing.
		r.logger.Error("candidate selection failed",
			zap.String("destination", dest.Name), zap.Error(err))
		metrics.ObserveAttempt(dest.Name, "store_error")
		return
	}
	if !ok {
		r.logger.Debug("no eligible pending items",
			zap.String("destination", dest.Name),
			zap.Strings("categories", dest.Categories))
		return
	}

	log := r.logger.With(
		zap.String("destination", dest.Name),
		zap.String("source_url", item.SourceURL),
	)

	path, err := r.payloadPath(item)
	if err != nil {
		log.Error("payload path generation failed", zap.Error(err))
		r.releaseQuietly(ctx, item, log)
		return
	}
	defer os.Remove(path) // released on every exit path

	size, err := r.fetcher.FetchToFile(ctx, item.ContentURL, path)
	if err != nil {
		log.Warn("payload fetch failed", zap.Error(err))
		r.record(ctx, dest, item, catalog.Outcome{
			Status: catalog.StatusFailed,
			Reason: catalog.FetchFailed(err),
		}, log)
		return
	}
	metrics.AddFetchedBytes(size)

	exact, perceptual, err := fingerprintFile(path)
	if err != nil {
		log.Warn("fingerprinting failed", zap.Error(err))
		r.record(ctx, dest, item, catalog.Outcome{
			Status: catalog.StatusFailed,
			Reason: catalog.FingerprintFailed(err),
		}, log)
		return
	}

	records, err := r.store.Fingerprints(ctx)
	if err != nil {
		// Without the index we cannot rule out a duplicate; put the item back
		// and let a later tick retry the whole attempt.
		log.Error("fingerprint snapshot failed", zap.Error(err))
		metrics.ObserveAttempt(dest.Name, "store_error")
		r.releaseQuietly(ctx, item, log)
		return
	}

	match := dedup.New(records, r.cfg.SimilarityThreshold).Find(exact, perceptual)
	if match.Kind != dedup.None {
		metrics.ObserveDuplicate(match.Kind.String())
		r.record(ctx, dest, item, catalog.Outcome{
			Status:         catalog.StatusSkipped,
			Reason:         matchReason(match),
			ExactHash:      exact,
			PerceptualHash: perceptual,
		}, log)
		log.Info("duplicate skipped",
			zap.String("kind", match.Kind.String()),
			zap.String("matched", match.SourceURL),
			zap.Int("distance", match.Distance))
		return
	}

	receipt, err := r.deliver(ctx, dest, item, path)
	if err != nil {
		log.Error("delivery failed", zap.Error(err))
		r.record(ctx, dest, item, catalog.Outcome{
			Status: catalog.StatusFailed,
			Reason: catalog.DeliveryFailed(err),
		}, log)
		return
	}

	r.record(ctx, dest, item, catalog.Outcome{
		Status:         catalog.StatusPosted,
		ExactHash:      exact,
		PerceptualHash: perceptual,
		Receipt:        receipt,
	}, log)
	log.Info("wallpaper posted", zap.Int64("bytes", size))
}

// deliver performs the two-phase send. Both sends must succeed for the
// attempt to count.
func (r *Runner) deliver(ctx context.Context, dest catalog.Destination, item catalog.Item, path string) (*catalog.Receipt, error) {
	caption := Caption(item.Tags)

	start := r.clock.Now()
	preview, err := r.deliverer.SendPreview(ctx, dest.ChatID, path, caption)
	if err != nil {
		return nil, fmt.Errorf("preview send: %w", err)
	}
	metrics.ObserveSendDuration(dest.Name, "preview", r.clock.Now().Sub(start))

	time.Sleep(r.cfg.InterSendPause)

	start = r.clock.Now()
	archival, err := r.deliverer.SendArchival(ctx, dest.ChatID, path, "HD Download")
	if err != nil {
		return nil, fmt.Errorf("archival send: %w", err)
	}
	metrics.ObserveSendDuration(dest.Name, "archival", r.clock.Now().Sub(start))

	return &catalog.Receipt{Preview: preview, Archival: archival}, nil
}

// record persists the outcome with at-least-once semantics. A lost write
// after a completed delivery would resurrect the item and double-post it, so
// write failures are retried and the final failure is logged loudly.
func (r *Runner) record(ctx context.Context, dest catalog.Destination, item catalog.Item, outcome catalog.Outcome, log *zap.Logger) {
	var err error
	for attempt := 0; ; attempt++ {
		err = r.store.RecordOutcome(ctx, item.SourceURL, outcome)
		if err == nil || errors.Is(err, catalog.ErrTerminalItem) || errors.Is(err, catalog.ErrNotFound) {
			break
		}
		if attempt >= r.cfg.OutcomeRetries {
			break
		}
		log.Warn("outcome write failed, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
		time.Sleep(r.cfg.OutcomeBackoff)
	}
	switch {
	case err == nil:
		metrics.ObserveAttempt(dest.Name, string(outcome.Status))
	case errors.Is(err, catalog.ErrTerminalItem):
		log.Warn("outcome dropped: item already terminal", zap.Error(err))
	default:
		// The side effect (a delivered message) may now be unrecorded. This
		// is the one loud failure mode in the pipeline.
		log.Error("outcome write lost after retries; item state may disagree with the destination",
			zap.String("status", string(outcome.Status)), zap.Error(err))
		metrics.ObserveAttempt(dest.Name, "outcome_lost")
	}
}

func (r *Runner) releaseQuietly(ctx context.Context, item catalog.Item, log *zap.Logger) {
	if err := r.store.Release(ctx, item.SourceURL); err != nil {
		log.Warn("reservation release failed", zap.Error(err))
	}
}

func (r *Runner) payloadPath(item catalog.Item) (string, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate payload id: %w", err)
	}
	name := fmt.Sprintf("%s_%s%s", item.Category, id, filepath.Ext(item.ContentURL))
	return filepath.Join(r.cfg.TempDir, name), nil
}

// fingerprintFile computes both digests from the payload on disk. The exact
// digest streams the raw bytes; the perceptual digest re-reads and decodes.
func fingerprintFile(path string) (exact, perceptual string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("open payload: %w", err)
	}
	defer f.Close()

	exact, err = fingerprint.Exact(f)
	if err != nil {
		return "", "", err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return "", "", fmt.Errorf("rewind payload: %w", err)
	}
	perceptual, err = fingerprint.Perceptual(f)
	if err != nil {
		return "", "", err
	}
	return exact, perceptual, nil
}

func matchReason(m dedup.Match) *catalog.Reason {
	if m.Kind == dedup.Exact {
		return catalog.ExactDuplicate(m.SourceURL)
	}
	return catalog.NearDuplicate(m.SourceURL, m.Distance, m.SimilarityPercent)
}

// Caption renders item tags as a hashtag caption, mirroring what the catalog
// has always posted.
func Caption(tags []string) string {
	parts := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ReplaceAll(tag, " ", "")
		if tag == "" {
			continue
		}
		parts = append(parts, "#"+tag)
	}
	if len(parts) == 0 {
		return "#wallpaper"
	}
	return strings.Join(parts, " ")
}
