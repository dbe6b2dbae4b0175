package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/walldrop/walldrop/internal/catalog"
	"github.com/walldrop/walldrop/internal/clock/system"
	"github.com/walldrop/walldrop/internal/config"
	"github.com/walldrop/walldrop/internal/fetch"
	"github.com/walldrop/walldrop/internal/id/uuid"
	"github.com/walldrop/walldrop/internal/logging"
	"github.com/walldrop/walldrop/internal/metrics"
	"github.com/walldrop/walldrop/internal/pipeline"
	"github.com/walldrop/walldrop/internal/store/flatfile"
	"github.com/walldrop/walldrop/internal/store/postgres"
	"github.com/walldrop/walldrop/internal/telegram"
)

// runtime bundles the wired service graph for a command invocation.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	store  catalog.Store
	runner *pipeline.Runner

	closers []func()
}

// buildRuntime loads config and wires the store, delivery client, and
// pipeline.
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}

	metrics.Init()

	rt := &runtime{cfg: cfg, logger: logger}
	rt.closers = append(rt.closers, func() {
		logger.Sync() //nolint:errcheck // best-effort flush
	})

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.store = store
	if closeStore != nil {
		rt.closers = append(rt.closers, closeStore)
	}

	deliverer, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		BaseURL:        cfg.Telegram.BaseURL,
		Timeout:        time.Duration(cfg.Telegram.TimeoutSeconds) * time.Second,
		SendsPerSecond: cfg.Telegram.SendsPerSecond,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("init telegram client: %w", err)
	}

	fetcher := fetch.New(fetch.Config{
		Timeout:   time.Duration(cfg.Pipeline.FetchTimeoutSec) * time.Second,
		MaxBytes:  cfg.Pipeline.MaxFetchBytes,
		UserAgent: cfg.Harvest.UserAgent,
	})

	rt.runner = pipeline.New(store, fetcher, deliverer, uuid.New(), system.New(), pipeline.Config{
		TempDir:             cfg.Pipeline.TempDir,
		InterSendPause:      time.Duration(cfg.Pipeline.InterSendPauseSec) * time.Second,
		SimilarityThreshold: cfg.Pipeline.SimilarityThreshold,
		OutcomeRetries:      cfg.Pipeline.OutcomeRetries,
	}, logger)

	return rt, nil
}

func buildStore(ctx context.Context, cfg config.Config) (catalog.Store, func(), error) {
	switch cfg.Store.Provider {
	case "flatfile":
		store, err := flatfile.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open flatfile store: %w", err)
		}
		return store, nil, nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:   cfg.Store.DSN,
			Table: cfg.Store.Table,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres store: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store provider %q", cfg.Store.Provider)
	}
}

// readyCheck probes the store the way the pipeline reads it.
func (r *runtime) readyCheck(ctx context.Context) error {
	_, err := r.store.Fingerprints(ctx)
	return err
}

// Close releases wired resources in reverse order.
func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}
