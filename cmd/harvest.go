package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/walldrop/walldrop/internal/harvest"
)

func newHarvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest",
		Short: "Discover new wallpapers on the catalog site",
		Long: `Walks the catalog site's listing pages, extracts wallpaper metadata and
the highest-resolution rendition, and appends anything new to the store as a
pending item. The walk ends when it catches up with a previous harvest.`,
		RunE: runHarvestCommand,
	}
}

func runHarvestCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	h := harvest.New(rt.store, harvest.Config{
		BaseURL:        rt.cfg.Harvest.BaseURL,
		UserAgent:      rt.cfg.Harvest.UserAgent,
		Delay:          time.Duration(rt.cfg.Harvest.DelayMs) * time.Millisecond,
		MaxPages:       rt.cfg.Harvest.MaxPages,
		StopAfterKnown: rt.cfg.Harvest.StopAfterKnown,
	}, rt.logger)

	if err := h.Run(ctx); err != nil {
		return err
	}
	rt.logger.Info("harvest finished", zap.String("base_url", rt.cfg.Harvest.BaseURL))
	return nil
}
