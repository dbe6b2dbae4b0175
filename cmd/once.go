package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/walldrop/walldrop/internal/autorun"
)

func newOnceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run one delivery pass per destination, then schedule the next run",
		Long: `Performs a single delivery attempt for every configured destination.
Afterwards the re-run driver either sleeps through a short gap and runs
another pass in-process, or hands the next invocation to the configured
external trigger command and exits.`,
		RunE: runOnceCommand,
	}
	cmd.Flags().Bool("no-reschedule", false, "exit after one pass without sleeping or triggering")
	return cmd
}

func runOnceCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	noReschedule, _ := cmd.Flags().GetBool("no-reschedule")

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	dests := rt.cfg.DestinationSet()
	driver := autorun.New(
		autorun.NewCommandTrigger(rt.cfg.Autorun.TriggerCommand, rt.logger),
		time.Duration(rt.cfg.Autorun.ThresholdSeconds)*time.Second,
		nil,
		rt.logger,
	)

	for {
		for _, dest := range dests {
			rt.runner.RunOnce(ctx, dest)
		}
		if noReschedule {
			rt.logger.Info("single pass finished, rescheduling disabled")
			return nil
		}
		if err := ctx.Err(); err != nil {
			rt.logger.Info("shutdown requested, skipping reschedule")
			return nil
		}

		rerun, err := driver.Next(ctx, dests)
		if err != nil {
			return err
		}
		if !rerun {
			rt.logger.Info("next run handed off, exiting")
			return nil
		}
		rt.logger.Info("starting follow-up pass", zap.Int("destinations", len(dests)))
	}
}
