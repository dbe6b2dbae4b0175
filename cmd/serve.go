package cmd

import (
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/walldrop/walldrop/internal/ops"
	"github.com/walldrop/walldrop/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the delivery scheduler continuously",
		Long: `Starts one timer loop per configured destination and an ops HTTP
listener with health probes and Prometheus metrics. Runs until interrupted,
then drains in-flight deliveries before exiting.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	dests := rt.cfg.DestinationSet()
	sched := scheduler.New(rt.runner, dests, rt.logger)
	opsSrv := ops.NewServer(rt.cfg.Ops.Port, rt.readyCheck, rt.logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := opsSrv.Run(ctx); err != nil {
			rt.logger.Error("ops server failed", zap.Error(err))
		}
	}()

	rt.logger.Info("scheduler starting", zap.Int("destinations", len(dests)))
	sched.Run(ctx)
	wg.Wait()

	rt.logger.Info("serve command finished")
	return nil
}
