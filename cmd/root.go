// Package cmd defines and implements the CLI commands for the walldrop
// executable.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "walldrop",
		Short: "Wallpaper catalog harvester and Telegram delivery service",
		Long: `walldrop harvests wallpapers from the catalog site, filters exact and
near duplicates with content fingerprints, and delivers fresh wallpapers to
Telegram chats on per-destination schedules.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newOnceCmd())
	cmd.AddCommand(newHarvestCmd())
	return cmd
}

// Execute runs the CLI with signal-aware cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}
