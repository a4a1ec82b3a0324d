package main

import (
	"github.com/spf13/cobra"

	"github.com/alist-sync/alist-sync-go/internal/logging"
)

func newSyncCmd() *cobra.Command {
	var oneShot bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run the synchronization engine (daemon or one-shot per config)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.WithComponent("cli")

			s, err := newScheduler(ctx)
			if err != nil {
				return err
			}

			if oneShot || !cfg.Daemon {
				log.Info().Msg("running one-shot sync pass")
				summaries, err := s.RunOnce(ctx)
				for group, sum := range summaries {
					log.Info().Str("group", group).Msg(sum.String())
				}
				return err
			}

			log.Info().Msg("starting daemon")
			return s.RunDaemon(ctx)
		},
	}

	cmd.Flags().BoolVar(&oneShot, "once", false, "Run exactly one pass over every enabled sync group and exit, overriding daemon: true")

	return cmd
}
