package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alist-sync/alist-sync-go/internal/scheduler"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Dry run: print a table of planned actions without executing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := newScheduler(ctx)
			if err != nil {
				return err
			}

			rows, err := s.RunCheck(ctx)
			if err != nil {
				return fmt.Errorf("check: %w", err)
			}

			return scheduler.PrintCheckReport(rows)
		},
	}
}
