package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alist-sync/alist-sync-go/internal/blacklist"
)

func newTestIgnoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-ignore PATH PATTERN",
		Short: "Evaluate one glob pattern against one path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, pattern := args[0], args[1]

			matcher := blacklist.Compile([]string{pattern}, nil)
			if matcher.Blocked(path) {
				fmt.Printf("%s matches %s: ignored\n", path, pattern)
			} else {
				fmt.Printf("%s does not match %s: not ignored\n", path, pattern)
			}
			return nil
		},
	}
}
