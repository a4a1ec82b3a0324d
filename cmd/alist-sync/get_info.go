package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newGetInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-info PATH",
		Short: "Stat a single upstream path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			client, ok := servers.ForURI(path)
			if !ok {
				return fmt.Errorf("get-info: no server registered for %q", path)
			}

			item, err := client.Stat(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("get-info: %w", err)
			}

			data, err := json.MarshalIndent(item, "", "  ")
			if err != nil {
				return fmt.Errorf("get-info: marshal item: %w", err)
			}

			fmt.Println(string(data))
			return nil
		},
	}
}
