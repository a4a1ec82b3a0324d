package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newTestConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-config",
		Short: "Parse and echo the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				fmt.Printf("configuration is INVALID: %v\n", err)
				return err
			}

			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal effective config: %w", err)
			}

			fmt.Println(string(data))
			fmt.Println("configuration is valid")
			return nil
		},
	}
}
