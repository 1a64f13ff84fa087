package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		repository, err := openRepository(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		repository.Close()
		return nil
	},
}
