package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/mathbuddy/internal/store"
)

var dbInitCmd = &cobra.Command{
	Use:   "db-init",
	Short: "Create database tables and indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Open migrates; running it again is a no-op.
		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		fmt.Printf("Database ready (%s): %d tables.\n", s.Dialect(), len(store.Tables))
		for _, t := range store.Tables {
			fmt.Println("  ", t)
		}
		return nil
	},
}
