package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/mathbuddy/internal/session"
	"github.com/abhisek/mathbuddy/internal/store"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Abandon active sessions with no activity for a while",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer log.Sync()

		s, err := store.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		svc := session.NewService(s.SessionRepo(), s.HistoryRepo(), nil, cfg.Dialogue.TotalRounds, log)
		n, err := svc.SweepStale(cmd.Context(), olderThan)
		if err != nil {
			return err
		}
		fmt.Printf("Abandoned %d stale session(s).\n", n)
		return nil
	},
}

func init() {
	sweepCmd.Flags().Duration("older-than", 24*time.Hour, "Abandon active sessions idle for longer than this")
}
