package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/mathbuddy/internal/logger"
	"github.com/abhisek/mathbuddy/internal/stats"
	"github.com/abhisek/mathbuddy/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats <user-id>",
	Short: "Recompute and show learning statistics for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		loc, err := time.LoadLocation(cfg.Stats.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone: %w", err)
		}
		s, err := store.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		svc := stats.NewService(s.SessionRepo(), s.ReportRepo(), s.StatsRepo(), s.UserRepo(), loc, logger.Nop())
		st, err := svc.Recompute(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		achievement := st.Achievement
		if achievement == "" {
			achievement = "-"
		}
		fmt.Printf("User:               %s\n", args[0])
		fmt.Printf("Questions:          %d (%d completed)\n", st.TotalQuestions, st.CompletedSessions)
		fmt.Printf("Learning time:      %.1f min\n", st.TotalLearningMinutes)
		fmt.Printf("Average score:      %.1f\n", st.AverageScore)
		fmt.Printf("Streak:             %d days (longest %d)\n", st.CurrentStreak, st.LongestStreak)
		fmt.Printf("Active days:        %d\n", st.ActiveDays)
		fmt.Printf("Achievement:        %s\n", achievement)
		return nil
	},
}
