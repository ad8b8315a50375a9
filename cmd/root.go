package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/abhisek/mathbuddy/internal/config"
	"github.com/abhisek/mathbuddy/internal/logger"
	"github.com/abhisek/mathbuddy/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "mathbuddy",
	Short:         "Socratic math tutoring backend",
	Long:          "mathbuddy serves the photo-to-dialogue math tutoring API: problem analysis, guided dialogue rounds, learning reports and stats.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Populate the environment before viper and the LLM config read it.
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Database DSN: SQLite path or postgres:// URL (overrides MATHBUDDY_DATABASE_DSN)")
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (default: ./mathbuddy.yaml if present)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dbInitCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(llmCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and environment, then applies --db.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Database.DSN, err = resolveDSN(cmd, cfg.Database.DSN); err != nil {
		return nil, fmt.Errorf("resolve database: %w", err)
	}
	return cfg, nil
}

// resolveDSN returns the database DSN using --db (highest priority), then
// the configured DSN, then the default XDG path.
func resolveDSN(cmd *cobra.Command, configured string) (string, error) {
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		return p, store.EnsureDir(p)
	}
	if configured != "" {
		return configured, store.EnsureDir(configured)
	}
	return store.DefaultDBPath()
}

// openStore opens the database selected by flags and config, for commands
// that need nothing else.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return s, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log.WithHashSalt(cfg.Log.HashSalt), nil
}
