package cli

import (
	"adaptive-quiz-service/internal/config"
	"adaptive-quiz-service/internal/infra/postgres"
	"adaptive-quiz-service/internal/seed"
	"github.com/spf13/cobra"
)

// NewSeedCmd inserts the built-in question bank. Existing ids are kept, so
// running it twice is harmless.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed the question bank",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			if err := runMigrationsWithConfig(cmd.Context(), cfg, log); err != nil {
				return err
			}
			db := postgres.OpenBun(cfg.Postgres.URL)
			defer db.Close()

			inserted, err := postgres.SeedQuestions(cmd.Context(), db, seed.Questions())
			if err != nil {
				return err
			}
			log.Info("questions seeded", "inserted", inserted, "bank", len(seed.Questions()))
			return nil
		},
	}
}
