package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oggyb/matchroom/internal/config"
	"github.com/oggyb/matchroom/internal/db"
	"github.com/oggyb/matchroom/internal/logger"
)

// NewSeedCmd creates the seed command. Seeding is an idempotent upsert, so
// it is safe to run repeatedly.
func NewSeedCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.New()
			logger.InitFromConfig(cfg)

			if !cmd.Flags().Changed("count") {
				count = cfg.Engine.DemoSeedCount
			}
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}

			database, err := db.NewDB(cfg)
			if err != nil {
				return fmt.Errorf("failed to init db: %w", err)
			}
			if sqlDB, err := database.DB(); err == nil {
				defer sqlDB.Close()
			}

			n, err := db.SeedDemoProfiles(cmd.Context(), database, count)
			if err != nil {
				return err
			}

			logger.Info("seeding completed", "count", n)
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d demo profiles.\n", n)
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "number of demo profiles (default DEMO_SEED_COUNT)")
	return cmd
}
