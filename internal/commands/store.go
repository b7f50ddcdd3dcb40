package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ndewijer/market-data-cache/internal/database"
)

var initStoreCmd = &cobra.Command{
	Use:   "init-store",
	Short: "Create or upgrade the cache store",
	Long: `Create the SQLite store and apply every pending schema migration.

Safe to run repeatedly; an up-to-date store is left untouched.`,
	RunE: runInitStore,
}

func init() {
	rootCmd.AddCommand(initStoreCmd)
}

func runInitStore(cmd *cobra.Command, _ []string) error {
	cfg, logger, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := database.Migrate(cmd.Context(), db)
	if err != nil {
		return err
	}
	current, _, err := database.SchemaVersion(cmd.Context(), db)
	if err != nil {
		return err
	}

	logger.Info("store initialized",
		zap.String("path", cfg.Database.Path),
		zap.Int("migrations_applied", applied),
		zap.Int64("schema_version", current))
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"path":              cfg.Database.Path,
		"migrationsApplied": applied,
		"schemaVersion":     current,
	})
}
