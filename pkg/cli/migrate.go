package cli

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/spf13/cobra"

	"github.com/osspulse/pulse-engine/pkg/database"
)

var migrationsPath string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database schema migrations",
	Long: `Apply all pending schema migrations. Idempotent: already-applied
migrations are skipped, so running it again is always safe.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sqlDB, err := sql.Open("pgx", cfg.Database.URL())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() { _ = sqlDB.Close() }()

		return database.RunMigrations(sqlDB, migrationsPath, logger)
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsPath, "migrations", "migrations", "path to migration files")
}
