package cli

import (
	"github.com/spf13/cobra"

	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
	_ "github.com/ramxx/tminus/internal/shared/infrastructure/database/postgres" // register driver
	_ "github.com/ramxx/tminus/internal/shared/infrastructure/database/sqlite"   // register driver
	"github.com/ramxx/tminus/internal/shared/infrastructure/migrations"
	"github.com/ramxx/tminus/pkg/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		conn, err := database.NewConnection(cmd.Context(), database.Config{
			Driver:     database.Driver(cfg.DatabaseDriver),
			URL:        cfg.DatabaseURL,
			SQLitePath: cfg.SQLitePath,
		})
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := migrations.Run(cmd.Context(), conn); err != nil {
			return err
		}
		log().Info("schema is up to date", "driver", conn.Driver().String())
		return nil
	},
}
