package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/reviewdeck/internal/config"
	"github.com/reviewdeck/internal/store"
)

// MigrateCommand returns the CLI command that applies the database schema.
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database schema",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("database url is required (set database.url or DATABASE_URL)")
			}

			pg, err := store.Open(cfg.Database.URL)
			if err != nil {
				return err
			}
			if err := pg.Migrate(c.Context); err != nil {
				return err
			}

			fmt.Println("Database schema is up to date")
			return nil
		},
	}
}
