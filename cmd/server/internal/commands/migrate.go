package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/leadlink/internal/logger"
	postgresstore "github.com/wolfeidau/leadlink/internal/store/postgres"
)

type MigrateCmd struct {
	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
}

func (c *MigrateCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	if err := c.Postgres.Validate(); err != nil {
		return err
	}

	pool, err := postgresstore.NewPool(ctx, c.Postgres.poolConfig())
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	if err := postgresstore.RunMigrations(ctx, pool); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Msg("Database migrations completed")
	return nil
}
