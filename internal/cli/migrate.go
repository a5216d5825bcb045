package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/dragon-marcel/mat-gwiazda/internal/config"
	"github.com/dragon-marcel/mat-gwiazda/internal/infra/postgres"
	pgmigrations "github.com/dragon-marcel/mat-gwiazda/internal/infra/postgres/migrations"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), *configPath)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rollback",
		Short: "Roll back the last migration group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rollbackMigrations(cmd.Context(), *configPath)
		},
	})
	return cmd
}

func runMigrations(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrateDB(ctx, db)
}

func rollbackMigrations(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return err
	}
	group, err := migrator.Rollback(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		log.Printf("no migrations to roll back")
		return nil
	}
	log.Printf("rolled back %s", group)
	return nil
}

func openDB(cfg config.Config) (*bun.DB, error) {
	if cfg.Postgres.URL == "" {
		return nil, fmt.Errorf("postgres url not configured")
	}
	return postgres.Open(cfg.Postgres.URL), nil
}

func migrateDB(ctx context.Context, db *bun.DB) error {
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		return err
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		log.Printf("database is up to date")
		return nil
	}
	log.Printf("migrations applied: %s", group)
	return nil
}
