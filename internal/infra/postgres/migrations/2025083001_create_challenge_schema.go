package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_challenge_schema.sql
var createChallengeSchemaSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createChallengeSchemaSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`
				DROP TABLE IF EXISTS topic_questions;
				DROP TABLE IF EXISTS abuse_signals;
				DROP TABLE IF EXISTS profiles;
				DROP TABLE IF EXISTS challenge_sessions`)
			return err
		},
	)
}
