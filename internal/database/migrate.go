package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"voice-gateway/pkg/logger"
	"voice-gateway/pkg/utils"
)

//go:embed schema.sql
var schema string

// Schema returns the embedded DDL.
func Schema() string { return schema }

// Migrate applies the schema in one transaction. Statements are idempotent, so running it
// against an up-to-date database is a no-op.
func Migrate(ctx context.Context, db *sql.DB) error {
	err := utils.WithTx(ctx, db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, schema)
		return err
	})
	if err != nil {
		return fmt.Errorf("database: migrate: %w", err)
	}
	logger.From(ctx).Info("schema applied")
	return nil
}
