package service

import (
	"context"
	"database/sql"
	"fmt"

	"custodia/pkg/platform/tx"
)

// passthroughTx is the no-op boundary used with the in-memory store, whose
// Execute already serializes under its own lock.
type passthroughTx struct{}

func (passthroughTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// SQLTx runs store calls inside one database transaction. Store methods pick
// the transaction up from the context.
type SQLTx struct {
	db *sql.DB
}

func NewSQLTx(db *sql.DB) *SQLTx {
	return &SQLTx{db: db}
}

func (s *SQLTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx.WithTx(ctx, dbTx)); err != nil {
		_ = dbTx.Rollback()
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
