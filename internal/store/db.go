package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultMaxConns = 20
	uniqueViolation = "23505"
)

// ErrDuplicate marks writes rejected by a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

// Open connects through the pgx stdlib driver. maxConns <= 0 uses the default pool size.
func Open(ctx context.Context, databaseURL string, maxConns ...int) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	open := defaultMaxConns
	if len(maxConns) > 0 && maxConns[0] > 0 {
		open = maxConns[0]
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(max(open/2, 1))
	db.SetMaxOpenConns(open)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// WithTx runs fn inside a transaction, rolling back when fn fails.
func WithTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// wrapWrite wraps a failed write as "action: err", adding ErrDuplicate when a
// unique constraint rejected it.
func wrapWrite(action string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w (%s): %w", action, ErrDuplicate, pgErr.ConstraintName, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}
