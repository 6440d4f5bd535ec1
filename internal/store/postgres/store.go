// Package postgres implements the billing repositories on database/sql with
// the pgx stdlib driver.
//
// Transactions travel in the context (see utils.WithTx); every method joins
// the caller's transaction when one is present. Outside a transaction each
// statement gets its own timeout and transient failures are retried.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"telecom-billing/internal/apperr"
	"telecom-billing/pkg/utils"
)

//go:embed schema.sql
var schema string

type Options struct {
	// QueryTimeout bounds one transaction or one standalone statement.
	QueryTimeout time.Duration
	Retry        utils.RetryPolicy
}

func (o Options) withDefaults() Options {
	out := o
	if out.QueryTimeout <= 0 {
		out.QueryTimeout = 5 * time.Second
	}
	return out
}

type Store struct {
	db   *sql.DB
	opts Options
}

func New(db *sql.DB, opts Options) *Store {
	return &Store{db: db, opts: opts.withDefaults()}
}

// Migrate creates missing tables and indexes. It is safe to run on every
// start.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return apperr.Wrap(apperr.KindTransient, "postgres: migrate", err)
	}
	return nil
}

// WithinTx runs fn in a read-committed transaction. A nested call joins the
// outer transaction; only the outermost one is retried on transient errors,
// so fn must be safe to run again from scratch.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := utils.TxFromContext(ctx); ok {
		return fn(ctx)
	}
	err := utils.Retry(ctx, s.opts.Retry, utils.IsTransientDBError, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
		defer cancel()
		return utils.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, fn)
	})
	return classify(err)
}

// run executes one unit of SQL against the caller's transaction, or against
// the pool with a timeout and retry when there is none.
func (s *Store) run(ctx context.Context, fn func(ctx context.Context, q utils.DBTX) error) error {
	if tx, ok := utils.TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	err := utils.Retry(ctx, s.opts.Retry, utils.IsTransientDBError, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
		defer cancel()
		return fn(ctx, s.db)
	})
	return classify(err)
}

// classify leaves domain errors untouched, marks exhausted transient
// database failures and reports check violations as validation errors.
func classify(err error) error {
	if err == nil || apperr.KindOf(err) != "" {
		return err
	}
	if utils.IsTransientDBError(err) {
		return apperr.Wrap(apperr.KindTransient, "postgres: transient failure", err)
	}
	if utils.IsCheckViolation(err) {
		return apperr.Wrap(apperr.KindValidation, "postgres: check constraint violated", err)
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}

func intPtr(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int32)
	return &n
}
