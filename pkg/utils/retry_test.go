package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

func TestRetry_RetriesTransientUntilSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry, IsTransientDBError, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	attempts := 0
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "invoice_line_items_assignment_period_key"}
	err := Retry(context.Background(), fastRetry, IsTransientDBError, func(ctx context.Context) error {
		attempts++
		return fmt.Errorf("insert line: %w", dup)
	})
	assert.True(t, IsUniqueViolation(err))
	assert.Equal(t, "invoice_line_items_assignment_period_key", UniqueConstraint(err))
	assert.Equal(t, 1, attempts)
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry, IsTransientDBError, func(ctx context.Context) error {
		attempts++
		return &pgconn.PgError{Code: "08006"}
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestIsTransientDBError(t *testing.T) {
	assert.True(t, IsTransientDBError(&pgconn.PgError{Code: "40P01"}))
	assert.True(t, IsTransientDBError(context.DeadlineExceeded))
	assert.False(t, IsTransientDBError(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsTransientDBError(errors.New("syntax")))
	assert.False(t, IsTransientDBError(nil))
}
