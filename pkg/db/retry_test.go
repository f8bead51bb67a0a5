package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/packclaim/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func fastPolicy(attempts uint) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestWithTxRetryRerunsWholeTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, conn.Exec(`CREATE TABLE counters (id INTEGER PRIMARY KEY, n INTEGER NOT NULL)`).Error)
	require.NoError(t, conn.Exec(`INSERT INTO counters (id, n) VALUES (1, 0)`).Error)

	calls := 0
	retries := 0
	policy := fastPolicy(5)
	policy.OnRetry = func(int, error) { retries++ }

	err := WithTxRetry(context.Background(), conn, policy, func(tx *gorm.DB) error {
		calls++
		if err := tx.Exec(`UPDATE counters SET n = n + 1 WHERE id = 1`).Error; err != nil {
			return err
		}
		if calls < 3 {
			return ErrConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)

	var n int
	require.NoError(t, conn.Raw(`SELECT n FROM counters WHERE id = 1`).Scan(&n).Error)
	assert.Equal(t, 1, n, "rolled back attempts must leave no writes")
}

func TestWithTxRetryStopsOnBusinessError(t *testing.T) {
	conn := dbtest.Open(t)
	sentinel := errors.New("already_claimed")

	calls := 0
	err := WithTxRetry(context.Background(), conn, fastPolicy(5), func(tx *gorm.DB) error {
		calls++
		return fmt.Errorf("claim: %w", sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestWithTxRetryGivesUpAfterMaxAttempts(t *testing.T) {
	conn := dbtest.Open(t)

	calls := 0
	err := WithTxRetry(context.Background(), conn, fastPolicy(3), func(tx *gorm.DB) error {
		calls++
		return ErrConflict
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 3, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "conflict", err: fmt.Errorf("apply: %w", ErrConflict), want: true},
		{name: "pg serialization", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "pg deadlock", err: &pgconn.PgError{Code: "40P01"}, want: true},
		{name: "pg unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "mysql deadlock", err: errors.New("Error 1213 (40001): Deadlock found"), want: true},
		{name: "sqlite busy", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: true},
		{name: "not found", err: gorm.ErrRecordNotFound, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: customers.customer_id")))
	assert.False(t, IsDuplicateKeyErr(errors.New("boom")))
}
