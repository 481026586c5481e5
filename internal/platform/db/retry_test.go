package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(&pgconn.PgError{Code: "40001"}))
	require.True(t, IsTransient(&pgconn.PgError{Code: "40P01"}))
	require.True(t, IsTransient(&pgconn.PgError{Code: "08006"}))
	require.False(t, IsTransient(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsTransient(errors.New("plain")))
}

func TestRetryReadStopsOnSuccess(t *testing.T) {
	calls := 0
	out, err := RetryRead(context.Background(), 3, func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, &pgconn.PgError{Code: "40001"}
		}
		return 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, out)
	require.Equal(t, 2, calls)
}

func TestRetryReadDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	_, err := RetryRead(context.Background(), 3, func(context.Context) (int, error) {
		calls++
		return 0, &pgconn.PgError{Code: "23505"}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, IsUniqueViolation(errors.New("plain")))
}
