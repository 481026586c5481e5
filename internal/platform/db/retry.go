package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsTransient reports whether a Postgres error is safe to retry for reads.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return pgconn.SafeToRetry(err)
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return true
	}
	return strings.HasPrefix(pgErr.Code, "08")
}

// RetryRead runs a read-only fn up to attempts times while the error stays transient.
// Writes must not go through here; a failed write is surfaced to the caller.
func RetryRead[T any](ctx context.Context, attempts int, fn func(context.Context) (T, error)) (T, error) {
	if attempts <= 0 {
		attempts = 3
	}
	var (
		out T
		err error
	)
	backoff := 20 * time.Millisecond
	for i := 0; i < attempts; i++ {
		out, err = fn(ctx)
		if err == nil || !IsTransient(err) {
			return out, err
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return out, err
}

// IsUniqueViolation reports a unique-constraint failure (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
