package repository

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stitchhq/canvas-engine/common/errs"
)

const (
	transientAttempts = 3
	transientBackoff  = 100 * time.Millisecond
)

// SQLSTATE codes matched by name elsewhere in the package.
const (
	pgCodeUniqueViolation     = "23505"
	pgCodeForeignKeyViolation = "23503"
)

// pgErrCode returns the SQLSTATE of a Postgres error, or "" for nil and
// non-Postgres errors.
func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// withRetry runs fn, retrying transient store failures a bounded number of
// times before surfacing them as KindTransient. Logical errors (not found,
// state conflicts) pass through on the first attempt.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < transientAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(transientBackoff):
			}
		}
		if err = fn(); err == nil || !isTransient(err) {
			return err
		}
	}
	return errs.Wrap(errs.KindTransient, "store unavailable", err)
}

// isTransient classifies errors worth another attempt: connection-class and
// resource-class Postgres errors, serialization failures, deadlocks, and
// driver-level network errors.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P03":
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "53")
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
