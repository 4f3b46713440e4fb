package persistence

import (
	"context"
	"database/sql"
	"errors"

	"mailbridge/pkg/apperr"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// mapError converts driver errors into application errors.
func mapError(err error, resource string) error {
	if err == nil {
		return nil
	}
	if apperr.IsAppError(err) {
		return err
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return apperr.NotFound(resource)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Timeout("postgres " + resource).WithError(err)
	case errors.Is(err, context.Canceled):
		return apperr.Cancelled("postgres " + resource).WithError(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperr.Conflict(resource + " already exists").WithError(err).WithDetail("constraint", pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return apperr.BadRequest(resource + " references a missing row").WithError(err)
		}
		return apperr.InternalWithError(err)
	}

	return apperr.Unavailable("postgres", err)
}
