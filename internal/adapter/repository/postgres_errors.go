package repository

import (
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"classifieds/pkg/errors"
)

const pgUniqueViolation = "23505"

// mapPgError converts driver errors into AppErrors.
func mapPgError(err error, resource, message string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound(resource, err)
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return errors.Conflict(resource+" already exists", err)
	}
	return errors.Internal(message, err)
}
