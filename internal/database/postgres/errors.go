package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/pgextract/internal/errs"
)

// PostgreSQL SQLSTATE codes the catalog reader cares about.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrInsufficientPrivilege = "42501"
	pgErrInvalidPassword       = "28P01"
	pgErrInvalidAuthorization  = "28000"
	pgErrInvalidCatalogName    = "3D000"
	pgErrInvalidSchemaName     = "3F000"
	pgErrUndefinedObject       = "42704"
	pgErrQueryCanceled         = "57014"
)

// mapError translates pgx / pgconn native errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errs.Wrap(kindForCode(pgErr.Code), fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	// TLS, network and dial failures surface without a SQLSTATE.
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

func kindForCode(code string) errs.ErrKind {
	switch code {
	case pgErrInsufficientPrivilege:
		return errs.ErrKindPermissionDenied
	case pgErrInvalidPassword, pgErrInvalidAuthorization:
		return errs.ErrKindConnectionFailed
	case pgErrInvalidCatalogName, pgErrInvalidSchemaName, pgErrUndefinedObject:
		return errs.ErrKindNotFound
	case pgErrQueryCanceled:
		return errs.ErrKindTimeout
	}
	// Class 08: connection exceptions
	if len(code) >= 2 && code[:2] == "08" {
		return errs.ErrKindConnectionFailed
	}
	return errs.ErrKindQueryFailed
}
