package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/koustreak/pgextract/internal/errs"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errs.ErrKind
	}{
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout},
		{"canceled wrapped", fmt.Errorf("acquire: %w", context.Canceled), errs.ErrKindTimeout},
		{"no rows", pgx.ErrNoRows, errs.ErrKindNotFound},
		{"permission", &pgconn.PgError{Code: "42501", Message: "permission denied for schema app"}, errs.ErrKindPermissionDenied},
		{"bad password", &pgconn.PgError{Code: "28P01"}, errs.ErrKindConnectionFailed},
		{"unknown database", &pgconn.PgError{Code: "3D000"}, errs.ErrKindNotFound},
		{"statement timeout", &pgconn.PgError{Code: "57014"}, errs.ErrKindTimeout},
		{"connection class", &pgconn.PgError{Code: "08006"}, errs.ErrKindConnectionFailed},
		{"syntax error", &pgconn.PgError{Code: "42601", Message: "syntax error"}, errs.ErrKindQueryFailed},
		{"network", errors.New("dial tcp: connection refused"), errs.ErrKindConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "op")
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestMapError_Nil(t *testing.T) {
	assert.Nil(t, mapError(nil, "op"))
}

func TestMapError_IncludesServerMessage(t *testing.T) {
	err := mapError(&pgconn.PgError{Code: "42601", Message: "syntax error at or near \"FROM\""}, "fetch types")
	assert.Contains(t, err.Message, "fetch types: syntax error")
}
