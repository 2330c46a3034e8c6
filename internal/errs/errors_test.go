package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	cause := errors.New("boom")

	assert.Equal(t, "[parse] bad view", New(ErrKindParse, "bad view").Error())
	assert.Equal(t, "[query_failed] fetch types: boom", Wrap(ErrKindQueryFailed, "fetch types", cause).Error())
	assert.Equal(t, "[lineage] column a.b.c not found", Newf(ErrKindLineage, "column %s not found", "a.b.c").Error())
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", New(ErrKindNotFound, "x"), IsNotFound},
		{"timeout", New(ErrKindTimeout, "x"), IsTimeout},
		{"connection", New(ErrKindConnectionFailed, "x"), IsConnectionFailed},
		{"query", New(ErrKindQueryFailed, "x"), IsQueryFailed},
		{"invalid input", New(ErrKindInvalidInput, "x"), IsInvalidInput},
		{"permission", New(ErrKindPermissionDenied, "x"), IsPermissionDenied},
		{"type resolution", New(ErrKindTypeResolution, "x"), IsTypeResolution},
		{"parse", New(ErrKindParse, "x"), IsParse},
		{"lineage", New(ErrKindLineage, "x"), IsLineage},
		{"lineage cycle", New(ErrKindLineageCycle, "x"), IsLineageCycle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)), "predicate must see through wrapping")
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(ErrKindConnectionFailed, "ping failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrKindUnknown, KindOf(cause))
}
