package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/mercybot/mercybot/internal/model"
)

func TestMapError_Nil(t *testing.T) {
	t.Parallel()

	assert.NoError(t, mapError(nil, "user", "u1"))
}

func TestMapError_NoRows(t *testing.T) {
	t.Parallel()

	got := mapError(fmt.Errorf("scan row: %w", pgx.ErrNoRows), "conversation", "u1/c1")
	assert.ErrorIs(t, got, model.ErrNotFound)
	assert.Equal(t, "conversation u1/c1: not found", got.Error())
}

func TestMapError_PgCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code string
		want error
	}{
		{"unique_violation", "23505", model.ErrAlreadyExists},
		{"foreign_key_violation", "23503", model.ErrNotFound},
		{"check_violation", "23514", model.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := mapError(fmt.Errorf("insert: %w", &pgconn.PgError{Code: tt.code}), "user", "a@b.c")
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestMapError_PassThrough(t *testing.T) {
	t.Parallel()

	got := mapError(context.DeadlineExceeded, "user", "u1")
	assert.ErrorIs(t, got, context.DeadlineExceeded)
	assert.NotErrorIs(t, got, model.ErrNotFound)

	pgErr := &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}
	got = mapError(pgErr, "user", "u1")
	var unwrapped *pgconn.PgError
	assert.True(t, errors.As(got, &unwrapped))
	assert.NotErrorIs(t, got, model.ErrAlreadyExists)
}
