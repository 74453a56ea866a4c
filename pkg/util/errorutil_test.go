package util

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/escalation-service/internal/domain"
)

func TestToDomainErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{domain.ErrNotFound, "NOT_FOUND", http.StatusNotFound},
		{pgx.ErrNoRows, "NOT_FOUND", http.StatusNotFound},
		{fmt.Errorf("update: %w", domain.ErrWrongLevel), "NOT_AUTHORIZED", http.StatusForbidden},
		{domain.ErrInvalidSignature, "NOT_AUTHORIZED", http.StatusForbidden},
		{domain.ErrReportNotAllowed, "NOT_AUTHORIZED", http.StatusForbidden},
		{domain.ErrInvalidTransition, "INVALID_TRANSITION", http.StatusConflict},
		{domain.ErrStaleIssue, "INVALID_TRANSITION", http.StatusConflict},
		{errors.New("boom"), "INTERNAL_ERROR", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		de := ToDomainError(tc.err)
		assert.Equal(t, tc.code, de.Code, tc.err.Error())
		assert.Equal(t, tc.status, de.HTTPStatus, tc.err.Error())
	}
}

func TestNotAuthorizedDoesNotLeakReason(t *testing.T) {
	wrong := ToDomainError(domain.ErrWrongLevel)
	sig := ToDomainError(domain.ErrInvalidSignature)

	assert.Equal(t, wrong.Message, sig.Message)
	assert.Equal(t, "not authorized", wrong.Message)
	assert.True(t, errors.Is(wrong, domain.ErrWrongLevel))
}

func TestToDomainErrorPassesThrough(t *testing.T) {
	original := NewValidationError("bad", map[string]any{"field": "email"})
	de := ToDomainError(original)

	assert.Same(t, original, error(de))
	assert.Nil(t, ToDomainError(nil))
}

func TestNewValidationFailureListsFields(t *testing.T) {
	type payload struct {
		Email string `validate:"required,email"`
		Level int    `validate:"min=1,max=3"`
	}
	err := validator.New().Struct(payload{Email: "nope", Level: 7})

	de := ToDomainError(NewValidationFailure("invalid request", err))
	assert.Equal(t, "VALIDATION_FAILED", de.Code)
	assert.Equal(t, http.StatusBadRequest, de.HTTPStatus)
	assert.Equal(t, "email", de.Details["payload.Email"])
	assert.Equal(t, "max", de.Details["payload.Level"])
}
