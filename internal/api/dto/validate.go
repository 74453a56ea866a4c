package dto

import (
	"github.com/go-playground/validator/v10"

	apperrors "github.com/spec-kit/escalation-service/pkg/util"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and returns a VALIDATION_FAILED error on failure.
func Validate(payload any) error {
	if err := validate.Struct(payload); err != nil {
		return apperrors.NewValidationFailure("invalid payload", err)
	}
	return nil
}
