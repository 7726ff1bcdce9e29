package core

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"crewbook/internal/types"
)

// Validator wraps go-playground/validator and reports violations as
// structured AppErrors keyed by JSON field name.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator that reports field names from json tags.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// ValidateStruct validates dst and returns a validation_invalid_payload
// AppError with per-field detail on failure.
func (v *Validator) ValidateStruct(dst interface{}) error {
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid request", err)
	}

	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = "failed validation: " + fe.Tag()
	}
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidPayload,
		"request validation failed",
		err,
		details,
	)
}
