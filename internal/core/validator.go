package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"lightalert/internal/types"
)

// Validator wraps go-playground/validator for request struct validation.
// Field names in error details come from the json tag, so clients see the
// wire name rather than the Go field name.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with json tag name resolution.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates s against its struct tags. Violations are
// returned as a single AppError carrying a field -> constraint map; required
// violations use the missing-field code so clients can distinguish them.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		// InvalidValidationError: the caller passed a non-struct.
		return types.NewAppError(types.ErrCodeInternalUnexpected, "invalid value passed to validator", err)
	}

	details := make(map[string]any, len(verrs))
	allRequired := true
	for _, fe := range verrs {
		constraint := fe.Tag()
		if fe.Param() != "" {
			constraint += "=" + fe.Param()
		}
		details[fe.Field()] = constraint
		if fe.Tag() != "required" {
			allRequired = false
		}
	}

	code := types.ErrCodeValidationFailed
	if allRequired {
		code = types.ErrCodeValidationMissingField
	}
	return types.NewAppErrorWithDetails(code, "request validation failed", err, details)
}
