// Package validate wraps go-playground/validator for configuration structs.
// It is used by the task manager, the config loader and the manifest loader.
package validate

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/me/exportq/pkg/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct validates v against its `validate` tags.
// Failures are returned as a *model.InvalidConfigError naming section.
func Struct(section string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate %s: %w", section, err)
	}

	fields := make([]model.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, model.FieldError{
			Field:   fe.Namespace(),
			Message: describe(fe),
		})
	}
	return &model.InvalidConfigError{Section: section, Fields: fields}
}

// describe renders a validator failure as a short human message.
func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "url":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
