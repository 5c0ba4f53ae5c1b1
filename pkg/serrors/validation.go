package serrors

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// ValidationErrors collects per-field failures so a caller can surface all
// problems at once instead of failing on the first one.
type ValidationErrors map[string]*BaseError

func (v ValidationErrors) Error() string {
	for field, err := range v {
		return field + ": " + err.Error()
	}
	return "validation failed"
}

func (v ValidationErrors) Empty() bool { return len(v) == 0 }

// Add keeps the first error reported for a field.
func (v ValidationErrors) Add(field string, err *BaseError) {
	if _, ok := v[field]; ok {
		return
	}
	v[field] = err
}

// ProcessValidatorErrors converts go-playground/validator failures into
// field-keyed BaseErrors. getLocaleKey may be nil.
func ProcessValidatorErrors(err error, getLocaleKey func(field string) string) ValidationErrors {
	out := make(ValidationErrors)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return out
	}
	for _, fe := range fieldErrs {
		field := fe.Field()
		localeKey := ""
		if getLocaleKey != nil {
			localeKey = getLocaleKey(field)
		}
		switch fe.Tag() {
		case "required":
			out.Add(field, NewFieldRequiredError(field, localeKey))
		default:
			out.Add(field, NewError("FIELD_INVALID", field+" failed validation on '"+fe.Tag()+"'", localeKey))
		}
	}
	return out
}
