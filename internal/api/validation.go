package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/civicwatch/civicwatch/internal/database"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return database.Category(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		return database.Severity(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("incident_status", func(fl validator.FieldLevel) bool {
		return database.IncidentStatus(fl.Field().String()).IsValid()
	})
	return v
}

// Validate validates a struct using go-playground/validator tags.
// Returns nil on success or a map of JSON field path to error message.
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return map[string]string{"_": err.Error()}
	}

	errs := make(map[string]string, len(validationErrors))
	for _, fe := range validationErrors {
		errs[fieldPath(fe)] = validationMessage(fe)
	}
	return errs
}

// fieldPath drops the top-level struct name from the namespace,
// e.g. "MergeRequest.duplicate_ids[0]" becomes "duplicate_ids[0]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

// validationMessage returns a human-readable message for a validation error.
func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return boundMessage("at least", fe)
	case "max":
		return boundMessage("at most", fe)
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "url", "http_url":
		return "must be a valid URL"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "latitude":
		return "must be a latitude between -90 and 90"
	case "longitude":
		return "must be a longitude between -180 and 180"
	case "unique":
		return "must not contain duplicates"
	case "category":
		return "is not a known category"
	case "severity":
		return "must be one of: low medium high critical"
	case "incident_status":
		return "is not a known status"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func boundMessage(bound string, fe validator.FieldError) string {
	switch fe.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return fmt.Sprintf("must contain %s %s items", bound, fe.Param())
	case reflect.String:
		return fmt.Sprintf("must be %s %s characters", bound, fe.Param())
	default:
		return fmt.Sprintf("must be %s %s", bound, fe.Param())
	}
}
