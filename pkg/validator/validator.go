package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// Message renders a human readable description of the failure.
func (v ValidationError) Message() string {
	field := strings.ToLower(strings.ReplaceAll(v.Field, "_", " "))
	if field == "" {
		field = "field"
	}

	switch v.Tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, v.Param)
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, v.Param)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, v.Param)
	case "datetime":
		return fmt.Sprintf("%s must match %s", field, v.Param)
	default:
		if v.Param != "" {
			return fmt.Sprintf("%s failed validation: %s=%s", field, v.Tag, v.Param)
		}
		return fmt.Sprintf("%s failed validation: %s", field, v.Tag)
	}
}

// ValidationErrors collects multiple validation failures.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	parts := make([]string, len(v))
	for i, err := range v {
		if err.Param != "" {
			parts[i] = err.Field + " failed on " + err.Tag + "=" + err.Param
		} else {
			parts[i] = err.Field + " failed on " + err.Tag
		}
	}
	return strings.Join(parts, "; ")
}

// Messages joins the human readable failures into a single sentence list.
func (v ValidationErrors) Messages() string {
	if len(v) == 0 {
		return "invalid request payload"
	}
	messages := make([]string, len(v))
	for i, failure := range v {
		messages[i] = failure.Message()
	}
	return strings.Join(messages, "; ")
}

// Describe returns a client-safe message for any error produced by ValidateStruct.
func Describe(err error) string {
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ve.Messages()
	}
	return "invalid request payload"
}

// ValidateStruct validates a struct using registered rules.
func ValidateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		failures := make(ValidationErrors, 0, len(ve))
		for _, fe := range ve {
			failures = append(failures, ValidationError{
				Field: fieldPath(fe),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			})
		}
		return failures
	}

	return err
}

// RegisterValidation exposes underlying validator custom rules.
func RegisterValidation(tag string, fn validator.Func) error {
	return getValidator().RegisterValidation(tag, fn)
}

// fieldPath keeps the index for slice elements validated through dive,
// e.g. notify_risk_levels[1].
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx != -1 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if name == "" {
				return fld.Name
			}

			comma := strings.Index(name, ",")
			if comma != -1 {
				name = name[:comma]
			}

			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}
