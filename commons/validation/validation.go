// Package validation validates request DTOs with go-playground/validator and
// reports failures per field, named after the JSON field.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/go-playground/validator.v9"
)

// ValidationError represents a validation error with field and message details.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
	Value   any    `json:"-"`
}

// Error implements the error interface
func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}

	return e.Message
}

// ValidationErrors is every field failure of one struct.
type ValidationErrors []ValidationError

// Error joins the field failures.
func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Error()
	}

	return strings.Join(msgs, "; ")
}

// Fields maps each failing field to its message.
func (e ValidationErrors) Fields() map[string]string {
	out := make(map[string]string, len(e))
	for _, fe := range e {
		out[fe.Field] = fe.Message
	}

	return out
}

var (
	once     sync.Once
	validate *validator.Validate

	policyNumberRegex = regexp.MustCompile(`^POL-[0-9]{3,}$`)
	currencyRegex     = regexp.MustCompile(`^[A-Z]{3}$`)
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(jsonFieldName)

		_ = validate.RegisterValidation("policynumber", matches(policyNumberRegex))
		_ = validate.RegisterValidation("currency", matches(currencyRegex))
	})

	return validate
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]

	switch name {
	case "-":
		return ""
	case "":
		return fld.Name
	default:
		return name
	}
}

func matches(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// RegisterCustomValidator adds a tag whose rule is fn applied to the field value.
func RegisterCustomValidator(tag string, fn func(value any) bool) error {
	if tag == "" || fn == nil {
		return errors.New("validator tag and function are required")
	}

	return instance().RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return fn(fl.Field().Interface())
	})
}

// ValidateStruct checks s against its `validate` tags. It returns nil or ValidationErrors.
func ValidateStruct(s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid validation target: %w", err)
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: message(fe),
			Value:   fe.Value(),
		})
	}

	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "email":
		return "must be a valid email address"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "policynumber":
		return "must look like POL-123"
	case "currency":
		return "must be an ISO 4217 currency code"
	default:
		return "failed the " + fe.Tag() + " rule"
	}
}
