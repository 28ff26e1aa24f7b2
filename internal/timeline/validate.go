package timeline

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"parc/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("filetype", func(fl validator.FieldLevel) bool {
		return domain.FileType(fl.Field().String()).Valid()
	})
	return v
}

// ValidationError reports an aggregate or document that fails required-shape checks.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "invalid simulation"
	}
	return "invalid simulation: " + strings.Join(e.Problems, "; ")
}

func newValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

// Validate checks an aggregate against its struct tags.
func Validate(r domain.SimulationResult) error {
	if err := validate.Struct(r); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return newValidationError(err.Error())
	}
	problems := make([]string, 0, len(verrs))
	for _, e := range verrs {
		problems = append(problems, formatFieldError(e))
	}
	return newValidationError(problems...)
}

func formatFieldError(e validator.FieldError) string {
	field := fieldPath(e.Namespace())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "filetype":
		return fmt.Sprintf("%s has unknown file type %q", field, e.Value())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// fieldPath drops the root type name: "SimulationResult.simulationTimeline[3].summary"
// becomes "simulationTimeline[3].summary".
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
