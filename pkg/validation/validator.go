package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// Validation constants
	MaxGrainTypeLength = 128
	MaxGrainIDLength   = 256
	MaxStateBytes      = 1 << 20
	MinCleanupAge      = time.Second

	// Key segments end up inside '/'-separated document keys
	keySegmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.:@+\-]+$`)
)

func init() {
	v, err := newValidator()
	if err != nil {
		panic(fmt.Sprintf("validation: %v", err))
	}
	validate = v
}

// newValidator builds a validator with the custom rules registered
func newValidator() (*validator.Validate, error) {
	v := validator.New()
	err := v.RegisterValidation("keysegment", func(fl validator.FieldLevel) bool {
		return keySegmentPattern.MatchString(fl.Field().String())
	})
	if err != nil {
		return nil, fmt.Errorf("register keysegment: %w", err)
	}
	return v, nil
}

// GrainRequest identifies one grain's state
type GrainRequest struct {
	GrainType string `json:"grainType" validate:"required,max=128,keysegment"`
	GrainID   string `json:"grainId" validate:"required,max=256,keysegment"`
}

// CleanupRequest asks for removal of silos that have not reported for OlderThan
type CleanupRequest struct {
	OlderThan time.Duration `json:"olderThan" validate:"required"`
}

// ValidateGrainRequest validates a grain type/ID pair
func ValidateGrainRequest(req *GrainRequest) error {
	if req == nil {
		return errors.New("grain request cannot be nil")
	}
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// ValidateCleanupRequest validates a defunct-silo cleanup request
func ValidateCleanupRequest(req *CleanupRequest) error {
	if req == nil {
		return errors.New("cleanup request cannot be nil")
	}
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	if req.OlderThan < MinCleanupAge {
		return fmt.Errorf("OlderThan: must be at least %v, got %v", MinCleanupAge, req.OlderThan)
	}
	return nil
}

// ValidateStateBody checks that a grain state payload is a JSON value of
// acceptable size
func ValidateStateBody(body []byte) error {
	if len(body) == 0 {
		return errors.New("state body cannot be empty")
	}
	if len(body) > MaxStateBytes {
		return fmt.Errorf("state body of %d bytes exceeds maximum of %d", len(body), MaxStateBytes)
	}
	if !json.Valid(body) {
		return errors.New("state body is not valid JSON")
	}
	return nil
}

// Struct validates any tagged struct and reports the first failure
func Struct(v any) error {
	return formatValidationError(validate.Struct(v))
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	// Return the first validation error in a user-friendly format
	for _, e := range validationErrs {
		field := e.Namespace()
		param := e.Param()

		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s]", field, param)
		case "keysegment":
			return fmt.Errorf("%s: %q contains invalid characters (letters, digits and _.:@+- allowed)", field, e.Value())
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}

	return err
}
