package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// Validate is the global validator instance
	Validate *validator.Validate

	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
	countryRegex  = regexp.MustCompile(`^[A-Z]{2}$`)
)

func init() {
	Validate = validator.New()

	_ = Validate.RegisterValidation("currency", validateCurrency)
	_ = Validate.RegisterValidation("country", validateCountry)
	_ = Validate.RegisterValidation("rule_type", validateRuleType)
	_ = Validate.RegisterValidation("alert_severity", validateAlertSeverity)
	_ = Validate.RegisterValidation("alert_status", validateAlertStatus)
}

// ValidateStruct validates a struct and returns a descriptive error if validation fails
func ValidateStruct(s interface{}) error {
	err := Validate.Struct(s)
	if err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return formatValidationErrors(validationErrors)
		}
		return err
	}
	return nil
}

func formatValidationErrors(errs validator.ValidationErrors) error {
	messages := make([]string, 0, len(errs))
	for _, fieldErr := range errs {
		messages = append(messages, fmt.Sprintf("field '%s' failed validation '%s'", fieldErr.Field(), fieldErr.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(messages, "; "))
}

// validateCurrency checks for an ISO 4217 style three-letter code
func validateCurrency(fl validator.FieldLevel) bool {
	return currencyRegex.MatchString(fl.Field().String())
}

// validateCountry checks for an ISO 3166-1 alpha-2 country code
func validateCountry(fl validator.FieldLevel) bool {
	return countryRegex.MatchString(fl.Field().String())
}

func validateRuleType(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "velocity", "amount", "location", "pattern", "device", "custom":
		return true
	}
	return false
}

func validateAlertSeverity(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "low", "medium", "high", "critical":
		return true
	}
	return false
}

func validateAlertStatus(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "open", "in_progress", "resolved", "closed":
		return true
	}
	return false
}
