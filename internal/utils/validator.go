// internal/utils/validator.go
package utils

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/stellar/go/strkey"
)

var validate *validator.Validate

var assetCodePattern = regexp.MustCompile("^[a-zA-Z0-9]{1,12}$")

func init() {
	validate = validator.New()
	validate.RegisterValidation("stellar_address", validateStellarAddress)
	validate.RegisterValidation("asset_code", validateAssetCode)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// validateStellarAddress accepts G... account ids with a valid checksum.
func validateStellarAddress(fl validator.FieldLevel) bool {
	return strkey.IsValidEd25519PublicKey(fl.Field().String())
}

func validateAssetCode(fl validator.FieldLevel) bool {
	return assetCodePattern.MatchString(fl.Field().String())
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "oneof":
		return e.Field() + " must be one of: " + e.Param()
	case "len":
		return e.Field() + " must be " + e.Param() + " characters"
	case "hexadecimal":
		return e.Field() + " must be hexadecimal"
	case "stellar_address":
		return e.Field() + " must be a valid account id"
	case "asset_code":
		return e.Field() + " must be 1-12 letters or digits"
	default:
		return e.Field() + " is invalid"
	}
}
