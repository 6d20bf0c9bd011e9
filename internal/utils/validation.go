// internal/utils/validation.go
package utils

import (
	"regexp"
	"strings"
)

// VINLength is the length of a modern (post-1981) vehicle identification number.
const VINLength = 17

// I, O and Q are never used in a VIN.
var vinPattern = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)

// NormalizeVIN upper-cases and trims a VIN, dropping inner spaces and dashes
// that people tend to paste in.
func NormalizeVIN(vin string) string {
	vin = strings.ToUpper(strings.TrimSpace(vin))
	return strings.NewReplacer(" ", "", "-", "").Replace(vin)
}

// ValidateVIN checks the character set and length of an already normalised VIN.
func ValidateVIN(vin string) error {
	if len(vin) != VINLength {
		return NewError(ErrCodeInvalidVIN, "invalid VIN: expected 17 characters").
			WithContext("vin", vin).
			WithContext("length", len(vin)).
			Build()
	}
	if !vinPattern.MatchString(vin) {
		return NewError(ErrCodeInvalidVIN, "invalid VIN: contains characters outside [A-HJ-NPR-Z0-9]").
			WithContext("vin", vin).
			Build()
	}
	return nil
}

