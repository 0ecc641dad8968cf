// Package field holds per-field format rules for extracted identity data.
package field

import (
	"regexp"
	"strings"
)

// Well-known field names produced by the extraction templates.
const (
	AadhaarNumber  = "aadhaarNumber"
	PANNumber      = "panNumber"
	PassportNumber = "passportNumber"
	VisaNumber     = "visaNumber"
)

var (
	aadhaarCompact = regexp.MustCompile(`^\d{12}$`)
	aadhaarSpaced  = regexp.MustCompile(`^\d{4} \d{4} \d{4}$`)
	panRegex       = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	passportRegex  = regexp.MustCompile(`^[A-Z0-9]{6,9}$`)
	isoDateRegex   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

var critical = map[string]struct{}{
	AadhaarNumber:  {},
	PANNumber:      {},
	PassportNumber: {},
	VisaNumber:     {},
}

// IsCritical reports whether the field is a primary identifier held to the stricter threshold.
func IsCritical(name string) bool {
	_, ok := critical[name]
	return ok
}

// Validate checks the value against the rule for the field name.
// Fields without a rule are always valid. Values are never modified.
func Validate(name, value string) bool {
	switch {
	case name == AadhaarNumber:
		return ValidAadhaar(value)
	case name == PANNumber:
		return ValidPAN(value)
	case IsDateField(name):
		return ValidISODate(value)
	case name == PassportNumber:
		return ValidPassport(value)
	default:
		return true
	}
}

// ValidAadhaar accepts 12 digits, compact or grouped 4-4-4 with single spaces.
func ValidAadhaar(v string) bool {
	return aadhaarCompact.MatchString(v) || aadhaarSpaced.MatchString(v)
}

// ValidPAN accepts five letters, four digits and a letter, case-insensitively.
func ValidPAN(v string) bool {
	return panRegex.MatchString(strings.ToUpper(v))
}

// ValidPassport accepts 6-9 uppercase alphanumerics.
func ValidPassport(v string) bool {
	return passportRegex.MatchString(v)
}

// ValidISODate accepts YYYY-MM-DD. Only the shape is checked, not calendar validity.
func ValidISODate(v string) bool {
	return isoDateRegex.MatchString(v)
}

// IsDateField reports whether the name denotes a date (dateOfBirth, expiryDate, ...).
func IsDateField(name string) bool {
	return strings.Contains(name, "Date") || strings.Contains(name, "OfBirth")
}
