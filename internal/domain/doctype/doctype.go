package doctype

import "strings"

// Type is the kind of identity document.
type Type string

// Document type constants.
const (
	AadhaarFront   Type = "aadhaar_front"
	AadhaarBack    Type = "aadhaar_back"
	PANCard        Type = "pan_card"
	Passport       Type = "passport"
	Visa           Type = "visa"
	DrivingLicense Type = "driving_license"
	VoterID        Type = "voter_id"
	NationalID     Type = "national_id"
	// Other is a recognized document without a dedicated template.
	Other Type = "other"
	// Unknown means the caller did not declare a type; detection runs first.
	Unknown Type = "unknown"
)

var all = []Type{
	AadhaarFront, AadhaarBack, PANCard, Passport, Visa,
	DrivingLicense, VoterID, NationalID, Other, Unknown,
}

// All returns every supported document type.
func All() []Type {
	out := make([]Type, len(all))
	copy(out, all)
	return out
}

// IsValid checks if the type is one of the supported values.
func (t Type) IsValid() bool {
	for _, v := range all {
		if t == v {
			return true
		}
	}
	return false
}

// Parse normalizes free-form input ("PAN_CARD", " passport ") to a Type.
// Anything unrecognized becomes Unknown.
func Parse(s string) Type {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if t.IsValid() {
		return t
	}
	return Unknown
}

// TemplateKey returns the prompt template key. Front and back sides share one template.
func (t Type) TemplateKey() string {
	s := string(t)
	s = strings.TrimSuffix(s, "_front")
	s = strings.TrimSuffix(s, "_back")
	return s
}

// NeedsDetection reports whether the type must be resolved by the detector before extraction.
func (t Type) NeedsDetection() bool {
	return t == Unknown || t == ""
}
