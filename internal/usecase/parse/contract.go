package parse

import "github.com/kailas-cloud/guestid/internal/domain/doctype"

// Classifier sets the needs-verification flag on parsed fields.
type Classifier interface {
	NeedsVerification(name string, confidence int, value string, dt doctype.Type) bool
}
