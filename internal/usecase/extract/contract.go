package extract

import (
	"context"

	"github.com/kailas-cloud/guestid/internal/domain"
	"github.com/kailas-cloud/guestid/internal/domain/doctype"
	"github.com/kailas-cloud/guestid/internal/domain/extraction"
	"github.com/kailas-cloud/guestid/internal/usecase/detect"
)

// Admitter gates model calls per organization.
type Admitter interface {
	TryAdmit(ctx context.Context, orgID string) bool
}

// Parser turns model text into fields.
type Parser interface {
	Parse(raw string, dt doctype.Type) (extraction.Fields, error)
}

// Prompts provides the per-pass instructions.
type Prompts interface {
	Has(dt doctype.Type) bool
	Extraction(dt doctype.Type) string
	Refinement(dt doctype.Type, current extraction.Fields, names []string) string
	Handwriting() string
}

// Detector resolves undeclared document types.
type Detector interface {
	Detect(ctx context.Context, img domain.Image, orgID string) detect.Detection
}
