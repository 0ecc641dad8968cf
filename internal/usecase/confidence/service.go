// Package confidence decides which extracted fields need a human to verify them.
package confidence

import (
	"github.com/kailas-cloud/guestid/internal/domain/doctype"
	"github.com/kailas-cloud/guestid/internal/domain/field"
)

// Default thresholds.
const (
	DefaultStandardThreshold = 70
	DefaultCriticalThreshold = 85
)

// Thresholds is a pair of minimum confidences for regular and critical fields.
type Thresholds struct {
	Standard int
	Critical int
}

// DefaultThresholds returns 70/85.
func DefaultThresholds() Thresholds {
	return Thresholds{Standard: DefaultStandardThreshold, Critical: DefaultCriticalThreshold}
}

// Classifier flags fields whose confidence or format does not meet the bar.
type Classifier struct {
	defaults  Thresholds
	overrides map[doctype.Type]Thresholds
}

// New creates a Classifier. Zero values in t fall back to the defaults.
func New(t Thresholds) *Classifier {
	return &Classifier{defaults: withDefaults(t), overrides: map[doctype.Type]Thresholds{}}
}

// WithOverride sets thresholds for a single document type.
func (c *Classifier) WithOverride(dt doctype.Type, t Thresholds) *Classifier {
	base := c.defaults
	if t.Standard > 0 {
		base.Standard = t.Standard
	}
	if t.Critical > 0 {
		base.Critical = t.Critical
	}
	c.overrides[dt] = base
	return c
}

// ThresholdsFor returns the effective thresholds for a document type.
func (c *Classifier) ThresholdsFor(dt doctype.Type) Thresholds {
	if t, ok := c.overrides[dt]; ok {
		return t
	}
	return c.defaults
}

// NeedsVerification reports whether the field must be reviewed.
// Critical identifiers need the critical threshold and a valid format; others need the standard threshold.
func (c *Classifier) NeedsVerification(name string, confidence int, value string, dt doctype.Type) bool {
	t := c.ThresholdsFor(dt)
	if field.IsCritical(name) {
		return confidence < t.Critical || !field.Validate(name, value)
	}
	return confidence < t.Standard
}

func withDefaults(t Thresholds) Thresholds {
	if t.Standard <= 0 {
		t.Standard = DefaultStandardThreshold
	}
	if t.Critical <= 0 {
		t.Critical = DefaultCriticalThreshold
	}
	return t
}
