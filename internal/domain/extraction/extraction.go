// Package extraction holds the result model of a document extraction run.
package extraction

import (
	"math"
	"sort"

	"github.com/kailas-cloud/guestid/internal/domain/doctype"
)

// Confidence bounds.
const (
	MinConfidence = 0
	MaxConfidence = 100
)

// FieldExtraction is one extracted field.
type FieldExtraction struct {
	Name              string `json:"-"`
	Value             string `json:"value"`
	Confidence        int    `json:"confidence"`
	NeedsVerification bool   `json:"needsVerification"`
}

// Fields maps field name to extraction.
type Fields map[string]FieldExtraction

// Pass identifies an extraction pass.
type Pass string

// Extraction passes in execution order.
const (
	PassStandard    Pass = "standard"
	PassRefinement  Pass = "refinement"
	PassHandwriting Pass = "handwriting"
	PassDetection   Pass = "detection"
)

// PassStatus is the outcome of a single pass.
type PassStatus string

// Pass outcomes.
const (
	PassOK      PassStatus = "ok"
	PassSkipped PassStatus = "skipped"
	PassFailed  PassStatus = "failed"
)

// PassReport records what one pass did, for the audit trail.
type PassReport struct {
	Pass     Pass       `json:"pass"`
	Status   PassStatus `json:"status"`
	Fields   []string   `json:"fields,omitempty"`
	Attempts int        `json:"attempts,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Result is the outcome of an extraction run.
type Result struct {
	ID                string       `json:"id"`
	Success           bool         `json:"success"`
	DocumentType      doctype.Type `json:"documentType"`
	Fields            Fields       `json:"fields"`
	OverallConfidence int          `json:"overallConfidence"`
	ProcessingTimeMs  int64        `json:"processingTimeMs"`
	Error             string       `json:"error,omitempty"`
	Passes            []PassReport `json:"passes,omitempty"`
}

// Failed builds a storable failure shell: empty field map, zero confidence.
func Failed(id string, dt doctype.Type, err error) Result {
	r := Result{ID: id, DocumentType: dt, Fields: Fields{}}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Recompute refreshes OverallConfidence from the current field set.
func (r *Result) Recompute() {
	r.OverallConfidence = OverallConfidence(r.Fields)
}

// FlaggedFields returns the sorted names of fields needing manual verification.
func (r *Result) FlaggedFields() []string {
	var out []string
	for name, f := range r.Fields {
		if f.NeedsVerification {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ClampConfidence rounds and clamps a raw score to [0,100]. NaN becomes 0.
func ClampConfidence(v float64) int {
	if math.IsNaN(v) {
		return MinConfidence
	}
	r := math.Round(v)
	if r < MinConfidence {
		return MinConfidence
	}
	if r > MaxConfidence {
		return MaxConfidence
	}
	return int(r)
}

// OverallConfidence is the rounded unweighted mean of field confidences, 0 for no fields.
func OverallConfidence(fields Fields) int {
	if len(fields) == 0 {
		return 0
	}
	var sum int
	for _, f := range fields {
		sum += f.Confidence
	}
	return ClampConfidence(float64(sum) / float64(len(fields)))
}

// Below returns the sorted names of fields whose confidence is under target.
func (f Fields) Below(target int) []string {
	var out []string
	for name, fe := range f {
		if fe.Confidence < target {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Refine merges src into f: a field is replaced only when absent or when the new
// confidence is strictly greater. Returns the sorted names that changed.
func (f Fields) Refine(src Fields) []string {
	var changed []string
	for name, candidate := range src {
		cur, ok := f[name]
		if ok && candidate.Confidence <= cur.Confidence {
			continue
		}
		f[name] = candidate
		changed = append(changed, name)
	}
	sort.Strings(changed)
	return changed
}

// Union adds fields from src whose names are not yet present. Returns the sorted names added.
func (f Fields) Union(src Fields) []string {
	var added []string
	for name, candidate := range src {
		if _, ok := f[name]; ok {
			continue
		}
		f[name] = candidate
		added = append(added, name)
	}
	sort.Strings(added)
	return added
}
