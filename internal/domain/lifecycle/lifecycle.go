// Package lifecycle models the processing state of an uploaded guest document.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/kailas-cloud/guestid/internal/domain"
	"github.com/kailas-cloud/guestid/internal/domain/doctype"
	"github.com/kailas-cloud/guestid/internal/domain/extraction"
)

// Status is the extraction state of a stored document.
type Status string

// Document statuses.
const (
	Pending    Status = "pending"
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
	// Skipped means extraction was explicitly disabled for the upload.
	Skipped Status = "skipped"
)

var transitions = map[Status][]Status{
	Pending:    {Processing, Skipped},
	Processing: {Completed, Failed, Skipped},
	Failed:     {Processing},
}

// IsValid checks if the status is one of the supported values.
func (s Status) IsValid() bool {
	switch s {
	case Pending, Processing, Completed, Failed, Skipped:
		return true
	}
	return false
}

// IsTerminal reports whether no automatic transition leaves this status.
// Failed is terminal too; only an explicit retry moves it back to Processing.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Failed || s == Skipped
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Document is a stored guest ID upload as seen by the extraction pipeline.
type Document struct {
	ID                string
	OrganizationID    string
	DeclaredType      doctype.Type
	Status            Status
	Image             domain.Image
	ExtractionEnabled bool
	Result            *extraction.Result
	Attempts          int
	UpdatedAt         time.Time
}

// Transition moves the document to the next status or fails with domain.ErrInvalidTransition.
func (d *Document) Transition(to Status, now time.Time) error {
	if !CanTransition(d.Status, to) {
		return fmt.Errorf("%s -> %s: %w", d.Status, to, domain.ErrInvalidTransition)
	}
	d.Status = to
	d.UpdatedAt = now
	return nil
}

// StatusFor maps an extraction outcome to the terminal document status.
func StatusFor(r extraction.Result) Status {
	if r.Success {
		return Completed
	}
	return Failed
}
