// Package lifecycle drives stored guest documents through extraction.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/guestid/internal/domain"
	domlc "github.com/kailas-cloud/guestid/internal/domain/lifecycle"
	logpkg "github.com/kailas-cloud/guestid/internal/logger"
	"github.com/kailas-cloud/guestid/internal/usecase/extract"
)

// DefaultPersistTimeout bounds the write of a terminal status.
const DefaultPersistTimeout = 10 * time.Second

// Service applies extraction results to document status.
type Service struct {
	store          DocumentStore
	extractor      Extractor
	now            func() time.Time
	persistTimeout time.Duration
	logger         *zap.Logger
}

// New creates a lifecycle Service.
func New(store DocumentStore, extractor Extractor, logger *zap.Logger) *Service {
	return &Service{
		store:          store,
		extractor:      extractor,
		now:            time.Now,
		persistTimeout: DefaultPersistTimeout,
		logger:         logger,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Process moves a pending document to a terminal status. Documents uploaded with
// extraction disabled are skipped without a model call.
func (s *Service) Process(ctx context.Context, id string) (domlc.Document, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return domlc.Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	if doc.Status != domlc.Pending {
		return doc, fmt.Errorf("process %s in status %s: %w", id, doc.Status, domain.ErrInvalidTransition)
	}

	if !doc.ExtractionEnabled {
		if err := doc.Transition(domlc.Skipped, s.now()); err != nil {
			return doc, err
		}
		if err := s.persist(ctx, doc); err != nil {
			return doc, err
		}
		s.logger.Info("Extraction skipped", zap.String("document_id", id))
		return doc, nil
	}

	return s.run(ctx, doc)
}

// Retry re-runs the full pipeline on a failed document using the stored image.
func (s *Service) Retry(ctx context.Context, id string) (domlc.Document, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return domlc.Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	if doc.Status != domlc.Failed {
		return doc, fmt.Errorf("retry %s in status %s: %w", id, doc.Status, domain.ErrInvalidTransition)
	}
	s.logger.Info("Retrying extraction", zap.String("document_id", id), zap.Int("previous_attempts", doc.Attempts))
	return s.run(ctx, doc)
}

func (s *Service) run(ctx context.Context, doc domlc.Document) (domlc.Document, error) {
	ctx = logpkg.WithDocument(ctx, s.logger, doc.ID, doc.OrganizationID)
	log := logpkg.FromContext(ctx, s.logger)

	if err := doc.Transition(domlc.Processing, s.now()); err != nil {
		return doc, err
	}
	doc.Attempts++
	if err := s.store.Save(ctx, doc); err != nil {
		return doc, fmt.Errorf("save document %s: %w", doc.ID, err)
	}

	res := s.extractor.Extract(ctx, extract.Request{
		Image:          doc.Image,
		DocumentType:   doc.DeclaredType,
		OrganizationID: doc.OrganizationID,
	})
	doc.Result = &res

	if err := doc.Transition(domlc.StatusFor(res), s.now()); err != nil {
		return doc, err
	}
	// Model calls outlive the caller's deadline, so the terminal write must too.
	if err := s.persist(ctx, doc); err != nil {
		return doc, err
	}

	log.Info("Document processed",
		zap.String("status", string(doc.Status)),
		zap.Int("attempts", doc.Attempts),
		zap.String("error", res.Error),
	)
	return doc, nil
}

func (s *Service) persist(ctx context.Context, doc domlc.Document) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()
	if err := s.store.Save(ctx, doc); err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	return nil
}
