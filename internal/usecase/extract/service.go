// Package extract runs the multi-pass extraction of one guest ID document.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/guestid/internal/domain"
	"github.com/kailas-cloud/guestid/internal/domain/doctype"
	"github.com/kailas-cloud/guestid/internal/domain/extraction"
	"github.com/kailas-cloud/guestid/internal/metrics"
	"github.com/kailas-cloud/guestid/internal/usecase/retry"
)

// DefaultRefinementTarget is the confidence below which pass 2 re-reads a field.
const DefaultRefinementTarget = 95

// Request is a single extraction job. Immutable, single-use.
type Request struct {
	Image          domain.Image
	DocumentType   doctype.Type
	OrganizationID string
}

// Options tunes the orchestrator.
type Options struct {
	RefinementTarget int
	MaxOutputTokens  int
	Temperature      float32
	// ParallelEnrichment runs passes 2 and 3 concurrently; merge order stays 2 then 3.
	ParallelEnrichment bool
}

// Service orchestrates standard, refinement and handwriting passes.
type Service struct {
	model    domain.VisionModel
	admitter Admitter
	invoker  *retry.Invoker
	parser   Parser
	prompts  Prompts
	detector Detector
	opts     Options
	now      func() time.Time
	newID    func() string
	logger   *zap.Logger
}

// New creates an extraction Service.
func New(
	model domain.VisionModel,
	admitter Admitter,
	invoker *retry.Invoker,
	parser Parser,
	prompts Prompts,
	logger *zap.Logger,
) *Service {
	settings := domain.DefaultModelSettings()
	return &Service{
		model:    model,
		admitter: admitter,
		invoker:  invoker,
		parser:   parser,
		prompts:  prompts,
		opts: Options{
			RefinementTarget: DefaultRefinementTarget,
			MaxOutputTokens:  settings.MaxOutputTokens,
			Temperature:      settings.Temperature,
		},
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger,
	}
}

// WithDetector enables type detection for requests declared as unknown.
func (s *Service) WithDetector(d Detector) *Service {
	s.detector = d
	return s
}

// WithOptions overrides tuning. Zero values keep the current settings.
func (s *Service) WithOptions(o Options) *Service {
	if o.RefinementTarget > 0 {
		s.opts.RefinementTarget = o.RefinementTarget
	}
	if o.MaxOutputTokens > 0 {
		s.opts.MaxOutputTokens = o.MaxOutputTokens
	}
	if o.Temperature > 0 {
		s.opts.Temperature = o.Temperature
	}
	s.opts.ParallelEnrichment = o.ParallelEnrichment
	return s
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithIDGenerator replaces the run ID generator.
func (s *Service) WithIDGenerator(fn func() string) *Service {
	s.newID = fn
	return s
}

// Configured reports whether the vision model has credentials.
func (s *Service) Configured() bool {
	return s.model != nil && s.model.Configured()
}

// Extract runs all passes. It never returns an error: failures are reported in
// the result with Success=false and an empty field map.
func (s *Service) Extract(ctx context.Context, req Request) extraction.Result {
	id := s.newID()
	log := s.logger.With(
		zap.String("extraction_id", id),
		zap.String("organization_id", req.OrganizationID),
	)

	dt := req.DocumentType
	if dt == "" {
		dt = doctype.Unknown
	}

	if !s.Configured() {
		log.Error("Vision model credentials missing, extraction not attempted")
		return s.fail(extraction.Failed(id, dt, domain.ErrModelNotConfigured), "not_configured")
	}

	var passes []extraction.PassReport
	if dt.NeedsDetection() && s.detector != nil {
		det := s.detector.Detect(ctx, req.Image, req.OrganizationID)
		status := extraction.PassOK
		if det.Degraded() {
			status = extraction.PassFailed
		}
		passes = append(passes, extraction.PassReport{
			Pass:   extraction.PassDetection,
			Status: status,
			Error:  det.Error,
		})
		log.Info("Document type detected",
			zap.String("document_type", string(det.DocumentType)),
			zap.Int("confidence", det.Confidence),
		)
		dt = det.DocumentType
	}

	if !s.prompts.Has(dt) {
		log.Info("No dedicated template, using generic prompt", zap.String("document_type", string(dt)))
	}

	start := s.now()

	// Pass 1: full extraction. Any failure ends the run.
	fields, rep, err := s.runPass(ctx, req, dt, extraction.PassStandard, s.prompts.Extraction(dt))
	passes = append(passes, rep)
	if err != nil {
		log.Warn("Standard pass failed", zap.Error(err))
		res := extraction.Failed(id, dt, fmt.Errorf("%s pass: %w", extraction.PassStandard, err))
		res.Passes = passes
		res.ProcessingTimeMs = s.now().Sub(start).Milliseconds()
		return s.fail(res, "failed")
	}

	res := extraction.Result{ID: id, DocumentType: dt, Fields: fields}

	var refineRep, handRep extraction.PassReport
	if s.opts.ParallelEnrichment {
		refineRep, handRep = s.enrichParallel(ctx, req, dt, res.Fields, log)
	} else {
		refineRep = s.refine(ctx, req, dt, res.Fields, log)
		handRep = s.handwriting(ctx, req, dt, res.Fields, log)
	}
	passes = append(passes, refineRep, handRep)

	res.Passes = passes
	res.Recompute()
	res.ProcessingTimeMs = s.now().Sub(start).Milliseconds()
	res.Success = true

	flagged := res.FlaggedFields()
	metrics.ExtractionsTotal.WithLabelValues(string(dt), "success").Inc()
	metrics.FieldsFlaggedTotal.WithLabelValues(string(dt)).Add(float64(len(flagged)))
	metrics.OverallConfidence.WithLabelValues(string(dt)).Observe(float64(res.OverallConfidence))

	log.Info("Extraction completed",
		zap.String("document_type", string(dt)),
		zap.Int("fields", len(res.Fields)),
		zap.Strings("needs_verification", flagged),
		zap.Int("overall_confidence", res.OverallConfidence),
		zap.Int64("processing_time_ms", res.ProcessingTimeMs),
	)
	return res
}

// refine runs pass 2 against fields below the target and merges improvements into fields.
func (s *Service) refine(
	ctx context.Context, req Request, dt doctype.Type, fields extraction.Fields, log *zap.Logger,
) extraction.PassReport {
	candidates, rep := s.refineCandidates(ctx, req, dt, fields, log)
	if rep.Status == extraction.PassOK {
		rep.Fields = fields.Refine(candidates)
	}
	return rep
}

// refineCandidates performs the pass-2 call without touching fields.
func (s *Service) refineCandidates(
	ctx context.Context, req Request, dt doctype.Type, fields extraction.Fields, log *zap.Logger,
) (extraction.Fields, extraction.PassReport) {
	names := fields.Below(s.opts.RefinementTarget)
	if len(names) == 0 {
		rep := extraction.PassReport{Pass: extraction.PassRefinement, Status: extraction.PassSkipped}
		metrics.ExtractionPassesTotal.WithLabelValues(string(rep.Pass), string(rep.Status)).Inc()
		return nil, rep
	}

	refined, rep, err := s.runPass(ctx, req, dt, extraction.PassRefinement, s.prompts.Refinement(dt, fields, names))
	if err != nil {
		log.Warn("Refinement pass failed, keeping standard results", zap.Strings("fields", names), zap.Error(err))
		return nil, rep
	}

	// Only the requested fields are eligible.
	scoped := make(extraction.Fields, len(names))
	for _, n := range names {
		if f, ok := refined[n]; ok {
			scoped[n] = f
		}
	}
	return scoped, rep
}

// handwriting runs pass 3 and unions new names into fields.
func (s *Service) handwriting(
	ctx context.Context, req Request, dt doctype.Type, fields extraction.Fields, log *zap.Logger,
) extraction.PassReport {
	extra, rep := s.handwritingCandidates(ctx, req, dt, log)
	if rep.Status == extraction.PassOK {
		rep.Fields = fields.Union(extra)
	}
	return rep
}

func (s *Service) handwritingCandidates(
	ctx context.Context, req Request, dt doctype.Type, log *zap.Logger,
) (extraction.Fields, extraction.PassReport) {
	extra, rep, err := s.runPass(ctx, req, dt, extraction.PassHandwriting, s.prompts.Handwriting())
	if err != nil {
		log.Warn("Handwriting pass failed, continuing without it", zap.Error(err))
		return nil, rep
	}
	return extra, rep
}

// enrichParallel runs passes 2 and 3 concurrently against the pass-1 snapshot,
// then merges in fixed order so the outcome matches the sequential run.
func (s *Service) enrichParallel(
	ctx context.Context, req Request, dt doctype.Type, fields extraction.Fields, log *zap.Logger,
) (extraction.PassReport, extraction.PassReport) {
	var (
		g                  errgroup.Group
		refined, extra     extraction.Fields
		refineRep, handRep extraction.PassReport
	)
	g.Go(func() error {
		refined, refineRep = s.refineCandidates(ctx, req, dt, fields, log)
		return nil
	})
	g.Go(func() error {
		extra, handRep = s.handwritingCandidates(ctx, req, dt, log)
		return nil
	})
	_ = g.Wait()

	if refineRep.Status == extraction.PassOK {
		refineRep.Fields = fields.Refine(refined)
	}
	if handRep.Status == extraction.PassOK {
		handRep.Fields = fields.Union(extra)
	}
	return refineRep, handRep
}

// runPass is one gated, retried model call followed by parsing.
func (s *Service) runPass(
	ctx context.Context, req Request, dt doctype.Type, pass extraction.Pass, prompt string,
) (extraction.Fields, extraction.PassReport, error) {
	rep := extraction.PassReport{Pass: pass}
	fields, err := s.callAndParse(ctx, req, dt, pass, prompt, &rep)
	if err != nil {
		rep.Status = extraction.PassFailed
		rep.Error = err.Error()
	} else {
		rep.Status = extraction.PassOK
	}
	metrics.ExtractionPassesTotal.WithLabelValues(string(pass), string(rep.Status)).Inc()
	return fields, rep, err
}

func (s *Service) callAndParse(
	ctx context.Context, req Request, dt doctype.Type, pass extraction.Pass, prompt string,
	rep *extraction.PassReport,
) (extraction.Fields, error) {
	if !s.admitter.TryAdmit(ctx, req.OrganizationID) {
		return nil, domain.ErrAdmissionRejected
	}

	vr := domain.VisionRequest{
		Prompt:      prompt,
		Image:       req.Image,
		MaxTokens:   s.opts.MaxOutputTokens,
		Temperature: s.opts.Temperature,
		Pass:        string(pass),
	}
	r := retry.Do(ctx, s.invoker, func(ctx context.Context) (domain.VisionResponse, error) {
		return s.model.Complete(ctx, vr)
	})
	rep.Attempts = r.Attempts
	if !r.OK() {
		return nil, fmt.Errorf("model call failed after %d attempt(s): %w", r.Attempts, r.Err)
	}

	fields, err := s.parser.Parse(r.Value.Text, dt)
	if err != nil {
		return nil, err
	}
	return fields, nil
}

func (s *Service) fail(res extraction.Result, status string) extraction.Result {
	metrics.ExtractionsTotal.WithLabelValues(string(res.DocumentType), status).Inc()
	return res
}
