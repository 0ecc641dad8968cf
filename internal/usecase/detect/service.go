// Package detect classifies an ID document image before extraction.
package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/guestid/internal/domain"
	"github.com/kailas-cloud/guestid/internal/domain/doctype"
	"github.com/kailas-cloud/guestid/internal/domain/extraction"
	"github.com/kailas-cloud/guestid/internal/usecase/parse"
)

const detectionSchema = `{
	"type": "object",
	"required": ["documentType"],
	"properties": {
		"documentType": {"type": "string", "minLength": 1},
		"confidence": {"type": ["number", "string", "null"]},
		"reasoning": {"type": ["string", "null"]},
		"alternativeTypes": {"type": ["array", "null"], "items": {"type": "string"}}
	}
}`

// Detection is the classifier's guess.
type Detection struct {
	DocumentType     doctype.Type   `json:"documentType"`
	Confidence       int            `json:"confidence"`
	Reasoning        string         `json:"reasoning"`
	AlternativeTypes []doctype.Type `json:"alternativeTypes"`
	// Error is set when the result is a fallback rather than the model's answer.
	Error string `json:"error,omitempty"`
}

// Degraded reports whether detection fell back because of a failure.
func (d Detection) Degraded() bool {
	return d.Error != ""
}

// Service runs single-call document type detection.
type Service struct {
	model       domain.VisionModel
	admitter    Admitter
	prompts     Prompts
	schema      *jsonschema.Schema
	maxTokens   int
	temperature float32
	timeout     time.Duration
	logger      *zap.Logger
}

// New creates a detection Service.
func New(model domain.VisionModel, admitter Admitter, prompts Prompts, logger *zap.Logger) (*Service, error) {
	schema, err := jsonschema.CompileString("detection.json", detectionSchema)
	if err != nil {
		return nil, fmt.Errorf("compile detection schema: %w", err)
	}
	settings := domain.DefaultModelSettings()
	return &Service{
		model:       model,
		admitter:    admitter,
		prompts:     prompts,
		schema:      schema,
		maxTokens:   settings.DetectionMaxTokens,
		temperature: settings.DetectionTemperature,
		timeout:     30 * time.Second,
		logger:      logger,
	}, nil
}

// WithTimeout bounds the single detection call.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Detect classifies the image. It never fails: any problem yields
// {other, 0, reason} so callers can always continue with the generic template.
func (s *Service) Detect(ctx context.Context, img domain.Image, orgID string) Detection {
	if s.model == nil || !s.model.Configured() {
		return degraded(domain.ErrModelNotConfigured)
	}
	if !s.admitter.TryAdmit(ctx, orgID) {
		return degraded(domain.ErrAdmissionRejected)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	resp, err := s.model.Complete(callCtx, domain.VisionRequest{
		Prompt:      s.prompts.Detection(),
		Image:       img,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Pass:        string(extraction.PassDetection),
	})
	if err != nil {
		s.logger.Warn("Document type detection failed", zap.String("organization_id", orgID), zap.Error(err))
		return degraded(err)
	}

	d, err := s.decode(resp.Text)
	if err != nil {
		s.logger.Warn("Unusable detection response", zap.String("organization_id", orgID), zap.Error(err))
		return degraded(err)
	}
	return d
}

type wireDetection struct {
	DocumentType     string   `json:"documentType"`
	Confidence       any      `json:"confidence"`
	Reasoning        string   `json:"reasoning"`
	AlternativeTypes []string `json:"alternativeTypes"`
}

func (s *Service) decode(raw string) (Detection, error) {
	if marker, ok := parse.IsRefusal(raw); ok {
		return Detection{}, fmt.Errorf("model refused (%q): %w", marker, domain.ErrParseFailure)
	}
	body := []byte(parse.StripCodeFence(raw))

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return Detection{}, fmt.Errorf("unmarshal detection: %v: %w", err, domain.ErrParseFailure)
	}
	if err := s.schema.Validate(v); err != nil {
		return Detection{}, fmt.Errorf("detection does not match schema: %v: %w", err, domain.ErrParseFailure)
	}

	var w wireDetection
	if err := json.Unmarshal(body, &w); err != nil {
		return Detection{}, fmt.Errorf("decode detection: %v: %w", err, domain.ErrParseFailure)
	}

	d := Detection{
		DocumentType: normalize(w.DocumentType),
		Confidence:   confidenceOf(w.Confidence),
		Reasoning:    w.Reasoning,
	}
	seen := map[doctype.Type]bool{d.DocumentType: true}
	for _, alt := range w.AlternativeTypes {
		t := normalize(alt)
		if seen[t] {
			continue
		}
		seen[t] = true
		d.AlternativeTypes = append(d.AlternativeTypes, t)
	}
	return d, nil
}

func normalize(s string) doctype.Type {
	t := doctype.Parse(strings.ReplaceAll(strings.TrimSpace(s), " ", "_"))
	if t == doctype.Unknown {
		return doctype.Other
	}
	return t
}

func confidenceOf(v any) int {
	switch c := v.(type) {
	case float64:
		return extraction.ClampConfidence(c)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(c), "%"), 64)
		if err != nil {
			return 0
		}
		return extraction.ClampConfidence(f)
	default:
		return 0
	}
}

func degraded(err error) Detection {
	return Detection{
		DocumentType: doctype.Other,
		Confidence:   0,
		Reasoning:    "document type detection unavailable: " + err.Error(),
		Error:        err.Error(),
	}
}
