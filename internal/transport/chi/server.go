package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/guestid/internal/domain"
	"github.com/kailas-cloud/guestid/internal/domain/extraction"
	domlc "github.com/kailas-cloud/guestid/internal/domain/lifecycle"
	"github.com/kailas-cloud/guestid/internal/usecase/admission"
	healthuc "github.com/kailas-cloud/guestid/internal/usecase/health"
	lifecycleuc "github.com/kailas-cloud/guestid/internal/usecase/lifecycle"
)

// ErrorCode is the machine-readable error code in ErrorResponse.
type ErrorCode string

// Error codes returned by the ops API.
const (
	ErrorCodeBadRequest        ErrorCode = "bad_request"
	ErrorCodeUnauthorized      ErrorCode = "unauthorized"
	ErrorCodeDocumentNotFound  ErrorCode = "document_not_found"
	ErrorCodeInvalidTransition ErrorCode = "invalid_transition"
	ErrorCodeQueueUnavailable  ErrorCode = "queue_unavailable"
	ErrorCodeInternalError     ErrorCode = "internal_error"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// RateLimitResponse describes an organization's admission window. Source is
// "shared" when the count comes from the store, "local" for this process only.
type RateLimitResponse struct {
	OrganizationID string     `json:"organizationId"`
	Limit          int        `json:"limit"`
	RequestCount   int        `json:"requestCount"`
	WindowStart    *time.Time `json:"windowStart,omitempty"`
	Source         string     `json:"source"`
}

// DocumentResponse is a stored document without its image bytes.
type DocumentResponse struct {
	ID             string             `json:"id"`
	OrganizationID string             `json:"organizationId"`
	DocumentType   string             `json:"documentType"`
	Status         string             `json:"status"`
	Attempts       int                `json:"attempts"`
	UpdatedAt      time.Time          `json:"updatedAt"`
	Result         *extraction.Result `json:"result,omitempty"`
}

// DocumentRepository loads and erases stored documents.
type DocumentRepository interface {
	Get(ctx context.Context, id string) (domlc.Document, error)
	Delete(ctx context.Context, id string) error
}

// JobQueue accepts background processing jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, job lifecycleuc.Job) error
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the operational API: health, metrics and admin actions.
type Server struct {
	health        *healthuc.Service
	admitter      *admission.Admitter
	documents     DocumentRepository
	jobs          JobQueue
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates the ops API server. documents and jobs may be nil; the
// document routes are then not mounted.
func NewServer(
	health *healthuc.Service,
	admitter *admission.Admitter,
	documents DocumentRepository,
	jobs JobQueue,
	logger *zap.Logger,
) *Server {
	s := &Server{
		health:    health,
		admitter:  admitter,
		documents: documents,
		jobs:      jobs,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, ErrorCodeDocumentNotFound),
		sentinelHandler(domain.ErrInvalidTransition, http.StatusConflict, ErrorCodeInvalidTransition),
		sentinelHandler(lifecycleuc.ErrQueueFull, http.StatusServiceUnavailable, ErrorCodeQueueUnavailable),
		sentinelHandler(lifecycleuc.ErrQueueClosed, http.StatusServiceUnavailable, ErrorCodeQueueUnavailable),
	}
	return s
}

// Mount registers the routes on r.
func (s *Server) Mount(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/organizations/{orgID}/rate-limit", s.GetRateLimit)
		r.Post("/organizations/{orgID}/rate-limit/reset", s.ResetRateLimit)

		if s.documents != nil && s.jobs != nil {
			r.Get("/documents/{documentID}", s.GetDocument)
			r.Delete("/documents/{documentID}", s.DeleteDocument)
			r.Post("/documents/{documentID}/process", s.ProcessDocument)
			r.Post("/documents/{documentID}/retry", s.RetryDocument)
		}
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// GetRateLimit handles GET /admin/organizations/{orgID}/rate-limit.
func (s *Server) GetRateLimit(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	u := s.admitter.Usage(r.Context(), orgID)
	writeJSON(w, http.StatusOK, RateLimitResponse{
		OrganizationID: orgID,
		Limit:          s.admitter.Limit(),
		RequestCount:   u.RequestCount,
		WindowStart:    u.WindowStart,
		Source:         u.Source,
	})
}

// ResetRateLimit handles POST /admin/organizations/{orgID}/rate-limit/reset.
func (s *Server) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "organization id is required")
		return
	}
	s.admitter.ResetOrganization(r.Context(), orgID)
	w.WriteHeader(http.StatusNoContent)
}

// GetDocument handles GET /admin/documents/{documentID}.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentToResponse(doc))
}

// DeleteDocument handles DELETE /admin/documents/{documentID}. Documents still
// being processed are kept so the worker's terminal write cannot resurrect them.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	doc, err := s.documents.Get(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if doc.Status == domlc.Processing {
		writeError(w, http.StatusConflict, ErrorCodeInvalidTransition, "document is processing")
		return
	}
	if err := s.documents.Delete(r.Context(), id); err != nil {
		s.handleDomainError(w, err)
		return
	}
	s.logger.Info("Document deleted", zap.String("document_id", id), zap.String("status", string(doc.Status)))
	w.WriteHeader(http.StatusNoContent)
}

// ProcessDocument handles POST /admin/documents/{documentID}/process.
func (s *Server) ProcessDocument(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, domlc.Pending, false)
}

// RetryDocument handles POST /admin/documents/{documentID}/retry.
func (s *Server) RetryDocument(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, domlc.Failed, true)
}

// enqueue checks the current status up front so callers get 409 instead of a silent
// background failure. The worker re-checks under its own read.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, want domlc.Status, retry bool) {
	id := chi.URLParam(r, "documentID")
	doc, err := s.documents.Get(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if doc.Status != want {
		writeError(w, http.StatusConflict, ErrorCodeInvalidTransition,
			"document is "+string(doc.Status)+", expected "+string(want))
		return
	}

	if err := s.jobs.Enqueue(r.Context(), lifecycleuc.Job{DocumentID: id, Retry: retry}); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, documentToResponse(doc))
}

func documentToResponse(doc domlc.Document) DocumentResponse {
	return DocumentResponse{
		ID:             doc.ID,
		OrganizationID: doc.OrganizationID,
		DocumentType:   string(doc.DeclaredType),
		Status:         string(doc.Status),
		Attempts:       doc.Attempts,
		UpdatedAt:      doc.UpdatedAt,
		Result:         doc.Result,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrDocumentNotFound,
		domain.ErrInvalidTransition,
		lifecycleuc.ErrQueueFull,
		lifecycleuc.ErrQueueClosed,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}
