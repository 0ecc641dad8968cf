package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kailas-cloud/guestid/internal/domain"
	"github.com/kailas-cloud/guestid/internal/domain/doctype"
	domlc "github.com/kailas-cloud/guestid/internal/domain/lifecycle"
	"github.com/kailas-cloud/guestid/internal/usecase/admission"
	healthuc "github.com/kailas-cloud/guestid/internal/usecase/health"
	lifecycleuc "github.com/kailas-cloud/guestid/internal/usecase/lifecycle"
)

// --- Mocks ---

type mockPinger struct{ err error }

func (m *mockPinger) Ping(context.Context) error { return m.err }

type mockDocuments struct {
	docs map[string]domlc.Document
	err  error
}

func (m *mockDocuments) Get(_ context.Context, id string) (domlc.Document, error) {
	if m.err != nil {
		return domlc.Document{}, m.err
	}
	d, ok := m.docs[id]
	if !ok {
		return domlc.Document{}, domain.ErrDocumentNotFound
	}
	return d, nil
}

func (m *mockDocuments) Delete(_ context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	delete(m.docs, id)
	return nil
}

type mockQueue struct {
	jobs []lifecycleuc.Job
	err  error
}

func (m *mockQueue) Enqueue(_ context.Context, job lifecycleuc.Job) error {
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

// --- Helpers ---

type fixture struct {
	router   http.Handler
	admitter *admission.Admitter
	docs     *mockDocuments
	queue    *mockQueue
}

func newFixture(t *testing.T, dbErr error) *fixture {
	t.Helper()
	admitter := admission.New(2, time.Minute, zap.NewNop())
	docs := &mockDocuments{docs: map[string]domlc.Document{
		"doc-pending": {ID: "doc-pending", OrganizationID: "org-1", DeclaredType: doctype.Passport, Status: domlc.Pending},
		"doc-failed":  {ID: "doc-failed", OrganizationID: "org-1", DeclaredType: doctype.PANCard, Status: domlc.Failed, Attempts: 1},
		"doc-running": {ID: "doc-running", OrganizationID: "org-1", DeclaredType: doctype.Visa, Status: domlc.Processing},
	}}
	queue := &mockQueue{}

	srv := NewServer(healthuc.New(&mockPinger{err: dbErr}, nil), admitter, docs, queue, zap.NewNop())
	r := chi.NewRouter()
	srv.Mount(r)
	return &fixture{router: r, admitter: admitter, docs: docs, queue: queue}
}

func (f *fixture) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&e))
	return e
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	rr := newFixture(t, nil).do("GET", "/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Checks["database"])
	assert.Equal(t, "disabled", body.Checks["vision"])
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	rr := newFixture(t, errors.New("down")).do("GET", "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetrics(t *testing.T) {
	rr := newFixture(t, nil).do("GET", "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestResetRateLimit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.True(t, f.admitter.TryAdmit(ctx, "org-1"))
	require.True(t, f.admitter.TryAdmit(ctx, "org-1"))
	require.False(t, f.admitter.TryAdmit(ctx, "org-1"))

	rr := f.do("POST", "/admin/organizations/org-1/rate-limit/reset")
	require.Equal(t, http.StatusNoContent, rr.Code)

	assert.True(t, f.admitter.TryAdmit(ctx, "org-1"))
}

func TestGetRateLimit(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.admitter.TryAdmit(context.Background(), "org-1"))

	rr := f.do("GET", "/admin/organizations/org-1/rate-limit")
	require.Equal(t, http.StatusOK, rr.Code)

	var body RateLimitResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "org-1", body.OrganizationID)
	assert.Equal(t, 2, body.Limit)
	assert.Equal(t, 1, body.RequestCount)
	assert.NotNil(t, body.WindowStart)
	assert.Equal(t, admission.SourceLocal, body.Source)

	rr = f.do("GET", "/admin/organizations/org-unknown/rate-limit")
	require.Equal(t, http.StatusOK, rr.Code)
	body = RateLimitResponse{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, 0, body.RequestCount)
	assert.Nil(t, body.WindowStart)
}

func TestGetDocument(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do("GET", "/admin/documents/doc-failed")
	require.Equal(t, http.StatusOK, rr.Code)
	var body DocumentResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "failed", body.Status)
	assert.Equal(t, "pan_card", body.DocumentType)

	rr = f.do("GET", "/admin/documents/nope")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, ErrorCodeDocumentNotFound, decodeError(t, rr).Code)
}

func TestGetDocument_InternalErrorHidden(t *testing.T) {
	f := newFixture(t, nil)
	f.docs.err = errors.New("redis: connection reset by peer")

	rr := f.do("GET", "/admin/documents/doc-failed")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	e := decodeError(t, rr)
	assert.Equal(t, ErrorCodeInternalError, e.Code)
	assert.Equal(t, "internal error", e.Message)
}

func TestProcessDocument(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do("POST", "/admin/documents/doc-pending/process")
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, lifecycleuc.Job{DocumentID: "doc-pending"}, f.queue.jobs[0])

	rr = f.do("POST", "/admin/documents/doc-failed/process")
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, ErrorCodeInvalidTransition, decodeError(t, rr).Code)
	assert.Len(t, f.queue.jobs, 1)
}

func TestRetryDocument(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do("POST", "/admin/documents/doc-failed/retry")
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, lifecycleuc.Job{DocumentID: "doc-failed", Retry: true}, f.queue.jobs[0])

	rr = f.do("POST", "/admin/documents/doc-pending/retry")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestProcessDocument_QueueFull(t *testing.T) {
	f := newFixture(t, nil)
	f.queue.err = lifecycleuc.ErrQueueFull

	rr := f.do("POST", "/admin/documents/doc-pending/process")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, ErrorCodeQueueUnavailable, decodeError(t, rr).Code)
}

func TestDocumentRoutes_NotMountedWithoutQueue(t *testing.T) {
	srv := NewServer(healthuc.New(&mockPinger{}, nil), admission.New(1, time.Minute, zap.NewNop()),
		nil, nil, zap.NewNop())
	r := chi.NewRouter()
	srv.Mount(r)

	req := httptest.NewRequest("GET", "/admin/documents/doc-1", http.NoBody)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// sharedWindow is a WindowStore whose counter lives outside the process.
type sharedWindow struct{ count int }

func (s *sharedWindow) Admit(context.Context, string, int, time.Duration) (bool, error) {
	s.count++
	return true, nil
}
func (s *sharedWindow) Reset(context.Context, string) error { s.count = 0; return nil }
func (s *sharedWindow) Count(context.Context, string) (int, error) {
	return s.count, nil
}

func TestGetRateLimit_SharedWindow(t *testing.T) {
	shared := &sharedWindow{}
	admitter := admission.New(5, time.Minute, zap.NewNop()).WithStore(shared)
	srv := NewServer(healthuc.New(&mockPinger{}, nil), admitter, nil, nil, zap.NewNop())
	r := chi.NewRouter()
	srv.Mount(r)

	require.True(t, admitter.TryAdmit(context.Background(), "org-1"))
	require.True(t, admitter.TryAdmit(context.Background(), "org-1"))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/admin/organizations/org-1/rate-limit", http.NoBody))
	require.Equal(t, http.StatusOK, rr.Code)

	var body RateLimitResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, 2, body.RequestCount)
	assert.Equal(t, admission.SourceShared, body.Source)
	assert.Nil(t, body.WindowStart)
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do("DELETE", "/admin/documents/doc-failed")
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.NotContains(t, f.docs.docs, "doc-failed")

	rr = f.do("DELETE", "/admin/documents/doc-failed")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteDocument_ProcessingConflict(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do("DELETE", "/admin/documents/doc-running")
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, ErrorCodeInvalidTransition, decodeError(t, rr).Code)
	assert.Contains(t, f.docs.docs, "doc-running")
}
