package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Post("/admin/organizations/{orgID}/rate-limit/reset", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, org := range []string{"org-1", "org-2"} {
		req := httptest.NewRequest("POST", "/admin/organizations/"+org+"/rate-limit/reset", http.NoBody)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rr.Code)
		}
	}

	val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(
		"POST", "/admin/organizations/{orgID}/rate-limit/reset", "204"))
	if val < 2 {
		t.Errorf("expected both org requests under one route label, got %f", val)
	}
	if testutil.CollectAndCount(httpRequestDuration) == 0 {
		t.Error("expected http_request_duration_seconds to have observations")
	}
}

func TestMiddleware_StatusCodes(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	r.Get("/extract", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})

	tests := []struct {
		path, status string
	}{
		{"/health", "503"},
		{"/extract", "200"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, http.NoBody)
			r.ServeHTTP(httptest.NewRecorder(), req)

			if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", tc.path, tc.status)); val < 1 {
				t.Errorf("expected requests_total for %s/%s >= 1, got %f", tc.path, tc.status, val)
			}
		})
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())

	req := httptest.NewRequest("GET", "/nope", http.NoBody)
	r.ServeHTTP(httptest.NewRecorder(), req)

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unknown", "404")); val < 1 {
		t.Errorf("expected unmatched route under %q, got %f", "unknown", val)
	}
}

func TestRegisterExtractionMetrics_Idempotent(t *testing.T) {
	RegisterExtractionMetrics()
	RegisterExtractionMetrics()

	AdmissionsTotal.WithLabelValues("admitted").Inc()
	if val := testutil.ToFloat64(AdmissionsTotal.WithLabelValues("admitted")); val < 1 {
		t.Errorf("expected admissions_total >= 1, got %f", val)
	}
}

func TestMiddleware_CountsRequestsRejectedDownstream(t *testing.T) {
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Use(deny)
	r.Get("/admin/documents/{documentID}", func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unknown", "401"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/admin/documents/doc-1", http.NoBody))

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unknown", "401")); got != before+1 {
		t.Errorf("expected rejected request counted once, got %f -> %f", before, got)
	}
}

func TestRegisterHTTPMetrics_Idempotent(t *testing.T) {
	RegisterHTTPMetrics()
	RegisterHTTPMetrics()

	httpRequestsTotal.WithLabelValues("GET", "/health", "200").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "guestid_http_requests_total" {
			found = true
		}
	}
	if !found {
		t.Error("expected guestid_http_requests_total in the default registry")
	}
}
