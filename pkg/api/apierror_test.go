package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/statsgallery/sponsorship/pkg/api"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) api.ProblemDetail {
	t.Helper()
	var p api.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("decode problem body: %v", err)
	}
	return p
}

func TestWriteErrorProblemShape(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteError(w, http.StatusBadRequest, "Bad Request", "field is missing")

	if got := w.Header().Get("Content-Type"); got != "application/problem+json" {
		t.Errorf("Content-Type = %q, want application/problem+json", got)
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	p := decodeProblem(t, w)
	if p.Status != 400 || p.Title != "Bad Request" || p.Detail != "field is missing" {
		t.Errorf("problem = %+v", p)
	}
}

func TestWriteInternalHidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteInternal(w, errors.New("pq: connection refused to host=10.0.0.1"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if p := decodeProblem(t, w); p.Detail == "pq: connection refused to host=10.0.0.1" {
		t.Error("database error leaked into the response body")
	}
}

func TestWriteHelperStatuses(t *testing.T) {
	tests := []struct {
		name  string
		write func(w http.ResponseWriter)
		code  int
	}{
		{"method not allowed", func(w http.ResponseWriter) { api.WriteMethodNotAllowed(w) }, http.StatusMethodNotAllowed},
		{"payment required", func(w http.ResponseWriter) { api.WritePaymentRequired(w, "deposit below minimum") }, http.StatusPaymentRequired},
		{"gone", func(w http.ResponseWriter) { api.WriteGone(w, "proposal expired") }, http.StatusGone},
		{"not found", func(w http.ResponseWriter) { api.WriteNotFound(w, "no such proposal") }, http.StatusNotFound},
		{"conflict", func(w http.ResponseWriter) { api.WriteConflict(w, "already resolved") }, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			if w.Code != tt.code {
				t.Errorf("status = %d, want %d", w.Code, tt.code)
			}
		})
	}
}

func TestWriteTooManyRequestsSetsRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 30)

	if got := w.Header().Get("Retry-After"); got != "30" {
		t.Errorf("Retry-After = %q, want 30", got)
	}
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
}

func TestWriteUnauthorizedDefaultDetail(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteUnauthorized(w, "")

	if p := decodeProblem(t, w); p.Detail != "Authentication required" {
		t.Errorf("detail = %q, want the default", p.Detail)
	}
}

func TestWritePaymentRequiredTitle(t *testing.T) {
	w := httptest.NewRecorder()
	api.WritePaymentRequired(w, "deposit below minimum: required 100, received 10")

	if p := decodeProblem(t, w); p.Title != "Payment Required" {
		t.Errorf("title = %q, want Payment Required", p.Title)
	}
}

func TestWriteErrorRAddsRequestContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/proposals/7", nil)
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-123")

	api.WriteErrorR(w, req, http.StatusBadRequest, "Bad Request", "bad input")

	p := decodeProblem(t, w)
	if p.Instance != "/v1/proposals/7" {
		t.Errorf("instance = %q, want /v1/proposals/7", p.Instance)
	}
	if p.TraceID != "req-123" {
		t.Errorf("trace_id = %q, want req-123", p.TraceID)
	}
}
