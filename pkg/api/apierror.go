// Package api implements the HTTP surface for the sponsorship service,
// with RFC 7807 Problem Detail error responses.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

// problemTypeBase prefixes the type URI of every problem response; the
// status code is appended, e.g. ".../errors/404".
const problemTypeBase = "https://statsgallery.com/errors/"

// ProblemDetail is an RFC 7807 problem response. Every error the API
// returns takes this shape. TraceID is not in the RFC; it carries the
// request id so a client report can be matched to server logs.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// writeProblem fills in the type URI and default title, then encodes.
// An empty Title becomes the standard reason phrase for the status.
func writeProblem(w http.ResponseWriter, p ProblemDetail) {
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	p.Type = problemTypeBase + strconv.Itoa(p.Status)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(&p)
}

// WriteError writes an RFC 7807 problem response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, ProblemDetail{Status: status, Title: title, Detail: detail})
}

// WriteErrorR is WriteError enriched with request context: the instance
// is the request path and the trace id comes from X-Request-ID.
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, ProblemDetail{
		Status:   status,
		Title:    title,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	})
}

// The helpers below cover the statuses the handlers map domain errors
// onto. Titles default to the standard reason phrase.

func WriteBadRequest(w http.ResponseWriter, detail string) {
	writeProblem(w, ProblemDetail{Status: http.StatusBadRequest, Detail: detail})
}

func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	writeProblem(w, ProblemDetail{Status: http.StatusUnauthorized, Detail: detail})
}

// WritePaymentRequired reports a submission whose deposit does not
// cover the required amount.
func WritePaymentRequired(w http.ResponseWriter, detail string) {
	writeProblem(w, ProblemDetail{Status: http.StatusPaymentRequired, Detail: detail})
}

func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	writeProblem(w, ProblemDetail{Status: http.StatusForbidden, Detail: detail})
}

func WriteNotFound(w http.ResponseWriter, detail string) {
	writeProblem(w, ProblemDetail{Status: http.StatusNotFound, Detail: detail})
}

func WriteMethodNotAllowed(w http.ResponseWriter) {
	writeProblem(w, ProblemDetail{
		Status: http.StatusMethodNotAllowed,
		Detail: "The HTTP method is not supported for this endpoint",
	})
}

func WriteConflict(w http.ResponseWriter, detail string) {
	writeProblem(w, ProblemDetail{Status: http.StatusConflict, Detail: detail})
}

// WriteGone reports a proposal whose acceptance window has closed.
func WriteGone(w http.ResponseWriter, detail string) {
	writeProblem(w, ProblemDetail{Status: http.StatusGone, Detail: detail})
}

// WriteTooManyRequests sets Retry-After so well-behaved clients back off.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	writeProblem(w, ProblemDetail{
		Status: http.StatusTooManyRequests,
		Detail: "Rate limit exceeded. Retry after the interval in the Retry-After header.",
	})
}

// WriteInternal logs err and writes a generic 500; the error text never
// reaches the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	writeProblem(w, ProblemDetail{
		Status: http.StatusInternalServerError,
		Detail: "An unexpected error occurred. Please try again later.",
	})
}
