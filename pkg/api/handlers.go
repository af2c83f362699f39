package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/statsgallery/sponsorship/pkg/audit"
	"github.com/statsgallery/sponsorship/pkg/auth"
	"github.com/statsgallery/sponsorship/pkg/badge"
	"github.com/statsgallery/sponsorship/pkg/funds"
	"github.com/statsgallery/sponsorship/pkg/ownership"
	"github.com/statsgallery/sponsorship/pkg/policy"
	"github.com/statsgallery/sponsorship/pkg/sponsorship"
)

// Handler provides HTTP handlers for the sponsorship API.
type Handler struct {
	store    *sponsorship.Store
	owners   *ownership.Registry
	ledger   *funds.Ledger
	issuer   *badge.Issuer
	exporter *audit.Exporter
}

// NewHandler creates a new API handler. issuer may be nil when badge
// issuance is not wired; the badge routes are then not registered.
func NewHandler(store *sponsorship.Store, owners *ownership.Registry, ledger *funds.Ledger, issuer *badge.Issuer) *Handler {
	return &Handler{
		store:  store,
		owners: owners,
		ledger: ledger,
		issuer: issuer,
	}
}

// WithExporter enables the audit export route, backed by the given
// evidence exporter.
func (h *Handler) WithExporter(e *audit.Exporter) *Handler {
	h.exporter = e
	return h
}

// RegisterRoutes registers sponsorship API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/proposals", h.handleSubmit)
	mux.HandleFunc("GET /v1/proposals", h.handleListProposals)
	mux.HandleFunc("GET /v1/proposals/{id}", h.handleGetProposal)
	mux.HandleFunc("POST /v1/proposals/{id}/accept", h.handleAccept)
	mux.HandleFunc("POST /v1/proposals/{id}/reject", h.handleReject)
	mux.HandleFunc("POST /v1/proposals/{id}/rescind", h.handleRescind)
	mux.HandleFunc("GET /v1/totals", h.handleTotals)
	mux.HandleFunc("GET /v1/tags", h.handleListTags)
	mux.HandleFunc("POST /v1/tags", h.handleAddTags)
	mux.HandleFunc("DELETE /v1/tags/{tag}", h.handleRemoveTag)
	mux.HandleFunc("GET /v1/owner", h.handleOwner)
	mux.HandleFunc("POST /v1/owner/propose", h.handleProposeOwner)
	mux.HandleFunc("POST /v1/owner/accept", h.handleAcceptOwnership)
	mux.HandleFunc("POST /v1/owner/renounce", h.handleRenounceOwnership)
	mux.HandleFunc("GET /v1/receipts", h.handleListReceipts)
	mux.HandleFunc("GET /v1/receipts/verify", h.handleVerifyReceipts)

	if h.issuer != nil {
		mux.HandleFunc("GET /v1/badges", h.handleListBadges)
		mux.HandleFunc("GET /v1/badges/{id}", h.handleGetBadge)
	}
	if h.exporter != nil {
		mux.HandleFunc("POST /v1/audit/export", h.handleAuditExport)
	}
}

// caller extracts the authenticated account from the request context.
// Empty for unauthenticated reads.
func caller(r *http.Request) auth.AccountID {
	acct, err := auth.CallerAccount(r.Context())
	if err != nil {
		return ""
	}
	return acct
}

// pageFrom reads offset/limit query params. Missing params mean
// everything.
func pageFrom(r *http.Request) sponsorship.Page {
	var page sponsorship.Page
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			page.Offset = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			page.Limit = n
		}
	}
	return page
}

// ProposalView is the wire shape of a proposal, with derived expiry.
type ProposalView struct {
	ID             uint64     `json:"id"`
	Submitter      string     `json:"submitter"`
	Description    string     `json:"description"`
	Tag            string     `json:"tag"`
	Message        string     `json:"message,omitempty"`
	Deposit        int64      `json:"deposit"`
	Status         string     `json:"status"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	TTLSeconds     int64      `json:"ttl_seconds"`
	ExpiresAt      time.Time  `json:"expires_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
}

func viewOf(p *sponsorship.Proposal) ProposalView {
	return ProposalView{
		ID:             p.ID,
		Submitter:      p.Submitter.String(),
		Description:    p.Description,
		Tag:            p.Tag,
		Message:        p.Message,
		Deposit:        int64(p.Deposit),
		Status:         string(p.Status),
		SubmittedAt:    p.SubmittedAt,
		TTLSeconds:     int64(p.TTL / time.Second),
		ExpiresAt:      p.ExpiresAt(),
		ResolvedAt:     p.ResolvedAt,
		ResolutionNote: p.ResolutionNote,
	}
}

func viewsOf(ps []sponsorship.Proposal) []ProposalView {
	out := make([]ProposalView, 0, len(ps))
	for i := range ps {
		out = append(out, viewOf(&ps[i]))
	}
	return out
}

// SubmitRequest is the request body for proposal submission. The
// submitter is taken from the authenticated caller, never from the body.
type SubmitRequest struct {
	Description string `json:"description"`
	Tag         string `json:"tag"`
	Message     string `json:"message,omitempty"`
	Deposit     int64  `json:"deposit"`
	TTLSeconds  int64  `json:"ttl_seconds,omitempty"`
}

// handleSubmit creates a new proposal with its deposit held in escrow.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	p, err := h.store.Submit(r.Context(), sponsorship.Submission{
		Submitter:   caller(r),
		Description: req.Description,
		Tag:         req.Tag,
		Message:     req.Message,
		Deposit:     funds.Amount(req.Deposit),
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(viewOf(p))
}

// handleListProposals lists proposals. ?status= filters by lifecycle
// state; ?view=live narrows to pending-and-unexpired, ?view=expired to
// pending-but-expired.
func (h *Handler) handleListProposals(w http.ResponseWriter, r *http.Request) {
	page := pageFrom(r)
	q := r.URL.Query()

	var list []sponsorship.Proposal
	switch {
	case q.Get("status") != "":
		status := sponsorship.Status(q.Get("status"))
		if !status.Valid() {
			WriteBadRequest(w, "Unknown status filter")
			return
		}
		list = h.store.ByStatus(status, page)
	case q.Get("view") == "live":
		list = h.store.Pending(page)
	case q.Get("view") == "expired":
		list = h.store.ExpiredPending(page)
	case q.Get("view") != "":
		WriteBadRequest(w, "Unknown view, expected live or expired")
		return
	default:
		list = h.store.All(page)
	}

	views := viewsOf(list)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"proposals": views,
		"count":     len(views),
	})
}

// handleGetProposal returns a single proposal by id.
func (h *Handler) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "Invalid proposal id")
		return
	}

	p, err := h.store.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(viewOf(p))
}

// ResolveRequest optionally carries a resolution note.
type ResolveRequest struct {
	Note string `json:"note,omitempty"`
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	h.handleResolve(w, r, h.store.Accept)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.handleResolve(w, r, h.store.Reject)
}

// handleResolve runs an owner decision against a proposal. The body is
// optional; an empty body means no resolution note.
func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, caller auth.AccountID, id uint64, note string) (*sponsorship.Proposal, error)) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "Invalid proposal id")
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	p, err := decide(r.Context(), caller(r), id, req.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(viewOf(p))
}

// handleRescind lets the submitter withdraw a pending proposal and
// recover its deposit.
func (h *Handler) handleRescind(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "Invalid proposal id")
		return
	}

	p, err := h.store.Rescind(r.Context(), caller(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(viewOf(p))
}

// TotalsResponse combines the proposal book aggregates with the live
// treasury balances.
type TotalsResponse struct {
	TotalDeposits         int64                      `json:"total_deposits"`
	TotalAcceptedDeposits int64                      `json:"total_accepted_deposits"`
	Counts                map[sponsorship.Status]int `json:"counts"`
	EscrowBalance         int64                      `json:"escrow_balance"`
	RevenueBalance        int64                      `json:"revenue_balance"`
}

func (h *Handler) handleTotals(w http.ResponseWriter, r *http.Request) {
	totals := h.store.Totals()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(TotalsResponse{
		TotalDeposits:         int64(totals.TotalDeposits),
		TotalAcceptedDeposits: int64(totals.TotalAcceptedDeposits),
		Counts:                totals.Counts,
		EscrowBalance:         int64(h.ledger.Escrow()),
		RevenueBalance:        int64(h.ledger.Revenue()),
	})
}

func (h *Handler) handleListTags(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"tags": h.store.Tags(),
	})
}

// TagsRequest is the request body for tag registration.
type TagsRequest struct {
	Tags []string `json:"tags"`
}

// handleAddTags registers new tags. Owner only.
func (h *Handler) handleAddTags(w http.ResponseWriter, r *http.Request) {
	var req TagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := h.store.AddTags(r.Context(), caller(r), req.Tags); err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"tags": h.store.Tags(),
	})
}

// handleRemoveTag retires a tag. Existing proposals keep it; new
// submissions can no longer use it. Owner only.
func (h *Handler) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")

	if err := h.store.RemoveTags(r.Context(), caller(r), []string{tag}); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleOwner reports the current owner and any pending successor.
func (h *Handler) handleOwner(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"owner": h.owners.Owner().String(),
	}
	if proposed, err := h.owners.ProposedOwner(); err == nil {
		resp["proposed_owner"] = proposed.String()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// ProposeOwnerRequest nominates a successor account. An empty account
// clears the nomination.
type ProposeOwnerRequest struct {
	Account string `json:"account"`
}

func (h *Handler) handleProposeOwner(w http.ResponseWriter, r *http.Request) {
	var req ProposeOwnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := h.owners.Propose(r.Context(), caller(r), auth.AccountID(req.Account)); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAcceptOwnership(w http.ResponseWriter, r *http.Request) {
	if err := h.owners.AcceptOwnership(r.Context(), caller(r)); err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"owner": h.owners.Owner().String(),
	})
}

func (h *Handler) handleRenounceOwnership(w http.ResponseWriter, r *http.Request) {
	if err := h.owners.Renounce(r.Context(), caller(r)); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// BadgeView is the wire shape of an issued badge.
type BadgeView struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"group_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Sponsor     string    `json:"sponsor"`
	ActiveDays  int       `json:"active_days"`
	StartAt     time.Time `json:"start_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	IssuedAt    time.Time `json:"issued_at"`
	Live        bool      `json:"live"`
}

func badgeViewOf(b *badge.Badge, now time.Time) BadgeView {
	return BadgeView{
		ID:          b.ID,
		GroupID:     b.GroupID,
		Name:        b.Name,
		Description: b.Description,
		Sponsor:     b.Sponsor.String(),
		ActiveDays:  int(b.Active / (24 * time.Hour)),
		StartAt:     b.StartAt,
		ExpiresAt:   b.ExpiresAt(),
		IssuedAt:    b.IssuedAt,
		Live:        b.ActiveAt(now),
	}
}

func (h *Handler) handleListBadges(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	badges := h.issuer.Badges()
	views := make([]BadgeView, 0, len(badges))
	for i := range badges {
		views = append(views, badgeViewOf(&badges[i], now))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"badges": views,
		"count":  len(views),
	})
}

func (h *Handler) handleGetBadge(w http.ResponseWriter, r *http.Request) {
	b, ok := h.issuer.Badge(r.PathValue("id"))
	if !ok {
		WriteNotFound(w, "Badge not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(badgeViewOf(b, time.Now()))
}

// handleListReceipts returns the treasury receipt chain.
func (h *Handler) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts := h.ledger.Receipts()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"receipts": receipts,
		"count":    len(receipts),
		"head":     h.ledger.Head(),
	})
}

// handleVerifyReceipts re-walks the receipt chain and reports whether
// every link still hashes clean.
func (h *Handler) handleVerifyReceipts(w http.ResponseWriter, r *http.Request) {
	ok, reason := h.ledger.Verify()
	resp := map[string]interface{}{
		"ok":     ok,
		"length": h.ledger.Length(),
		"head":   h.ledger.Head(),
	}
	if !ok {
		resp["reason"] = reason
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// AuditExportRequest bounds the evidence pack. A zero time leaves that
// side of the range open.
type AuditExportRequest struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// handleAuditExport packages the audit trail for the requested range.
// Owner only. With an archive store configured the pack is pushed there
// and its reference returned; otherwise the zip streams back directly.
func (h *Handler) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if caller(r) != h.owners.Owner() {
		WriteForbidden(w, "audit export requires the owner account")
		return
	}

	var req AuditExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	exportReq := audit.ExportRequest{StartTime: req.Start, EndTime: req.End}

	ref, err := h.exporter.Archive(r.Context(), exportReq)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ref)
		return
	case errors.Is(err, audit.ErrArchiveNotConfigured):
		// No archive store; stream the pack to the caller instead.
	case errors.Is(err, audit.ErrInvalidTimeRange):
		WriteBadRequest(w, err.Error())
		return
	default:
		WriteInternal(w, err)
		return
	}

	pack, checksum, err := h.exporter.GeneratePack(r.Context(), exportReq)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidTimeRange) {
			WriteBadRequest(w, err.Error())
			return
		}
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("X-Checksum", "sha256:"+checksum)
	_, _ = w.Write(pack)
}

// writeDomainError maps domain errors onto RFC 7807 responses. Anything
// unmapped is a 500 and its detail never leaves the process.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sponsorship.ErrNotFound):
		WriteNotFound(w, err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		WriteForbidden(w, err.Error())
	case errors.Is(err, sponsorship.ErrExpired):
		WriteGone(w, err.Error())
	case errors.Is(err, sponsorship.ErrInsufficientDeposit):
		WritePaymentRequired(w, err.Error())
	case errors.Is(err, sponsorship.ErrAlreadyResolved),
		errors.Is(err, ownership.ErrNoPendingOwner),
		errors.Is(err, badge.ErrBadgeExists):
		WriteConflict(w, err.Error())
	case errors.Is(err, sponsorship.ErrInvalidSubmission),
		errors.Is(err, sponsorship.ErrUnknownTag),
		errors.Is(err, sponsorship.ErrInvalidTag),
		errors.Is(err, auth.ErrInvalidAccount),
		errors.Is(err, badge.ErrBadDirective),
		errors.Is(err, badge.ErrTagMismatch),
		errors.Is(err, badge.ErrBadgeUnknown),
		errors.Is(err, badge.ErrMaxActiveExceeded),
		errors.Is(err, policy.ErrScreenRejected):
		WriteBadRequest(w, err.Error())
	default:
		WriteInternal(w, err)
	}
}
