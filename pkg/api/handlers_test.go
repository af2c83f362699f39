package api_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statsgallery/sponsorship/pkg/api"
	"github.com/statsgallery/sponsorship/pkg/audit"
	"github.com/statsgallery/sponsorship/pkg/auth"
	"github.com/statsgallery/sponsorship/pkg/badge"
	"github.com/statsgallery/sponsorship/pkg/funds"
	"github.com/statsgallery/sponsorship/pkg/ownership"
	"github.com/statsgallery/sponsorship/pkg/sponsorship"
)

// testEnv runs the full HTTP stack against in-memory state: request-id
// middleware, JWT auth, and the complete route set.
type testEnv struct {
	t       *testing.T
	server  *httptest.Server
	keys    *auth.InMemoryKeySet
	store   *sponsorship.Store
	owners  *ownership.Registry
	ledger  *funds.Ledger
	issuer  *badge.Issuer
	base    time.Time
	elapsed time.Duration
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		t:    t,
		base: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.base.Add(env.elapsed) }

	keys, err := auth.NewInMemoryKeySet()
	require.NoError(t, err)
	env.keys = keys

	env.ledger = funds.NewLedger().WithClock(clock)

	owners, err := ownership.NewRegistry("owner-acct")
	require.NoError(t, err)
	env.owners = owners

	issuer, err := badge.NewIssuer(badge.Config{
		RatePerDay:         10,
		MinCreationDeposit: 150,
		MaxActive:          180 * 24 * time.Hour,
	})
	require.NoError(t, err)
	env.issuer = issuer.WithClock(clock)

	store, err := sponsorship.NewStore(sponsorship.Config{
		ProposalDuration: 7 * 24 * time.Hour,
		MinDeposit:       100,
		Tags:             []string{"gold", "silver", badge.TagCreate, badge.TagExtend},
	}, env.ledger, owners)
	require.NoError(t, err)

	trail := audit.NewTrail().WithClock(clock)
	env.store = store.WithClock(clock).WithVetter(env.issuer).WithExecutor(env.issuer).WithAuditor(trail)

	mux := http.NewServeMux()
	api.NewHandler(env.store, env.owners, env.ledger, env.issuer).
		WithExporter(audit.NewExporter(trail)).
		RegisterRoutes(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	verifier := auth.NewVerifier(keys)
	chain := api.RequestIDMiddleware(auth.NewMiddleware(verifier, api.WriteUnauthorized)(mux))

	env.server = httptest.NewServer(chain)
	t.Cleanup(env.server.Close)
	return env
}

func (env *testEnv) token(account string) string {
	tok, err := auth.MintToken(context.Background(), env.keys, auth.AccountID(account), time.Hour)
	require.NoError(env.t, err)
	return tok
}

func (env *testEnv) do(method, path, token string, body interface{}) *http.Response {
	env.t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(env.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, env.server.URL+path, rd)
	require.NoError(env.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := env.server.Client().Do(req)
	require.NoError(env.t, err)
	env.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (env *testEnv) decode(resp *http.Response, out interface{}) {
	env.t.Helper()
	require.NoError(env.t, json.NewDecoder(resp.Body).Decode(out))
}

func (env *testEnv) submit(token string, req api.SubmitRequest) api.ProposalView {
	env.t.Helper()
	resp := env.do(http.MethodPost, "/v1/proposals", token, req)
	require.Equal(env.t, http.StatusCreated, resp.StatusCode)
	var view api.ProposalView
	env.decode(resp, &view)
	return view
}

func TestSubmitProposal_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token("alice")

	view := env.submit(alice, api.SubmitRequest{
		Description: "Sponsor the spring exhibit",
		Tag:         "gold",
		Deposit:     150,
	})

	assert.Equal(t, uint64(1), view.ID)
	assert.Equal(t, "alice", view.Submitter)
	assert.Equal(t, "PENDING", view.Status)
	assert.Equal(t, int64(150), view.Deposit)
	assert.Equal(t, view.SubmittedAt.Add(7*24*time.Hour), view.ExpiresAt)

	// Reads are public.
	resp := env.do(http.MethodGet, "/v1/proposals/1", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(http.MethodGet, "/v1/proposals", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Count     int                `json:"count"`
		Proposals []api.ProposalView `json:"proposals"`
	}
	env.decode(resp, &list)
	assert.Equal(t, 1, list.Count)
}

func TestSubmit_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/v1/proposals", "", api.SubmitRequest{
		Description: "unauthenticated",
		Tag:         "gold",
		Deposit:     150,
	})

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

func TestSubmit_ErrorStatuses(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token("alice")

	cases := []struct {
		name string
		req  api.SubmitRequest
		want int
	}{
		{"deposit below floor", api.SubmitRequest{Description: "d", Tag: "gold", Deposit: 99}, http.StatusPaymentRequired},
		{"unknown tag", api.SubmitRequest{Description: "d", Tag: "bronze", Deposit: 150}, http.StatusBadRequest},
		{"blank description", api.SubmitRequest{Description: "   ", Tag: "gold", Deposit: 150}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(http.MethodPost, "/v1/proposals", alice, tc.req)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestAccept_OwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token("alice")
	owner := env.token("owner-acct")

	view := env.submit(alice, api.SubmitRequest{
		Description: "Sponsor the spring exhibit",
		Tag:         "gold",
		Deposit:     150,
	})

	// A non-owner cannot resolve, not even their own proposal.
	resp := env.do(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/accept", view.ID), alice, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/accept", view.ID), owner, api.ResolveRequest{Note: "welcome"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var resolved api.ProposalView
	env.decode(resp, &resolved)
	assert.Equal(t, "ACCEPTED", resolved.Status)
	assert.Equal(t, int64(0), resolved.Deposit, "deposit zeroed on terminal transition")
	assert.Equal(t, "welcome", resolved.ResolutionNote)

	// Second resolution attempt conflicts.
	resp = env.do(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/reject", view.ID), owner, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Accepted deposit moved from escrow to revenue.
	resp = env.do(http.MethodGet, "/v1/totals", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var totals api.TotalsResponse
	env.decode(resp, &totals)
	assert.Equal(t, int64(0), totals.EscrowBalance)
	assert.Equal(t, int64(150), totals.RevenueBalance)
	assert.Equal(t, int64(150), totals.TotalAcceptedDeposits)
}

func TestAccept_ExpiredIsGone(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token("alice")
	owner := env.token("owner-acct")

	view := env.submit(alice, api.SubmitRequest{
		Description: "short-lived offer",
		Tag:         "gold",
		Deposit:     150,
		TTLSeconds:  3600,
	})

	env.elapsed = 2 * time.Hour

	resp := env.do(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/accept", view.ID), owner, nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	// Rejection survives expiry and refunds the deposit.
	resp = env.do(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/reject", view.ID), owner, api.ResolveRequest{Note: "too late"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var resolved api.ProposalView
	env.decode(resp, &resolved)
	assert.Equal(t, "REJECTED", resolved.Status)
	assert.Equal(t, funds.Amount(0), env.ledger.Escrow())
}

func TestRescind_SubmitterOnly(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token("alice")
	mallory := env.token("mallory")

	view := env.submit(alice, api.SubmitRequest{
		Description: "Sponsor the spring exhibit",
		Tag:         "silver",
		Deposit:     200,
	})

	resp := env.do(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/rescind", view.ID), mallory, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/rescind", view.ID), alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var resolved api.ProposalView
	env.decode(resp, &resolved)
	assert.Equal(t, "RESCINDED", resolved.Status)
}

func TestProposalLookup_Errors(t *testing.T) {
	env := newTestEnv(t)
	owner := env.token("owner-acct")

	resp := env.do(http.MethodGet, "/v1/proposals/99", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(http.MethodGet, "/v1/proposals/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(http.MethodPost, "/v1/proposals/99/accept", owner, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListProposals_Views(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token("alice")

	env.submit(alice, api.SubmitRequest{Description: "long", Tag: "gold", Deposit: 150})
	env.submit(alice, api.SubmitRequest{Description: "short", Tag: "gold", Deposit: 150, TTLSeconds: 60})

	env.elapsed = time.Hour

	fetch := func(query string) int {
		resp := env.do(http.MethodGet, "/v1/proposals"+query, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var list struct {
			Count int `json:"count"`
		}
		env.decode(resp, &list)
		return list.Count
	}

	assert.Equal(t, 2, fetch(""))
	assert.Equal(t, 1, fetch("?view=live"))
	assert.Equal(t, 1, fetch("?view=expired"))
	assert.Equal(t, 2, fetch("?status=PENDING"))
	assert.Equal(t, 0, fetch("?status=ACCEPTED"))

	resp := env.do(http.MethodGet, "/v1/proposals?status=WEIRD", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(http.MethodGet, "/v1/proposals?view=sideways", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTagAdministration(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token("alice")
	owner := env.token("owner-acct")

	resp := env.do(http.MethodPost, "/v1/tags", alice, api.TagsRequest{Tags: []string{"bronze"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(http.MethodPost, "/v1/tags", owner, api.TagsRequest{Tags: []string{"bronze"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tags struct {
		Tags []string `json:"tags"`
	}
	env.decode(resp, &tags)
	assert.Contains(t, tags.Tags, "bronze")

	resp = env.do(http.MethodDelete, "/v1/tags/bronze", owner, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Retired tag blocks new submissions.
	resp = env.do(http.MethodPost, "/v1/proposals", alice, api.SubmitRequest{
		Description: "late to the party",
		Tag:         "bronze",
		Deposit:     150,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOwnershipHandshake_OverHTTP(t *testing.T) {
	env := newTestEnv(t)
	owner := env.token("owner-acct")
	successor := env.token("successor-acct")

	resp := env.do(http.MethodPost, "/v1/owner/propose", owner, api.ProposeOwnerRequest{Account: "successor-acct"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(http.MethodGet, "/v1/owner", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ownerView map[string]string
	env.decode(resp, &ownerView)
	assert.Equal(t, "owner-acct", ownerView["owner"])
	assert.Equal(t, "successor-acct", ownerView["proposed_owner"])

	// Accepting without a nomination for this caller is forbidden.
	resp = env.do(http.MethodPost, "/v1/owner/accept", owner, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(http.MethodPost, "/v1/owner/accept", successor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.decode(resp, &ownerView)
	assert.Equal(t, "successor-acct", ownerView["owner"])

	// The former owner lost the resolver role.
	alice := env.token("alice")
	view := env.submit(alice, api.SubmitRequest{Description: "post-handover", Tag: "gold", Deposit: 150})
	resp = env.do(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/accept", view.ID), owner, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = env.do(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/accept", view.ID), successor, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOwnershipAccept_NoNominationConflicts(t *testing.T) {
	env := newTestEnv(t)
	successor := env.token("successor-acct")

	resp := env.do(http.MethodPost, "/v1/owner/accept", successor, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestBadgeLifecycle_OverHTTP(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token("alice")
	owner := env.token("owner-acct")

	directive := `{"action":"create","badge_id":"my-badge-01","name":"Cool Badge","days":45}`

	// Underfunded directive: 45 days at rate 10 costs 450.
	resp := env.do(http.MethodPost, "/v1/proposals", alice, api.SubmitRequest{
		Description: "This is a sponsorship proposal",
		Tag:         badge.TagCreate,
		Message:     directive,
		Deposit:     449,
	})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	view := env.submit(alice, api.SubmitRequest{
		Description: "This is a sponsorship proposal",
		Tag:         badge.TagCreate,
		Message:     directive,
		Deposit:     450,
	})

	resp = env.do(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/accept", view.ID), owner, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(http.MethodGet, "/v1/badges", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var badges struct {
		Count  int             `json:"count"`
		Badges []api.BadgeView `json:"badges"`
	}
	env.decode(resp, &badges)
	require.Equal(t, 1, badges.Count)
	assert.Equal(t, "my-badge-01", badges.Badges[0].ID)
	assert.Equal(t, 45, badges.Badges[0].ActiveDays)
	assert.Equal(t, "alice", badges.Badges[0].Sponsor)

	resp = env.do(http.MethodGet, "/v1/badges/my-badge-01", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(http.MethodGet, "/v1/badges/no-such-badge", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// A duplicate create for the same badge id conflicts at submission.
	resp = env.do(http.MethodPost, "/v1/proposals", alice, api.SubmitRequest{
		Description: "This is a sponsorship proposal",
		Tag:         badge.TagCreate,
		Message:     directive,
		Deposit:     450,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReceipts_Endpoints(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token("alice")
	owner := env.token("owner-acct")

	view := env.submit(alice, api.SubmitRequest{Description: "audited", Tag: "gold", Deposit: 150})
	resp := env.do(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/accept", view.ID), owner, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(http.MethodGet, "/v1/receipts", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var receipts struct {
		Count int    `json:"count"`
		Head  string `json:"head"`
	}
	env.decode(resp, &receipts)
	assert.Equal(t, 2, receipts.Count, "collect then retain")
	assert.NotEmpty(t, receipts.Head)

	resp = env.do(http.MethodGet, "/v1/receipts/verify", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var verdict struct {
		OK     bool `json:"ok"`
		Length int  `json:"length"`
	}
	env.decode(resp, &verdict)
	assert.True(t, verdict.OK)
	assert.Equal(t, 2, verdict.Length)
}

func TestAuditExport_OwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token("alice")
	owner := env.token("owner-acct")

	view := env.submit(alice, api.SubmitRequest{Description: "audited", Tag: "gold", Deposit: 150})
	resp := env.do(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/accept", view.ID), owner, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(http.MethodPost, "/v1/audit/export", alice, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Without an archive store the pack streams back directly.
	resp = env.do(http.MethodPost, "/v1/audit/export", owner, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Checksum"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "events.json")
	assert.Contains(t, names, "manifest.json")

	// A range that excludes everything still packs, just empty.
	resp = env.do(http.MethodPost, "/v1/audit/export", owner, api.AuditExportRequest{
		Start: env.base.Add(-2 * time.Hour),
		End:   env.base.Add(-time.Hour),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// An inverted range is rejected.
	resp = env.do(http.MethodPost, "/v1/audit/export", owner, api.AuditExportRequest{
		Start: env.base.Add(time.Hour),
		End:   env.base.Add(-time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz_Public(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
