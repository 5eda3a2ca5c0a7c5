/*
handlers.go - HTTP API handlers for the prescribing engine

PURPOSE:
  Exposes spending queries and concession reconciliation via REST. Handles
  HTTP request/response, parameter parsing and rendering, and delegates to
  the spending and concessions packages.

ENDPOINTS:
  Spending:
    GET    /api/1.0/spending/                      National total per month
    GET    /api/1.0/spending_by_ccg/               Per CCG
    GET    /api/1.0/spending_by_practice/          Per practice (date or org required)
    GET    /api/1.0/spending_by_org/               Per org_type

  Concessions:
    GET    /api/1.0/tariff/                        Tariff prices with concessions
    GET    /api/1.0/concessions/{org_type}/{code}/            Monthly summary
    GET    /api/1.0/concessions/{org_type}/{code}/breakdown/  One month by presentation
    GET    /api/1.0/concessions/compare/           Summaries for several orgs

  Admin:
    POST   /api/admin/snapshot/reload              Rebuild the snapshot now

COMMON PARAMETERS:
  code     Comma-separated BNF codes or section numbers ("2.2")
  org      Comma-separated organisation codes
  date     A month, YYYY-MM-01
  format   "csv" for CSV, JSON otherwise

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input (mixed code lengths, bad dates, unknown levels)
  - 404: Unknown organisation, section, or month
  - 500: Internal errors, including missing reference data
  - 503: No prescribing snapshot loaded yet

SECURITY NOTE:
  No authentication. Every endpoint is read-only apart from the snapshot
  reload.

SEE ALSO:
  - dto.go: Response data structures
  - render.go: JSON and CSV rendering
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/warp/prescribing-engine/bnf"
	"github.com/warp/prescribing-engine/concessions"
	"github.com/warp/prescribing-engine/core"
	"github.com/warp/prescribing-engine/matrixstore"
	"github.com/warp/prescribing-engine/orgs"
	"github.com/warp/prescribing-engine/spending"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the handlers read from the reference store.
type Store interface {
	orgs.Directory
	bnf.SectionLookup
	concessions.Store
	concessions.TariffLister
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       Store
	Snapshots   matrixstore.Provider
	Spending    *spending.Service
	Concessions *concessions.Engine

	// Reloader backs the admin reload endpoint; nil disables it.
	Reloader *SnapshotReloader

	// ConcessionMonths is the default length of a concession summary.
	ConcessionMonths int

	now func() time.Time
}

// NewHandler creates a handler reading from store and snapshots.
func NewHandler(store Store, snapshots matrixstore.Provider, engine *concessions.Engine) *Handler {
	return &Handler{
		Store:            store,
		Snapshots:        snapshots,
		Spending:         spending.NewService(snapshots, store, bnf.NewResolver(store)),
		Concessions:      engine,
		ConcessionMonths: concessions.DefaultMonths,
		now:              time.Now,
	}
}

// =============================================================================
// SPENDING HANDLERS
// =============================================================================

// TotalSpending returns national spending per month.
// GET /api/1.0/spending/?code=
func (h *Handler) TotalSpending(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Spending.TotalSpending(r.Context(), bnf.SplitParam(r.URL.Query().Get("code")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, rows, func() table { return spendingTable(rows, "") })
}

// SpendingByCCG returns spending per CCG.
// GET /api/1.0/spending_by_ccg/?code=&org=&date=
func (h *Handler) SpendingByCCG(w http.ResponseWriter, r *http.Request) {
	h.spendingByLevel(w, r, orgs.LevelCCG)
}

// SpendingByPractice returns spending per practice. A CCG code in org
// expands to its member practices.
// GET /api/1.0/spending_by_practice/?code=&org=&date=
func (h *Handler) SpendingByPractice(w http.ResponseWriter, r *http.Request) {
	h.spendingByLevel(w, r, orgs.LevelPractice)
}

// SpendingByOrg returns spending grouped at the org_type level.
// GET /api/1.0/spending_by_org/?org_type=&code=&org=&date=
func (h *Handler) SpendingByOrg(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("org_type")
	if raw == "" {
		h.fail(w, r, core.Invalid("org_type", "is required"))
		return
	}
	level, err := orgs.ParseLevel(raw)
	if err != nil {
		t, typeErr := orgs.ParseOrgType(raw)
		if typeErr != nil {
			h.fail(w, r, err)
			return
		}
		level = orgs.LevelFor(t)
	}
	h.spendingByLevel(w, r, level)
}

func (h *Handler) spendingByLevel(w http.ResponseWriter, r *http.Request, level orgs.Level) {
	q := r.URL.Query()
	rows, err := h.Spending.SpendingByOrg(r.Context(), spending.Query{
		Codes: bnf.SplitParam(q.Get("code")),
		Level: level,
		Orgs:  bnf.SplitParam(q.Get("org")),
		Date:  q.Get("date"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, rows, func() table { return spendingTable(rows, level) })
}

// =============================================================================
// CONCESSION HANDLERS
// =============================================================================

// Tariff lists Drug Tariff prices for products, with concession prices.
// GET /api/1.0/tariff/?codes=
func (h *Handler) Tariff(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Store.ListTariff(r.Context(), bnf.SplitParam(r.URL.Query().Get("codes")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []concessions.TariffListing{}
	}
	respond(w, r, rows, func() table { return tariffTable(rows) })
}

// ConcessionSummary returns the monthly cost of concessions for an org.
// GET /api/1.0/concessions/{org_type}/{code}/?months=
func (h *Handler) ConcessionSummary(w http.ResponseWriter, r *http.Request) {
	entity, err := h.entityFromPath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	months, err := h.monthsParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	rows, err := h.Concessions.SpendingForEntity(r.Context(), entity, months, core.MonthOf(h.now()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, rows, func() table { return summaryTable(rows) })
}

// ConcessionBreakdown returns one month of concession costs by
// presentation.
// GET /api/1.0/concessions/{org_type}/{code}/breakdown/?date=
func (h *Handler) ConcessionBreakdown(w http.ResponseWriter, r *http.Request) {
	entity, err := h.entityFromPath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	raw := r.URL.Query().Get("date")
	if raw == "" {
		h.fail(w, r, core.Invalid("date", "is required"))
		return
	}
	month, err := core.ParseMonth(raw)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	rows, err := h.Concessions.BreakdownForEntity(r.Context(), entity, month)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, rows, func() table { return breakdownTable(rows) })
}

// CompareConcessions returns monthly summaries for several organisations
// of one type, computed in parallel.
// GET /api/1.0/concessions/compare/?org_type=&org=&months=
func (h *Handler) CompareConcessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	t, err := orgs.ParseOrgType(q.Get("org_type"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	codes := bnf.SplitParam(q.Get("org"))
	if len(codes) == 0 {
		h.fail(w, r, core.Invalid("org", "at least one organisation is required"))
		return
	}
	months, err := h.monthsParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	entities := make([]orgs.OrgRef, 0, len(codes))
	names := make([]string, 0, len(codes))
	for _, code := range codes {
		ref, org, err := h.lookup(ctx, code, t)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		entities = append(entities, ref)
		names = append(names, org.Name)
	}

	summaries, err := h.Concessions.SpendingForEntities(ctx, entities, months, core.MonthOf(h.now()))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]EntityComparison, len(summaries))
	for i, s := range summaries {
		out[i] = EntityComparison{
			OrgType: string(s.Entity.Type),
			OrgID:   s.Entity.Code,
			OrgName: names[i],
			Months:  s.Months,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// entityFromPath resolves {org_type}/{code} and checks the organisation
// exists. The all_england routes carry no parameters.
func (h *Handler) entityFromPath(r *http.Request) (orgs.OrgRef, error) {
	rawType := chi.URLParam(r, "org_type")
	if rawType == "" {
		return orgs.AllEngland(), nil
	}
	t, err := orgs.ParseOrgType(rawType)
	if err != nil {
		return orgs.OrgRef{}, err
	}
	ref, _, err := h.lookup(r.Context(), chi.URLParam(r, "code"), t)
	return ref, err
}

func (h *Handler) lookup(ctx context.Context, code string, t orgs.OrgType) (orgs.OrgRef, *orgs.Org, error) {
	ref, err := orgs.ResolveRef(code, t)
	if err != nil {
		return orgs.OrgRef{}, nil, err
	}
	org, err := h.Store.GetOrg(ctx, ref)
	if err != nil {
		return orgs.OrgRef{}, nil, err
	}
	return ref, org, nil
}

func (h *Handler) monthsParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("months")
	if raw == "" {
		return h.ConcessionMonths, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, core.Invalid("months", "must be a positive integer, got %q", raw)
	}
	return n, nil
}

// =============================================================================
// ADMIN & HEALTH
// =============================================================================

// ReloadSnapshot rebuilds the prescribing snapshot from the extract.
// POST /api/admin/snapshot/reload
func (h *Handler) ReloadSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.Reloader == nil {
		writeError(w, http.StatusNotImplemented, "Snapshot reloading is not configured", nil)
		return
	}
	snap, err := h.Reloader.Reload(r.Context())
	if err != nil {
		log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("manual snapshot reload failed")
		writeError(w, http.StatusInternalServerError, "Failed to reload snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotStatus(snap))
}

// Health reports whether a snapshot is serving.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Snapshots.Snapshot()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "loading"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Snapshot: snapshotStatus(snap)})
}

func snapshotStatus(s *matrixstore.Snapshot) *SnapshotStatus {
	return &SnapshotStatus{
		BuiltAt:       s.BuiltAt().UTC().Format(time.RFC3339),
		LatestDate:    s.LatestDate(),
		Dates:         len(s.Dates()),
		Practices:     s.NumPractices(),
		Presentations: s.NumPresentations(),
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// fail maps an error to its HTTP status. Anything that is not the
// client's fault is logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, matrixstore.ErrNoSnapshot):
		writeError(w, http.StatusServiceUnavailable, "Prescribing data is still loading", err)
	case core.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case core.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		event := log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path)
		if core.IsReferenceDataMissing(err) {
			event = event.Bool("reference_data_missing", true)
		}
		event.Msg("request failed")
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
