// Package api provides the HTTP handlers for the curve snapshot, price
// estimates, optimizer runs, and the run ledger, plus a WebSocket hub
// broadcasting completed runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atmx/curve-optimizer/internal/container"
	"github.com/atmx/curve-optimizer/internal/curve"
	"github.com/atmx/curve-optimizer/internal/metrics"
	"github.com/atmx/curve-optimizer/internal/optimizer"
	"github.com/atmx/curve-optimizer/internal/pair"
	"github.com/atmx/curve-optimizer/internal/risk"
	"github.com/atmx/curve-optimizer/internal/store"
)

// Settings are the service-wide optimizer and pricing defaults. Requests
// may override Method, Fallback and start prices.
type Settings struct {
	Method           string
	Fallback         string
	Optimizer        optimizer.Config
	Intermediaries   []string
	QuoteRanking     []string
	Workers          int
	CorrectionPasses int
}

// DefaultSettings uses the marginal price method with the bisection
// fallback.
func DefaultSettings() Settings {
	return Settings{
		Method:           optimizer.MethodMarginalPrice,
		Fallback:         optimizer.MethodPairBisection,
		Optimizer:        optimizer.DefaultConfig(),
		Workers:          4,
		CorrectionPasses: 5,
	}
}

// Option configures a Service.
type Option func(*Service)

// WithSettings replaces the default settings.
func WithSettings(st Settings) Option {
	return func(s *Service) { s.settings = st }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service handles curve snapshot, pricing and optimizer requests. Curve
// snapshots are read from the store on every request, so concurrent
// requests never share mutable state.
type Service struct {
	store    store.Store
	limiter  *risk.ExposureLimiter // optional
	wsHub    *WSHub                // optional WebSocket hub for run broadcasts
	settings Settings
	logger   *slog.Logger
}

// NewService creates a new service. Pass nil for limiter to disable risk
// checks and nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, limiter *risk.ExposureLimiter, hub *WSHub, opts ...Option) *Service {
	s := &Service{
		store:    st,
		limiter:  limiter,
		wsHub:    hub,
		settings: DefaultSettings(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "api")
	s.settings.Optimizer.Logger = s.logger
	return s
}

// --- Request/Response types ---

// UpsertCurvesResponse is returned from POST /curves.
type UpsertCurvesResponse struct {
	IDs   []string `json:"ids"`
	Total int      `json:"total"`
}

// PriceResponse is returned from GET /price.
type PriceResponse struct {
	Quote   string             `json:"quote"`
	Prices  map[string]float64 `json:"prices"`
	Missing []string           `json:"missing"`
}

// --- HTTP Handlers ---

// UpsertCurves handles POST /api/v1/curves. The body is a JSON array of
// curve records; records without a cid get a generated one.
func (s *Service) UpsertCurves(w http.ResponseWriter, r *http.Request) {
	var recs []curve.Record
	if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.upsert(w, r, recs)
}

// UpsertCurveTable handles POST /api/v1/curves/table with a body in the
// tabular form served by GET /api/v1/curves/table.
func (s *Service) UpsertCurveTable(w http.ResponseWriter, r *http.Request) {
	var t container.Table
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	c, err := container.FromTable(t)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.upsert(w, r, c.Records())
}

func (s *Service) upsert(w http.ResponseWriter, r *http.Request, recs []curve.Record) {
	if len(recs) == 0 {
		writeError(w, "no curves given", http.StatusBadRequest)
		return
	}
	for i := range recs {
		if recs[i].ID == "" {
			recs[i].ID = uuid.New().String()
		}
	}
	// Validates every record and rejects duplicate ids within the batch.
	c, err := container.FromRecords(recs)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.store.UpsertCurves(ctx, c.Records()); err != nil {
		s.logger.Error("upsert curves failed", "err", err)
		writeError(w, "failed to store curves", http.StatusInternalServerError)
		return
	}

	total, err := s.store.ListCurves(ctx)
	if err != nil {
		writeError(w, "failed to list curves", http.StatusInternalServerError)
		return
	}
	metrics.CurvesLoaded.Set(float64(len(total)))

	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	s.logger.Info("curves upserted", "count", len(ids), "total", len(total))
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: MsgCurvesUpdated, Curves: len(total)})
	}

	writeJSON(w, http.StatusCreated, UpsertCurvesResponse{IDs: ids, Total: len(total)})
}

// ListCurves handles GET /api/v1/curves. Optional filters: pair (either
// direction), token, exchange, kind.
func (s *Service) ListCurves(w http.ResponseWriter, r *http.Request) {
	c, ok := s.filtered(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Records())
}

// CurveTable handles GET /api/v1/curves/table, accepting the same filters
// as ListCurves.
func (s *Service) CurveTable(w http.ResponseWriter, r *http.Request) {
	c, ok := s.filtered(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Table())
}

// GetCurve handles GET /api/v1/curves/{curveID}.
func (s *Service) GetCurve(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetCurve(r.Context(), chi.URLParam(r, "curveID"))
	if err != nil {
		writeStoreError(w, "curve", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteCurve handles DELETE /api/v1/curves/{curveID}.
func (s *Service) DeleteCurve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "curveID")
	ctx := r.Context()
	if _, err := s.store.GetCurve(ctx, id); err != nil {
		writeStoreError(w, "curve", err)
		return
	}
	if err := s.store.DeleteCurves(ctx, id); err != nil {
		writeError(w, "failed to delete curve", http.StatusInternalServerError)
		return
	}
	s.logger.Info("curve deleted", "cid", id)
	w.WriteHeader(http.StatusNoContent)
}

// GetPrice handles GET /api/v1/price?base=ETH,WBTC&quote=USDC&strict=true.
// Without strict, unpriceable tokens are reported in missing.
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bases := splitList(q.Get("base"))
	quote := q.Get("quote")
	if len(bases) == 0 || quote == "" {
		writeError(w, "base and quote are required", http.StatusBadRequest)
		return
	}
	strict, _ := strconv.ParseBool(q.Get("strict"))

	c, err := s.snapshot(r.Context())
	if err != nil {
		writeError(w, "failed to load curves", http.StatusInternalServerError)
		return
	}

	prices, missing, err := c.PriceEstimates(bases, quote, strict)
	if errors.Is(err, container.ErrNoPriceFound) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := PriceResponse{Quote: quote, Prices: prices, Missing: []string{}}
	for _, p := range missing {
		resp.Missing = append(resp.Missing, p.Base)
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

// snapshot loads every stored curve into a container.
func (s *Service) snapshot(ctx context.Context) (*container.Container, error) {
	recs, err := s.store.ListCurves(ctx)
	if err != nil {
		return nil, err
	}
	metrics.CurvesLoaded.Set(float64(len(recs)))

	var opts []container.Option
	if len(s.settings.QuoteRanking) > 0 {
		opts = append(opts, container.WithRanking(pair.NewRanking(s.settings.QuoteRanking)))
	}
	if len(s.settings.Intermediaries) > 0 {
		opts = append(opts, container.WithIntermediaries(s.settings.Intermediaries...))
	}
	return container.FromRecords(recs, opts...)
}

func (s *Service) filtered(w http.ResponseWriter, r *http.Request) (*container.Container, bool) {
	c, err := s.snapshot(r.Context())
	if err != nil {
		writeError(w, "failed to load curves", http.StatusInternalServerError)
		return nil, false
	}
	q := r.URL.Query()
	if v := q.Get("pair"); v != "" {
		p, err := pair.Parse(v)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return nil, false
		}
		c = c.FilterByPair(p, false)
	}
	if v := q.Get("token"); v != "" {
		c = c.FilterByToken(v)
	}
	if v := q.Get("exchange"); v != "" {
		c = c.FilterByMetadata(curve.MetaExchange, v)
	}
	if v := q.Get("kind"); v != "" {
		k, err := curve.ParseKind(v)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return nil, false
		}
		c = c.FilterByKind(k)
	}
	return c, true
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeStoreError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, what+" not found", http.StatusNotFound)
		return
	}
	writeError(w, "failed to load "+what, http.StatusInternalServerError)
}
