package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/curve-optimizer/internal/batch"
	"github.com/atmx/curve-optimizer/internal/container"
	"github.com/atmx/curve-optimizer/internal/instructions"
	"github.com/atmx/curve-optimizer/internal/metrics"
	"github.com/atmx/curve-optimizer/internal/model"
	"github.com/atmx/curve-optimizer/internal/optimizer"
	"github.com/atmx/curve-optimizer/internal/pair"
)

// OptimizeRequest is the JSON body for POST /optimize. The curve set is
// the whole snapshot narrowed by curve_ids, pair and token, in that order.
type OptimizeRequest struct {
	Target string `json:"target"`
	Method string `json:"method,omitempty"`
	// Fallback overrides the service fallback; "" disables it.
	Fallback         *string            `json:"fallback,omitempty"`
	CurveIDs         []string           `json:"curve_ids,omitempty"`
	Pair             string             `json:"pair,omitempty"`
	Token            string             `json:"token,omitempty"`
	StartPrices      map[string]float64 `json:"start_prices,omitempty"`
	CorrectDirection bool               `json:"correct_direction,omitempty"`
}

// OptimizeResponse is returned from POST /optimize.
type OptimizeResponse struct {
	Run          *model.Run                 `json:"run"`
	Passes       int                        `json:"passes"`
	Instructions []instructions.Instruction `json:"instructions"`
	Table        instructions.FlowTable     `json:"table"`
}

// BatchRequest is the JSON body for POST /optimize/batch. Each miniverse
// is a list of curve ids.
type BatchRequest struct {
	Target     string     `json:"target"`
	Method     string     `json:"method,omitempty"`
	Fallback   *string    `json:"fallback,omitempty"`
	Miniverses [][]string `json:"miniverses"`
}

// BatchOutcome is one miniverse of a BatchResponse.
type BatchOutcome struct {
	Index   int    `json:"index"`
	Outcome string `json:"outcome"`
	RunID   string `json:"run_id,omitempty"`
	Profit  string `json:"profit,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchResponse is returned from POST /optimize/batch.
type BatchResponse struct {
	Summary  map[string]int `json:"summary"`
	Outcomes []BatchOutcome `json:"outcomes"`
}

// Optimize handles POST /api/v1/optimize.
// Runs the optimizer, builds instructions, checks exposure limits, and
// records the run.
func (s *Service) Optimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Target == "" {
		writeError(w, "target is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	c, err := s.snapshot(ctx)
	if err != nil {
		writeError(w, "failed to load curves", http.StatusInternalServerError)
		return
	}
	if len(req.CurveIDs) > 0 {
		if c, err = c.Select(req.CurveIDs...); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.Pair != "" {
		p, err := pair.Parse(req.Pair)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		c = c.FilterByPair(p, false)
	}
	if req.Token != "" {
		c = c.FilterByToken(req.Token)
	}

	opt, fb, err := s.strategies(req.Method, req.Fallback, req.StartPrices)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if fb != nil {
		opt = optimizer.Fallback{Primary: opt, Secondary: fb}
	}

	var (
		res     *optimizer.Result
		instrs  []instructions.Instruction
		removed []string
		passes  = 1
	)
	if req.CorrectDirection {
		corr, err := instructions.CorrectDirection(opt, c, req.Target, s.settings.CorrectionPasses)
		if err != nil {
			writeError(w, err.Error(), optimizeStatus(err))
			return
		}
		res, instrs, removed, passes, c = corr.Result, corr.Instructions, corr.Removed, corr.Passes, corr.Curves
	} else {
		if res, err = opt.Optimize(c, req.Target); err != nil {
			writeError(w, err.Error(), optimizeStatus(err))
			return
		}
		instrs = instructions.Build(res, c)
	}
	metrics.ObserveResult(res)

	if s.limiter != nil && res.Converged() {
		if err := s.limiter.Check(instrs, res.Prices); err != nil {
			metrics.RiskRejections.Inc()
			s.logger.Warn("run rejected by exposure limits", "target", req.Target, "err", err)
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
	}

	run := newRun(res, instrs, c, removed)
	if err := s.store.InsertRun(ctx, run); err != nil {
		s.logger.Error("record run failed", "run_id", run.ID, "err", err)
		writeError(w, "failed to record run", http.StatusInternalServerError)
		return
	}
	s.announce(run)

	writeJSON(w, http.StatusOK, OptimizeResponse{
		Run:          run,
		Passes:       passes,
		Instructions: instrs,
		Table:        instructions.Table(instrs, res.Prices),
	})
}

// OptimizeBatch handles POST /api/v1/optimize/batch.
// Miniverses run concurrently; a failing miniverse is reported in its
// outcome and never fails the request. Every miniverse with a result is
// recorded as a run.
func (s *Service) OptimizeBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Target == "" || len(req.Miniverses) == 0 {
		writeError(w, "target and miniverses are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	c, err := s.snapshot(ctx)
	if err != nil {
		writeError(w, "failed to load curves", http.StatusInternalServerError)
		return
	}
	miniverses := make([]*container.Container, len(req.Miniverses))
	for i, ids := range req.Miniverses {
		if miniverses[i], err = c.Select(ids...); err != nil {
			writeError(w, "miniverse "+strconv.Itoa(i)+": "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	opt, fb, err := s.strategies(req.Method, req.Fallback, nil)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts := []batch.Option{batch.WithLogger(s.logger)}
	if fb != nil {
		opts = append(opts, batch.WithFallback(fb))
	}

	outcomes, err := batch.NewRunner(opt, s.settings.Workers, opts...).Run(ctx, req.Target, miniverses)
	if err != nil {
		writeError(w, "batch interrupted: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	resp := BatchResponse{Summary: batch.Summary(outcomes), Outcomes: make([]BatchOutcome, len(outcomes))}
	for i, o := range outcomes {
		bo := BatchOutcome{Index: o.Index, Outcome: o.Label()}
		switch {
		case o.Err != nil:
			bo.Error = o.Err.Error()
		case o.Result != nil:
			mv := miniverses[o.Index]
			run := newRun(o.Result, instructions.Build(o.Result, mv), mv, nil)
			if err := s.store.InsertRun(ctx, run); err != nil {
				s.logger.Error("record run failed", "run_id", run.ID, "err", err)
				bo.Error = "failed to record run"
				break
			}
			s.announce(run)
			bo.RunID, bo.Profit, bo.Error = run.ID, run.Profit.String(), run.Error
		}
		resp.Outcomes[i] = bo
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetRun handles GET /api/v1/runs/{runID}.
func (s *Service) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, "run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListRuns handles GET /api/v1/runs?target=&method=&limit=.
func (s *Service) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.RunFilter{Target: q.Get("target"), Method: q.Get("method"), Limit: 100}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), f)
	if err != nil {
		writeError(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// --- Helpers ---

// strategies returns the primary optimizer and the fallback (nil when
// disabled) for a request, applying the service defaults.
func (s *Service) strategies(method string, fallback *string, start map[string]float64) (optimizer.Optimizer, optimizer.Optimizer, error) {
	cfg := s.settings.Optimizer
	cfg.StartPrices = start
	if method == "" {
		method = s.settings.Method
	}
	opt, err := optimizer.New(method, cfg)
	if err != nil {
		return nil, nil, err
	}

	fbMethod := s.settings.Fallback
	if fallback != nil {
		fbMethod = *fallback
	}
	if fbMethod == "" || fbMethod == opt.Name() {
		return opt, nil, nil
	}
	fb, err := optimizer.New(fbMethod, cfg)
	if err != nil {
		return nil, nil, err
	}
	return opt, fb, nil
}

func (s *Service) announce(run *model.Run) {
	s.logger.Info("run completed",
		"run_id", run.ID,
		"target", run.Target,
		"method", run.Method,
		"status", run.Status,
		"profit", run.Profit.String(),
		"iterations", run.Iterations,
	)
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         MsgRunCompleted,
			RunID:        run.ID,
			Target:       run.Target,
			Method:       run.Method,
			Status:       run.Status,
			Profit:       run.Profit.String(),
			Instructions: len(run.Instructions),
		})
	}
}

// optimizeStatus maps structural optimizer failures to 422 and anything
// else to 500.
func optimizeStatus(err error) int {
	for _, target := range []error{
		optimizer.ErrEmpty,
		optimizer.ErrUnknownToken,
		optimizer.ErrNotAPair,
		optimizer.ErrUnsupportedFamily,
		container.ErrNoPriceFound,
	} {
		if errors.Is(err, target) {
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

// newRun converts an optimizer result into its ledger record.
func newRun(r *optimizer.Result, instrs []instructions.Instruction, c *container.Container, removed []string) *model.Run {
	run := &model.Run{
		ID:         uuid.New().String(),
		Target:     r.Target,
		Method:     r.Method,
		Status:     r.Status.String(),
		Error:      r.Error,
		Profit:     dec(r.Profit()),
		Prices:     make(map[string]decimal.Decimal, len(r.Prices)),
		Removed:    removed,
		Iterations: r.Iterations,
		ElapsedMS:  r.Elapsed.Milliseconds(),
		DualityGap: r.DualityGap,
		CreatedAt:  time.Now().UTC(),
	}
	for tkn, p := range r.Prices {
		run.Prices[tkn] = dec(p)
	}
	for cv := range c.All() {
		run.CurveIDs = append(run.CurveIDs, cv.ID())
	}
	for i, in := range instrs {
		run.Instructions = append(run.Instructions, model.RunInstruction{
			RunID:        run.ID,
			Seq:          i,
			CurveID:      in.CurveID,
			Exchange:     in.Exchange,
			TokenIn:      in.TokenIn,
			AmountIn:     dec(in.AmountIn),
			TokenOut:     in.TokenOut,
			AmountOut:    dec(in.AmountOut),
			AmountInWei:  in.AmountInWei,
			AmountOutWei: in.AmountOutWei,
			Error:        in.Error,
		})
	}
	return run
}

// dec converts a float to decimal; non-finite values become zero.
func dec(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}
