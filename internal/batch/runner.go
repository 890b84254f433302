// Package batch optimizes many independent curve subsets ("miniverses")
// concurrently. A failure in one miniverse is recorded on its Outcome and
// never aborts the others.
package batch

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/atmx/curve-optimizer/internal/container"
	"github.com/atmx/curve-optimizer/internal/metrics"
	"github.com/atmx/curve-optimizer/internal/optimizer"
)

// Outcome labels used for metrics and logs.
const (
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

// Outcome is the result of one miniverse, at the miniverse's index.
type Outcome struct {
	Index  int
	Result *optimizer.Result
	Err    error
}

// Label names the outcome: the result status, "error" or "canceled".
func (o Outcome) Label() string {
	switch {
	case errors.Is(o.Err, context.Canceled) || errors.Is(o.Err, context.DeadlineExceeded):
		return OutcomeCanceled
	case o.Err != nil || o.Result == nil:
		return OutcomeError
	}
	return o.Result.Status.String()
}

// Profitable reports whether the miniverse converged with a profit.
func (o Outcome) Profitable() bool {
	return o.Err == nil && o.Result != nil && o.Result.Converged() && o.Result.Profit() > 0
}

// Option configures a Runner.
type Option func(*Runner)

// WithFallback sets the strategy retried on miniverses whose primary
// result did not converge.
func WithFallback(opt optimizer.Optimizer) Option {
	return func(r *Runner) { r.fallback = opt }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// Runner fans optimizer calls out over a bounded number of workers.
type Runner struct {
	opt      optimizer.Optimizer
	fallback optimizer.Optimizer
	workers  int
	logger   *slog.Logger
}

// NewRunner creates a runner using opt with at most workers concurrent
// optimizer calls (at least one).
func NewRunner(opt optimizer.Optimizer, workers int, opts ...Option) *Runner {
	r := &Runner{opt: opt, workers: max(workers, 1), logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("component", "batch")
	return r
}

// Run optimizes every miniverse for target. Outcomes are returned in input
// order. The error is non-nil only when ctx ends before all miniverses
// ran; the outcomes gathered so far are still returned.
func (r *Runner) Run(ctx context.Context, target string, miniverses []*container.Container) ([]Outcome, error) {
	opt := r.opt
	if r.fallback != nil {
		opt = optimizer.Fallback{Primary: r.opt, Secondary: r.fallback}
	}

	outcomes := make([]Outcome, len(miniverses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, mv := range miniverses {
		g.Go(func() error {
			out := Outcome{Index: i}
			if err := gctx.Err(); err != nil {
				out.Err = err
			} else {
				out.Result, out.Err = opt.Optimize(mv, target)
			}
			outcomes[i] = out
			r.record(out)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, ctx.Err()
}

func (r *Runner) record(o Outcome) {
	metrics.BatchMiniverses.WithLabelValues(o.Label()).Inc()
	if o.Result != nil {
		metrics.ObserveResult(o.Result)
	}
	switch {
	case o.Err != nil:
		r.logger.Warn("miniverse skipped", "index", o.Index, "err", o.Err)
	case !o.Result.Converged():
		r.logger.Info("miniverse did not converge", "index", o.Index,
			"status", o.Result.Status, "error", o.Result.Error)
	default:
		r.logger.Debug("miniverse optimized", "index", o.Index, "profit", o.Result.Profit())
	}
}

// Summary counts outcomes by label.
func Summary(outcomes []Outcome) map[string]int {
	out := make(map[string]int)
	for _, o := range outcomes {
		out[o.Label()]++
	}
	return out
}
