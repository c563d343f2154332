// Package sweep runs the evaluator over every parameter combination of a
// plan on a bounded worker pool.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"signal-edge/internal/evaluator"
	"signal-edge/internal/indicator"
	"signal-edge/internal/logger"
	"signal-edge/internal/metrics"
	"signal-edge/internal/model"
)

// Runner evaluates plans. The series passed to Run is shared read-only by
// all workers.
type Runner struct {
	provider indicator.Provider
	workers  int
	log      *slog.Logger

	// Optional observers. Both may be nil.
	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
}

// NewRunner creates a runner. workers <= 0 uses runtime.NumCPU().
func NewRunner(provider indicator.Provider, workers int, log *slog.Logger) *Runner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{provider: provider, workers: workers, log: log}
}

type job struct {
	key model.ParamKey
	ind model.IndicatorSeries
	err error // indicator failure for the whole window
}

type outcome struct {
	key model.ParamKey
	res model.EvaluationResult
	err error
}

// Run evaluates every combination of plan over series and collects the
// results into a report for timeframe. A failing combination is recorded
// in Report.Failures and the sweep continues. Cancelling ctx aborts the
// sweep and returns ctx.Err().
func (r *Runner) Run(ctx context.Context, timeframe string, series model.Series, plan Plan) (*model.Report, error) {
	start := time.Now()
	report := model.NewReport(timeframe)
	r.Health.SweepStarted(timeframe, plan.Size())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan job, r.workers)
	outcomes := make(chan outcome, r.workers)

	// Producer: one indicator computation per window, then its threshold
	// pairs in buy → sell order.
	go func() {
		defer close(jobs)
		for _, w := range plan.Windows {
			ind, err := r.provider.Compute(series, w)
			if err != nil {
				err = fmt.Errorf("%s window %d: %w", r.provider.Name(), w, err)
			}
			for _, b := range plan.BuyThresholds {
				for _, s := range plan.SellThresholds {
					select {
					case jobs <- job{key: model.ParamKey{Window: w, Buy: b, Sell: s}, ind: ind, err: err}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					return
				}
				o := r.evaluate(series, j, plan.Eval)
				select {
				case outcomes <- o:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for o := range outcomes {
		r.Health.ComboDone()
		if o.err != nil {
			report.Failures[o.key] = o.err.Error()
			r.Metrics.ObserveFailure()
			r.log.Warn("combination failed",
				append(logger.LogWithRun(ctx), "tf", timeframe, "combo", o.key.String(), "error", o.err)...)
			continue
		}
		if o.res.Stats.Skipped > 0 {
			r.log.Warn("bars skipped: zero close",
				append(logger.LogWithRun(ctx), "tf", timeframe, "combo", o.key.String(), "skipped", o.res.Stats.Skipped)...)
		}
		report.Results[o.key] = o.res
	}

	if err := ctx.Err(); err != nil {
		r.Health.SweepFinished(err)
		return nil, err
	}

	dur := time.Since(start)
	r.Metrics.ObserveSweep(timeframe, dur)
	r.Health.SweepFinished(nil)
	r.log.Info("sweep complete", append(logger.LogWithRun(ctx),
		"tf", timeframe,
		"bars", len(series),
		"combos", len(report.Results),
		"failed", len(report.Failures),
		"duration", dur.Round(time.Millisecond).String(),
	)...)
	return report, nil
}

func (r *Runner) evaluate(series model.Series, j job, cfg evaluator.Config) outcome {
	if j.err != nil {
		return outcome{key: j.key, err: j.err}
	}
	start := time.Now()
	res, err := evaluator.Evaluate(series, j.ind, j.key.Thresholds(), cfg)
	if err != nil {
		return outcome{key: j.key, err: err}
	}
	res.Key = j.key
	r.Metrics.ObserveResult(&res, time.Since(start))
	return outcome{key: j.key, res: res}
}
