// Package pipeline runs a sweep plan end to end: load each timeframe's bars,
// reuse or compute its report, render, persist, cache and alert.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"signal-edge/config"
	"signal-edge/internal/dataset"
	"signal-edge/internal/logger"
	"signal-edge/internal/metrics"
	"signal-edge/internal/model"
	"signal-edge/internal/notification"
	"signal-edge/internal/report"
	"signal-edge/internal/sweep"
)

// ErrDatasetMissing marks a dataset whose file does not exist. Run logs and
// skips such timeframes.
var ErrDatasetMissing = errors.New("dataset missing")

// Deps are the collaborators of a Service. Only Runner is required.
type Deps struct {
	Runner    *sweep.Runner
	Bars      model.BarReader   // needed for datasets with source "sqlite"
	Store     model.ReportStore // persists every computed report
	Cache     model.ReportCache // memoizes reports by fingerprint
	Notifiers []notification.Notifier
	Metrics   *metrics.Metrics
	Log       *slog.Logger
}

// Options control rendering and alerting.
type Options struct {
	Output       io.Writer // rendered reports; nil disables rendering
	Format       string    // table, json or csv
	MinAdvantage float64   // edge alert threshold; <= 0 disables edge alerts
}

// Outcome describes what happened to one timeframe.
type Outcome struct {
	Timeframe string
	Bars      int
	Report    *model.Report
	Cached    bool  // report came from the cache
	RunID     int64 // store run id, 0 when not persisted
	Missing   bool  // dataset file not found, timeframe skipped
}

// Service is the top-level orchestrator of a sweep run.
type Service struct {
	plan *config.Plan
	deps Deps
	opts Options
	log  *slog.Logger
}

// New creates a service for plan.
func New(plan *config.Plan, deps Deps, opts Options) *Service {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{plan: plan, deps: deps, opts: opts, log: log}
}

// Run processes every dataset of the plan in order. A missing dataset file
// is logged and skipped; any other error stops the run.
func (s *Service) Run(ctx context.Context) ([]Outcome, error) {
	var out []Outcome
	for _, ds := range s.plan.Datasets {
		o, err := s.RunDataset(ctx, ds)
		if errors.Is(err, ErrDatasetMissing) {
			s.log.Warn("dataset not found, skipping",
				append(logger.LogWithRun(ctx), "tf", ds.Timeframe, "path", ds.Path)...)
			out = append(out, Outcome{Timeframe: ds.Timeframe, Missing: true})
			continue
		}
		if err != nil {
			return out, fmt.Errorf("timeframe %s: %w", ds.Timeframe, err)
		}
		out = append(out, o)
	}
	return out, nil
}

// RunDataset processes a single timeframe.
func (s *Service) RunDataset(ctx context.Context, ds config.Dataset) (Outcome, error) {
	o := Outcome{Timeframe: ds.Timeframe}
	symbol := s.plan.DatasetSymbol(ds)

	series, err := s.load(ctx, ds, symbol)
	if err != nil {
		return o, err
	}
	o.Bars = len(series)

	sp := s.plan.SweepPlan()
	fp := fmt.Sprintf("%s:%s:%s", ds.Timeframe, s.plan.Seed(), sp.Fingerprint(series))

	rep := s.lookup(ctx, fp)
	if rep != nil {
		o.Cached = true
		s.log.Info("report served from cache",
			append(logger.LogWithRun(ctx), "tf", ds.Timeframe, "fingerprint", fp)...)
	} else {
		rep, err = s.deps.Runner.Run(ctx, ds.Timeframe, series, sp)
		if err != nil {
			return o, err
		}
		rep.Symbol = symbol
		rep.GeneratedAt = time.Now().UTC()

		if s.deps.Store != nil {
			id, err := s.deps.Store.SaveReport(ctx, rep)
			if err != nil {
				s.log.Error("report not persisted",
					append(logger.LogWithRun(ctx), "tf", ds.Timeframe, "error", err)...)
			}
			o.RunID = id
		}
		if s.deps.Cache != nil {
			if err := s.deps.Cache.Put(ctx, fp, rep); err != nil {
				s.log.Warn("report not cached",
					append(logger.LogWithRun(ctx), "tf", ds.Timeframe, "error", err)...)
			}
		}
	}
	o.Report = rep

	if s.opts.Output != nil {
		if err := report.Write(s.opts.Output, s.opts.Format, rep, sp.Eval.HorizonSet()); err != nil {
			return o, fmt.Errorf("render: %w", err)
		}
	}

	alerts := notification.EdgeAlerts(rep, s.opts.MinAdvantage)
	if len(alerts) > 0 && len(s.deps.Notifiers) > 0 {
		if err := notification.Dispatch(ctx, s.deps.Notifiers, alerts, s.deps.Metrics.ObserveAlert); err != nil {
			s.log.Warn("alert delivery failed",
				append(logger.LogWithRun(ctx), "tf", ds.Timeframe, "error", err)...)
		}
	}
	return o, nil
}

func (s *Service) load(ctx context.Context, ds config.Dataset, symbol string) (model.Series, error) {
	if ds.Source == "sqlite" {
		if s.deps.Bars == nil {
			return nil, errors.New("sqlite dataset without a bar reader")
		}
		series, err := s.deps.Bars.ReadBars(ctx, symbol, ds.Timeframe)
		if err != nil {
			return nil, err
		}
		series, st := dataset.Normalize(series)
		s.logNormalize(ctx, ds, st)
		return series, nil
	}

	series, st, err := dataset.Load(ds.Path, ds.Format)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetMissing, ds.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ds.Path, err)
	}
	s.logNormalize(ctx, ds, st)
	return series, nil
}

func (s *Service) logNormalize(ctx context.Context, ds config.Dataset, st dataset.NormalizeStats) {
	s.log.Info("dataset loaded", append(logger.LogWithRun(ctx),
		"tf", ds.Timeframe,
		"rows", st.Input,
		"dropped", st.Dropped,
		"duplicates", st.Duplicates,
	)...)
}

// lookup returns a cached report or nil. Cache errors are logged and
// treated as a miss.
func (s *Service) lookup(ctx context.Context, fp string) *model.Report {
	if s.deps.Cache == nil {
		return nil
	}
	rep, err := s.deps.Cache.Get(ctx, fp)
	switch {
	case err != nil:
		s.deps.Metrics.ObserveCache("error")
		s.log.Warn("cache lookup failed", append(logger.LogWithRun(ctx), "error", err)...)
		return nil
	case rep == nil:
		s.deps.Metrics.ObserveCache("miss")
		return nil
	default:
		s.deps.Metrics.ObserveCache("hit")
		return rep
	}
}

// ShowStored renders a persisted report: run runID when it is positive,
// otherwise the newest run stored for timeframe.
func ShowStored(ctx context.Context, src model.ReportReader, timeframe string, runID int64, w io.Writer, format string) (*model.Report, error) {
	if runID <= 0 {
		if timeframe == "" {
			return nil, errors.New("a run id or a timeframe is required")
		}
		id, err := src.LatestRunID(ctx, timeframe)
		if err != nil {
			return nil, fmt.Errorf("latest run for %s: %w", timeframe, err)
		}
		runID = id
	}
	rep, err := src.LoadReport(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := report.Write(w, format, rep, nil); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return rep, nil
}
