package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"signal-edge/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// ErrRunNotFound is returned by LoadReport for an unknown run id.
var ErrRunNotFound = errors.New("sqlite: sweep run not found")

// Reader provides read-only access to stored bars and sweep reports.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadBars returns bars for symbol + timeframe ordered by timestamp ascending.
func (r *Reader) ReadBars(ctx context.Context, symbol, timeframe string) (model.Series, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND timeframe = ?
		ORDER BY ts ASC
	`, symbol, timeframe)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var out model.Series
	for rows.Next() {
		var b model.Bar
		var ms int64
		var vol sql.NullFloat64
		if err := rows.Scan(&ms, &b.Open, &b.High, &b.Low, &b.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.UnixMilli(ms).UTC()
		b.Volume = vol.Float64
		out = append(out, b)
	}
	return out, rows.Err()
}

// LatestRunID returns the newest run id for timeframe, or ErrRunNotFound.
func (r *Reader) LatestRunID(ctx context.Context, timeframe string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM sweep_runs WHERE timeframe = ? ORDER BY id DESC LIMIT 1`, timeframe,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrRunNotFound
	}
	return id, err
}

// LoadReport rebuilds a stored report. NULL probabilities become absent
// horizons.
func (r *Reader) LoadReport(ctx context.Context, runID int64) (*model.Report, error) {
	report := &model.Report{
		Results:  make(map[model.ParamKey]model.EvaluationResult),
		Failures: make(map[model.ParamKey]string),
	}
	var genMs int64
	err := r.db.QueryRowContext(ctx,
		`SELECT timeframe, symbol, generated_at FROM sweep_runs WHERE id = ?`, runID,
	).Scan(&report.Timeframe, &report.Symbol, &genMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read run: %w", err)
	}
	report.GeneratedAt = time.UnixMilli(genMs).UTC()

	if err := r.loadCombos(ctx, runID, report); err != nil {
		return nil, err
	}
	if err := r.loadResults(ctx, runID, report); err != nil {
		return nil, err
	}
	if err := r.loadFailures(ctx, runID, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (r *Reader) loadCombos(ctx context.Context, runID int64, report *model.Report) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rsi_window, buy, sell, bars, eligible, baseline_bars, buy_signals, sell_signals, neutral, skipped
		FROM sweep_combos WHERE run_id = ?
	`, runID)
	if err != nil {
		return fmt.Errorf("sqlite query combos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k model.ParamKey
		var st model.BarStats
		if err := rows.Scan(&k.Window, &k.Buy, &k.Sell,
			&st.Bars, &st.Eligible, &st.BaselineBars, &st.Buy, &st.Sell, &st.Neutral, &st.Skipped); err != nil {
			return fmt.Errorf("sqlite scan combos: %w", err)
		}
		report.Results[k] = model.EvaluationResult{
			Key:             k,
			Signal:          make(map[int]float64),
			Baseline:        make(map[int]float64),
			Advantage:       make(map[int]float64),
			SignalSamples:   make(map[int]int),
			BaselineSamples: make(map[int]int),
			Stats:           st,
		}
	}
	return rows.Err()
}

func (r *Reader) loadResults(ctx context.Context, runID int64, report *model.Report) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rsi_window, buy, sell, horizon, signal_pct, baseline_pct, advantage, signal_samples, baseline_samples
		FROM sweep_results WHERE run_id = ?
	`, runID)
	if err != nil {
		return fmt.Errorf("sqlite query results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k model.ParamKey
		var n, sigN, baseN int
		var sig, base, adv sql.NullFloat64
		if err := rows.Scan(&k.Window, &k.Buy, &k.Sell, &n, &sig, &base, &adv, &sigN, &baseN); err != nil {
			return fmt.Errorf("sqlite scan results: %w", err)
		}
		res, ok := report.Results[k]
		if !ok {
			return fmt.Errorf("sqlite results: %s has no combo row", k)
		}
		if sig.Valid {
			res.Signal[n] = sig.Float64
			res.SignalSamples[n] = sigN
		}
		if base.Valid {
			res.Baseline[n] = base.Float64
			res.BaselineSamples[n] = baseN
		}
		if adv.Valid {
			res.Advantage[n] = adv.Float64
		}
	}
	return rows.Err()
}

func (r *Reader) loadFailures(ctx context.Context, runID int64, report *model.Report) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT rsi_window, buy, sell, error FROM sweep_failures WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("sqlite query failures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k model.ParamKey
		var msg string
		if err := rows.Scan(&k.Window, &k.Buy, &k.Sell, &msg); err != nil {
			return fmt.Errorf("sqlite scan failures: %w", err)
		}
		report.Failures[k] = msg
	}
	return rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
