package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"signal-edge/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const defaultBatchSize = 1000

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/rsistats.db"

	// OnCommit, if set, is called with the duration of every committed transaction.
	OnCommit func(time.Duration)
}

// Writer persists bars and sweep reports. It holds a single connection so
// all writes are serialized.
type Writer struct {
	db       *sql.DB
	onCommit func(time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db, onCommit: cfg.OnCommit}, nil
}

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol    TEXT    NOT NULL,
			timeframe TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL,
			PRIMARY KEY (symbol, timeframe, ts)
		);

		CREATE TABLE IF NOT EXISTS sweep_runs (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			timeframe    TEXT    NOT NULL,
			symbol       TEXT    NOT NULL DEFAULT '',
			generated_at INTEGER NOT NULL,
			combos       INTEGER NOT NULL,
			failed       INTEGER NOT NULL,
			created_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE TABLE IF NOT EXISTS sweep_combos (
			run_id        INTEGER NOT NULL REFERENCES sweep_runs(id),
			rsi_window    INTEGER NOT NULL,
			buy           REAL    NOT NULL,
			sell          REAL    NOT NULL,
			bars          INTEGER NOT NULL,
			eligible      INTEGER NOT NULL,
			baseline_bars INTEGER NOT NULL,
			buy_signals   INTEGER NOT NULL,
			sell_signals  INTEGER NOT NULL,
			neutral       INTEGER NOT NULL,
			skipped       INTEGER NOT NULL,
			PRIMARY KEY (run_id, rsi_window, buy, sell)
		);

		CREATE TABLE IF NOT EXISTS sweep_results (
			run_id           INTEGER NOT NULL REFERENCES sweep_runs(id),
			rsi_window       INTEGER NOT NULL,
			buy              REAL    NOT NULL,
			sell             REAL    NOT NULL,
			horizon          INTEGER NOT NULL,
			signal_pct       REAL,
			baseline_pct     REAL,
			advantage        REAL,
			signal_samples   INTEGER NOT NULL DEFAULT 0,
			baseline_samples INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, rsi_window, buy, sell, horizon)
		);

		CREATE TABLE IF NOT EXISTS sweep_failures (
			run_id INTEGER NOT NULL REFERENCES sweep_runs(id),
			rsi_window INTEGER NOT NULL,
			buy    REAL    NOT NULL,
			sell   REAL    NOT NULL,
			error  TEXT    NOT NULL,
			PRIMARY KEY (run_id, rsi_window, buy, sell)
		);
	`)
	return err
}

func (w *Writer) commit(tx *sql.Tx, start time.Time) error {
	if err := tx.Commit(); err != nil {
		return err
	}
	if w.onCommit != nil {
		w.onCommit(time.Since(start))
	}
	return nil
}

// WriteBars upserts bars for symbol + timeframe in batched transactions.
func (w *Writer) WriteBars(ctx context.Context, symbol, timeframe string, bars model.Series) error {
	for lo := 0; lo < len(bars); lo += defaultBatchSize {
		hi := lo + defaultBatchSize
		if hi > len(bars) {
			hi = len(bars)
		}
		if err := w.insertBarBatch(ctx, symbol, timeframe, bars[lo:hi]); err != nil {
			return fmt.Errorf("sqlite insert bars: %w", err)
		}
	}
	log.Printf("[sqlite] stored %d %s %s bars", len(bars), symbol, timeframe)
	return nil
}

func (w *Writer) insertBarBatch(ctx context.Context, symbol, timeframe string, bars model.Series) error {
	start := time.Now()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, timeframe, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, timeframe, b.TS.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}

	return w.commit(tx, start)
}

// LastTimestamp returns the newest stored bar time for symbol + timeframe.
// ok is false when no bars exist.
func (w *Writer) LastTimestamp(ctx context.Context, symbol, timeframe string) (ts time.Time, ok bool, err error) {
	var ms sql.NullInt64
	err = w.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM bars WHERE symbol = ? AND timeframe = ?`,
		symbol, timeframe,
	).Scan(&ms)
	if err != nil || !ms.Valid {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms.Int64).UTC(), true, nil
}

// SaveReport stores report in one transaction and returns the new run id.
// Absent horizons are stored as NULL, never as zero.
func (w *Writer) SaveReport(ctx context.Context, report *model.Report) (int64, error) {
	start := time.Now()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	runID, err := insertReport(ctx, tx, report)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("sqlite save report: %w", err)
	}
	if err := w.commit(tx, start); err != nil {
		return 0, fmt.Errorf("sqlite save report: %w", err)
	}
	log.Printf("[sqlite] saved run %d (%s, %d combos, %d failed)", runID, report.Timeframe, len(report.Results), len(report.Failures))
	return runID, nil
}

func insertReport(ctx context.Context, tx *sql.Tx, report *model.Report) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO sweep_runs (timeframe, symbol, generated_at, combos, failed) VALUES (?, ?, ?, ?, ?)`,
		report.Timeframe, report.Symbol, report.GeneratedAt.UnixMilli(), len(report.Results), len(report.Failures),
	)
	if err != nil {
		return 0, err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	comboStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sweep_combos (run_id, rsi_window, buy, sell, bars, eligible, baseline_bars, buy_signals, sell_signals, neutral, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer comboStmt.Close()

	resultStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sweep_results (run_id, rsi_window, buy, sell, horizon, signal_pct, baseline_pct, advantage, signal_samples, baseline_samples)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer resultStmt.Close()

	for _, k := range report.Keys() {
		r := report.Results[k]
		st := r.Stats
		if _, err := comboStmt.ExecContext(ctx, runID, k.Window, k.Buy, k.Sell,
			st.Bars, st.Eligible, st.BaselineBars, st.Buy, st.Sell, st.Neutral, st.Skipped); err != nil {
			return 0, err
		}
		for _, n := range horizonUnion(&r) {
			if _, err := resultStmt.ExecContext(ctx, runID, k.Window, k.Buy, k.Sell, n,
				nullable(r.Signal, n), nullable(r.Baseline, n), nullable(r.Advantage, n),
				r.SignalSamples[n], r.BaselineSamples[n]); err != nil {
				return 0, err
			}
		}
	}

	for _, k := range report.FailedKeys() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sweep_failures (run_id, rsi_window, buy, sell, error) VALUES (?, ?, ?, ?, ?)`,
			runID, k.Window, k.Buy, k.Sell, report.Failures[k]); err != nil {
			return 0, err
		}
	}
	return runID, nil
}

func horizonUnion(r *model.EvaluationResult) []int {
	seen := make(map[int]struct{}, len(r.Baseline))
	for n := range r.Signal {
		seen[n] = struct{}{}
	}
	for n := range r.Baseline {
		seen[n] = struct{}{}
	}
	return model.SortedHorizons(seen)
}

func nullable(m map[int]float64, n int) sql.NullFloat64 {
	v, ok := m[n]
	return sql.NullFloat64{Float64: v, Valid: ok}
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
