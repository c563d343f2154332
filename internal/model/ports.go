package model

import (
	"context"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the sweep pipeline from concrete storage
// implementations (SQLite, Redis, files).

// BarReader loads a historical bar series.
type BarReader interface {
	// ReadBars returns bars for symbol + timeframe ordered by timestamp ascending.
	ReadBars(ctx context.Context, symbol, timeframe string) (Series, error)

	// Close releases underlying resources.
	Close() error
}

// BarWriter persists downloaded bars.
type BarWriter interface {
	// WriteBars upserts bars for symbol + timeframe.
	WriteBars(ctx context.Context, symbol, timeframe string, bars Series) error

	// Close releases underlying resources.
	Close() error
}

// ReportStore persists finished sweep reports.
type ReportStore interface {
	// SaveReport stores a report and returns its run id.
	SaveReport(ctx context.Context, report *Report) (int64, error)
}

// ReportReader loads persisted sweep reports.
type ReportReader interface {
	// LatestRunID returns the newest run id stored for timeframe.
	LatestRunID(ctx context.Context, timeframe string) (int64, error)

	// LoadReport rebuilds the report of a stored run.
	LoadReport(ctx context.Context, runID int64) (*Report, error)
}

// ReportCache memoizes reports by a fingerprint of dataset + plan.
type ReportCache interface {
	// Get returns the cached report, or nil, nil on a miss.
	Get(ctx context.Context, fingerprint string) (*Report, error)

	// Put stores a report under fingerprint.
	Put(ctx context.Context, fingerprint string, report *Report) error
}
