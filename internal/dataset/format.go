// Package dataset loads and saves historical bar series as CSV, JSON or
// Parquet files and normalizes them for evaluation.
package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"signal-edge/internal/model"
)

// ErrUnsupportedFormat is returned for an unknown file format.
var ErrUnsupportedFormat = errors.New("dataset: unsupported format")

// Row is the on-disk bar layout shared by the JSON and Parquet codecs.
// Timestamp is unix milliseconds, UTC.
type Row struct {
	Timestamp int64   `json:"timestamp" parquet:"timestamp"`
	Open      float64 `json:"open" parquet:"open"`
	High      float64 `json:"high" parquet:"high"`
	Low       float64 `json:"low" parquet:"low"`
	Close     float64 `json:"close" parquet:"close"`
	Volume    float64 `json:"volume" parquet:"volume"`
}

func toRows(s model.Series) []Row {
	rows := make([]Row, len(s))
	for i, b := range s {
		rows[i] = Row{
			Timestamp: b.TS.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	return rows
}

func fromRows(rows []Row) model.Series {
	s := make(model.Series, len(rows))
	for i, r := range rows {
		s[i] = model.Bar{
			TS:     time.UnixMilli(r.Timestamp).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	return s
}

// FormatFromPath infers "csv", "json" or "parquet" from the file extension.
func FormatFromPath(path string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "csv", "json", "parquet":
		return ext, nil
	case "pq":
		return "parquet", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
}

func normalizeFormat(format string) string {
	return strings.ToLower(strings.TrimSpace(format))
}
