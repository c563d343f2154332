// Package report renders sweep reports as a console table, JSON or CSV.
//
// Every format keeps an absent horizon distinct from a zero probability:
// the table prints "-", CSV leaves the cell empty and JSON omits the key.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"signal-edge/internal/model"
)

// ErrUnknownFormat is returned by Write for an unrecognized format name.
var ErrUnknownFormat = errors.New("report: unknown format")

const (
	labelWidth  = 40
	columnWidth = 10
)

// Horizons returns the union of horizons present in any result, ascending.
func Horizons(r *model.Report) []int {
	seen := make(map[int]bool)
	for _, res := range r.Results {
		for n := range res.Baseline {
			seen[n] = true
		}
		for n := range res.Signal {
			seen[n] = true
		}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// ColumnLabel returns "1 Candle", "2 Candles", ...
func ColumnLabel(n int) string {
	if n == 1 {
		return "1 Candle"
	}
	return fmt.Sprintf("%d Candles", n)
}

// Write renders r in the named format: "table", "json" or "csv".
// A nil horizons slice uses Horizons(r).
func Write(w io.Writer, format string, r *model.Report, horizons []int) error {
	switch strings.ToLower(format) {
	case "", "table":
		return WriteTable(w, r, horizons)
	case "json":
		return WriteJSON(w, r)
	case "csv":
		return WriteCSV(w, r, horizons)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// WriteTable prints one block per combination with the signal probability
// (RSI), baseline (Low+High) and advantage rows, followed by any failures.
func WriteTable(w io.Writer, r *model.Report, horizons []int) error {
	if horizons == nil {
		horizons = Horizons(r)
	}
	ew := &errWriter{w: w}
	width := labelWidth + (columnWidth+1)*len(horizons)

	ew.printf("Timeframe: %s\n", r.Timeframe)
	ew.printf("%-*s", labelWidth, "Parameters")
	for _, n := range horizons {
		ew.printf(" %-*s", columnWidth, ColumnLabel(n))
	}
	ew.printf("\n%s\n", strings.Repeat("=", width))

	for _, k := range r.Keys() {
		res := r.Results[k]
		ew.printf("RSI Probabilities for %s\n", k)
		ew.row("RSI", res.Signal, horizons)
		ew.row("Low+High", res.Baseline, horizons)
		ew.row("Advantage RSI", res.Advantage, horizons)
		ew.printf("%s\n", strings.Repeat("-", width))
	}

	if keys := r.FailedKeys(); len(keys) > 0 {
		ew.printf("Failed combinations: %d\n", len(keys))
		for _, k := range keys {
			ew.printf("  %s: %s\n", k, r.Failures[k])
		}
	}
	return ew.err
}

// WriteJSON writes the indented report JSON.
func WriteJSON(w io.Writer, r *model.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func (e *errWriter) row(label string, values map[int]float64, horizons []int) {
	e.printf("%-*s", labelWidth, label)
	for _, n := range horizons {
		if v, ok := values[n]; ok {
			e.printf(" %-*.2f", columnWidth, v)
		} else {
			e.printf(" %-*s", columnWidth, "-")
		}
	}
	e.printf("\n")
}
