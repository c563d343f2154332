package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"signal-edge/internal/model"
)

var csvHeader = []string{
	"timeframe", "rsi_window", "buy", "sell", "horizon",
	"signal_pct", "baseline_pct", "advantage",
	"signal_samples", "baseline_samples",
	"eligible", "buy_signals", "sell_signals", "skipped",
}

// WriteCSV writes one row per combination and horizon. Absent values are
// empty cells. Failed combinations are not included.
func WriteCSV(w io.Writer, r *model.Report, horizons []int) error {
	if horizons == nil {
		horizons = Horizons(r)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, k := range r.Keys() {
		res := r.Results[k]
		for _, n := range horizons {
			rec := []string{
				r.Timeframe,
				strconv.Itoa(k.Window),
				num(k.Buy),
				num(k.Sell),
				strconv.Itoa(n),
				optNum(res.Signal, n),
				optNum(res.Baseline, n),
				optNum(res.Advantage, n),
				optInt(res.SignalSamples, n),
				optInt(res.BaselineSamples, n),
				strconv.Itoa(res.Stats.Eligible),
				strconv.Itoa(res.Stats.Buy),
				strconv.Itoa(res.Stats.Sell),
				strconv.Itoa(res.Stats.Skipped),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func optNum(m map[int]float64, n int) string {
	if v, ok := m[n]; ok {
		return num(v)
	}
	return ""
}

func optInt(m map[int]int, n int) string {
	if v, ok := m[n]; ok {
		return strconv.Itoa(v)
	}
	return ""
}
