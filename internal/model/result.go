package model

import (
	"encoding/json"
	"sort"
	"time"
)

// BarStats counts how bars were treated during one evaluation.
type BarStats struct {
	Bars         int `json:"bars"`          // series length
	Eligible     int `json:"eligible"`      // bars scored (indicator defined, full horizon coverage, usable close)
	BaselineBars int `json:"baseline_bars"` // bars feeding the baseline sample
	Buy          int `json:"buy"`
	Sell         int `json:"sell"`
	Neutral      int `json:"neutral"`
	Skipped      int `json:"skipped"` // bars dropped because close == 0
}

// EvaluationResult holds the per-horizon statistics of one parameter combination.
// A horizon with no samples is absent from the maps, never zero.
type EvaluationResult struct {
	Key             ParamKey        `json:"key"`
	Signal          map[int]float64 `json:"signal_probability"`
	Baseline        map[int]float64 `json:"baseline_probability"`
	Advantage       map[int]float64 `json:"advantage"`
	SignalSamples   map[int]int     `json:"signal_samples"`
	BaselineSamples map[int]int     `json:"baseline_samples"`
	Stats           BarStats        `json:"stats"`
}

// BestAdvantage returns the highest advantage ratio and its horizon.
// ok is false when no horizon has an advantage entry.
func (r *EvaluationResult) BestAdvantage() (value float64, horizon int, ok bool) {
	for _, n := range SortedHorizons(r.Advantage) {
		if a := r.Advantage[n]; !ok || a > value {
			value, horizon, ok = a, n, true
		}
	}
	return value, horizon, ok
}

// SortedHorizons returns the keys of a horizon map in ascending order.
func SortedHorizons[V any](m map[int]V) []int {
	out := make([]int, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Report is the outcome of a sweep over one dataset.
// Combinations that failed are listed in Failures and have no entry in Results.
type Report struct {
	Timeframe   string
	Symbol      string
	GeneratedAt time.Time
	Results     map[ParamKey]EvaluationResult
	Failures    map[ParamKey]string
}

// NewReport creates an empty report for a timeframe label.
func NewReport(timeframe string) *Report {
	return &Report{
		Timeframe:   timeframe,
		GeneratedAt: time.Now().UTC(),
		Results:     make(map[ParamKey]EvaluationResult),
		Failures:    make(map[ParamKey]string),
	}
}

// Keys returns the successful combination keys in sweep order.
func (r *Report) Keys() []ParamKey {
	return sortedKeys(r.Results)
}

// FailedKeys returns the failed combination keys in sweep order.
func (r *Report) FailedKeys() []ParamKey {
	return sortedKeys(r.Failures)
}

func sortedKeys[V any](m map[ParamKey]V) []ParamKey {
	keys := make([]ParamKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

type reportFailure struct {
	Key   ParamKey `json:"key"`
	Error string   `json:"error"`
}

type reportJSON struct {
	Timeframe   string             `json:"timeframe"`
	Symbol      string             `json:"symbol,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
	Results     []EvaluationResult `json:"results"`
	Failures    []reportFailure    `json:"failures,omitempty"`
}

// MarshalJSON encodes the keyed maps as ordered lists since JSON objects
// cannot use struct keys.
func (r *Report) MarshalJSON() ([]byte, error) {
	out := reportJSON{
		Timeframe:   r.Timeframe,
		Symbol:      r.Symbol,
		GeneratedAt: r.GeneratedAt,
		Results:     make([]EvaluationResult, 0, len(r.Results)),
	}
	for _, k := range r.Keys() {
		res := r.Results[k]
		res.Key = k
		out.Results = append(out.Results, res)
	}
	for _, k := range r.FailedKeys() {
		out.Failures = append(out.Failures, reportFailure{Key: k, Error: r.Failures[k]})
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds the keyed maps from the list encoding.
func (r *Report) UnmarshalJSON(data []byte) error {
	var in reportJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Timeframe = in.Timeframe
	r.Symbol = in.Symbol
	r.GeneratedAt = in.GeneratedAt
	r.Results = make(map[ParamKey]EvaluationResult, len(in.Results))
	for _, res := range in.Results {
		r.Results[res.Key] = res
	}
	r.Failures = make(map[ParamKey]string, len(in.Failures))
	for _, f := range in.Failures {
		r.Failures[f.Key] = f.Error
	}
	return nil
}
