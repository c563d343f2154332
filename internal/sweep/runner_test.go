package sweep

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"signal-edge/internal/evaluator"
	"signal-edge/internal/indicator"
	"signal-edge/internal/metrics"
	"signal-edge/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func testSeries(n int) model.Series {
	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(model.Series, n)
	for i := range s {
		c := 100 + float64(i%9) - float64(i%4)*1.25
		s[i] = model.Bar{TS: t0.Add(time.Duration(i) * time.Minute), Open: c, High: c + 0.3, Low: c - 0.3, Close: c}
	}
	return s
}

// countingProvider wraps RSI and records calls per window.
type countingProvider struct {
	mu    sync.Mutex
	calls map[int]int
	inner indicator.Provider
	fail  map[int]error
	short map[int]bool // return a truncated series
}

func newCountingProvider() *countingProvider {
	return &countingProvider{
		calls: make(map[int]int),
		inner: indicator.NewRSIProvider(indicator.SeedEWM),
		fail:  make(map[int]error),
		short: make(map[int]bool),
	}
}

func (p *countingProvider) Name() string { return "RSI" }

func (p *countingProvider) Compute(series model.Series, window int) (model.IndicatorSeries, error) {
	p.mu.Lock()
	p.calls[window]++
	err := p.fail[window]
	short := p.short[window]
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ind, err := p.inner.Compute(series, window)
	if err != nil {
		return nil, err
	}
	if short {
		ind = ind[:len(ind)-1]
	}
	return ind, nil
}

func quietLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func gridPlan() Plan {
	return Plan{
		Windows:        []int{14, 7},
		BuyThresholds:  []float64{30, 25},
		SellThresholds: []float64{70, 75},
		Eval:           evaluator.DefaultConfig(),
	}
}

// ────────────────────────────────────────────────────────────
// Plan
// ────────────────────────────────────────────────────────────

func TestPlan_CombinationsOrder(t *testing.T) {
	got := gridPlan().Combinations()
	want := []model.ParamKey{
		{Window: 14, Buy: 30, Sell: 70}, {Window: 14, Buy: 30, Sell: 75},
		{Window: 14, Buy: 25, Sell: 70}, {Window: 14, Buy: 25, Sell: 75},
		{Window: 7, Buy: 30, Sell: 70}, {Window: 7, Buy: 30, Sell: 75},
		{Window: 7, Buy: 25, Sell: 70}, {Window: 7, Buy: 25, Sell: 75},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Combinations() = %v", got)
	}
	if gridPlan().Size() != 8 {
		t.Errorf("Size() = %d", gridPlan().Size())
	}
}

func TestPlan_Fingerprint(t *testing.T) {
	s := testSeries(50)
	p := DefaultPlan()
	a := p.Fingerprint(s)
	if a != p.Fingerprint(testSeries(50)) {
		t.Error("fingerprint not deterministic")
	}

	s2 := testSeries(50)
	s2[10].Close += 0.01
	if a == p.Fingerprint(s2) {
		t.Error("price change should change fingerprint")
	}

	p2 := DefaultPlan()
	p2.Eval.MoveThreshold = 0.001
	if a == p2.Fingerprint(s) {
		t.Error("threshold change should change fingerprint")
	}

	p3 := DefaultPlan()
	p3.SellThresholds = []float64{80}
	if a == p3.Fingerprint(s) {
		t.Error("sell set change should change fingerprint")
	}
}

// ────────────────────────────────────────────────────────────
// Runner
// ────────────────────────────────────────────────────────────

func TestRunner_MatchesDirectEvaluation(t *testing.T) {
	s := testSeries(300)
	prov := newCountingProvider()
	var logs bytes.Buffer
	r := NewRunner(prov, 4, quietLogger(&logs))

	report, err := r.Run(context.Background(), "1m", s, gridPlan())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Timeframe != "1m" || len(report.Results) != 8 || len(report.Failures) != 0 {
		t.Fatalf("report: tf=%s results=%d failures=%d", report.Timeframe, len(report.Results), len(report.Failures))
	}

	rsi := indicator.NewRSIProvider(indicator.SeedEWM)
	for _, k := range gridPlan().Combinations() {
		ind, _ := rsi.Compute(s, k.Window)
		want, err := evaluator.Evaluate(s, ind, k.Thresholds(), evaluator.DefaultConfig())
		if err != nil {
			t.Fatal(err)
		}
		want.Key = k
		if got := report.Results[k]; !reflect.DeepEqual(got, want) {
			t.Errorf("%s: sweep result differs from direct evaluation", k)
		}
	}

	for _, w := range []int{14, 7} {
		if prov.calls[w] != 1 {
			t.Errorf("window %d computed %d times, want 1", w, prov.calls[w])
		}
	}
}

func TestRunner_WorkerCountDoesNotChangeResults(t *testing.T) {
	s := testSeries(200)
	one, err := NewRunner(newCountingProvider(), 1, quietLogger(new(bytes.Buffer))).Run(context.Background(), "5m", s, gridPlan())
	if err != nil {
		t.Fatal(err)
	}
	many, err := NewRunner(newCountingProvider(), 16, quietLogger(new(bytes.Buffer))).Run(context.Background(), "5m", s, gridPlan())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(one.Results, many.Results) {
		t.Error("results depend on worker count")
	}
}

func TestRunner_FailuresAreIsolated(t *testing.T) {
	s := testSeries(120)
	prov := newCountingProvider()
	prov.short[7] = true // misaligned indicator for window 7

	plan := gridPlan()
	plan.Windows = []int{14, 7, 0}

	var logs bytes.Buffer
	report, err := NewRunner(prov, 3, quietLogger(&logs)).Run(context.Background(), "1h", s, plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Results) != 4 {
		t.Errorf("results = %d, want 4 (window 14 only)", len(report.Results))
	}
	if len(report.Failures) != 8 {
		t.Fatalf("failures = %d, want 8", len(report.Failures))
	}
	for k, msg := range report.Failures {
		if _, ok := report.Results[k]; ok {
			t.Errorf("%s is both failed and successful", k)
		}
		switch k.Window {
		case 7:
			if !strings.Contains(msg, evaluator.ErrMalformedInput.Error()) {
				t.Errorf("%s: failure %q, want malformed input", k, msg)
			}
		case 0:
			if !strings.Contains(msg, "window must be positive") {
				t.Errorf("%s: failure %q, want invalid window", k, msg)
			}
		default:
			t.Errorf("unexpected failed key %s", k)
		}
	}
	if !strings.Contains(logs.String(), "combination failed") {
		t.Error("failures were not logged")
	}
}

func TestRunner_ProviderErrorFailsWindow(t *testing.T) {
	prov := newCountingProvider()
	prov.fail[14] = errors.New("boom")
	report, err := NewRunner(prov, 2, quietLogger(new(bytes.Buffer))).Run(context.Background(), "1m", testSeries(60), DefaultPlan())
	if err != nil {
		t.Fatal(err)
	}
	msg, ok := report.Failures[model.ParamKey{Window: 14, Buy: 30, Sell: 70}]
	if !ok || !strings.Contains(msg, "boom") {
		t.Errorf("failures = %v", report.Failures)
	}
}

func TestRunner_InvalidEvalConfigRecordedPerCombination(t *testing.T) {
	plan := gridPlan()
	plan.Eval.Horizons = nil
	report, err := NewRunner(newCountingProvider(), 2, quietLogger(new(bytes.Buffer))).Run(context.Background(), "1m", testSeries(60), plan)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Results) != 0 || len(report.Failures) != plan.Size() {
		t.Errorf("results=%d failures=%d", len(report.Results), len(report.Failures))
	}
}

func TestRunner_LogsSkippedBars(t *testing.T) {
	s := testSeries(80)
	s[40].Close = 0
	var logs bytes.Buffer
	report, err := NewRunner(indicator.NewRSIProvider(indicator.SeedEWM), 1, quietLogger(&logs)).
		Run(context.Background(), "1m", s, DefaultPlan())
	if err != nil {
		t.Fatal(err)
	}
	res := report.Results[model.ParamKey{Window: 14, Buy: 30, Sell: 70}]
	if res.Stats.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", res.Stats.Skipped)
	}
	if !strings.Contains(logs.String(), "bars skipped") {
		t.Errorf("expected skip warning, logs: %s", logs.String())
	}
}

func TestRunner_EmptyPlan(t *testing.T) {
	plan := DefaultPlan()
	plan.BuyThresholds = nil
	report, err := NewRunner(newCountingProvider(), 2, quietLogger(new(bytes.Buffer))).Run(context.Background(), "1m", testSeries(30), plan)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Results)+len(report.Failures) != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := NewRunner(newCountingProvider(), 2, quietLogger(new(bytes.Buffer))).Run(ctx, "1m", testSeries(500), gridPlan())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if report != nil {
		t.Error("cancelled sweep should not return a report")
	}
}

func TestRunner_RecordsMetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	h := metrics.NewHealthStatus()

	r := NewRunner(newCountingProvider(), 2, quietLogger(new(bytes.Buffer)))
	r.Metrics = m
	r.Health = h

	plan := gridPlan()
	plan.Windows = []int{14, -1}
	if _, err := r.Run(context.Background(), "15m", testSeries(100), plan); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.CombosTotal.WithLabelValues("ok")); got != 4 {
		t.Errorf("ok combos = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.CombosTotal.WithLabelValues("failed")); got != 4 {
		t.Errorf("failed combos = %v, want 4", got)
	}
	if h.SweepRunning || h.CombosDone != 8 || h.CombosTotal != 8 || h.LastSweepAt.IsZero() {
		t.Errorf("health = running=%v done=%d total=%d", h.SweepRunning, h.CombosDone, h.CombosTotal)
	}
}
