package pipeline

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"signal-edge/config"
	"signal-edge/internal/dataset"
	"signal-edge/internal/indicator"
	"signal-edge/internal/model"
	"signal-edge/internal/notification"
	sqlitestore "signal-edge/internal/store/sqlite"
	"signal-edge/internal/sweep"
)

// ─── Fakes ──────────────────────────────────────────────────────

type memCache struct {
	mu      sync.Mutex
	reports map[string]*model.Report
	gets    int
	getErr  error
}

func newMemCache() *memCache { return &memCache{reports: make(map[string]*model.Report)} }

func (c *memCache) Get(_ context.Context, fp string) (*model.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.reports[fp], nil
}

func (c *memCache) Put(_ context.Context, fp string, r *model.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports[fp] = r
	return nil
}

type memStore struct {
	saved []*model.Report
}

func (s *memStore) SaveReport(_ context.Context, r *model.Report) (int64, error) {
	s.saved = append(s.saved, r)
	return int64(len(s.saved)), nil
}

type memBars struct {
	series model.Series
	asked  []string
}

func (b *memBars) ReadBars(_ context.Context, symbol, tf string) (model.Series, error) {
	b.asked = append(b.asked, symbol+"/"+tf)
	return b.series, nil
}

func (b *memBars) Close() error { return nil }

type recorder struct {
	alerts []notification.Alert
}

func (r *recorder) Name() string { return "rec" }

func (r *recorder) Send(_ context.Context, a notification.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────

func waveSeries(n int) model.Series {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(model.Series, n)
	for i := range s {
		c := 100 + 5*math.Sin(float64(i)/3)
		s[i] = model.Bar{TS: t0.Add(time.Duration(i) * time.Minute), Open: c, High: c + 0.2, Low: c - 0.2, Close: c, Volume: 1}
	}
	return s
}

func writeCSV(t *testing.T, dir, name string, s model.Series) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := (dataset.CSVSaver{}).Save(s, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	return path
}

func testPlan(datasets ...config.Dataset) *config.Plan {
	p := config.DefaultPlan()
	p.Windows = []int{5, 14}
	p.Buy = []float64{30, 40}
	p.Sell = []float64{60}
	p.Datasets = datasets
	return p
}

func newService(p *config.Plan, deps Deps, opts Options) *Service {
	if deps.Runner == nil {
		deps.Runner = sweep.NewRunner(indicator.NewRSIProvider(p.Seed()), 2, nil)
	}
	return New(p, deps, opts)
}

// ─── Tests ──────────────────────────────────────────────────────

func TestRun_ComputesPersistsCachesRenders(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "btc.csv", waveSeries(200))
	p := testPlan(config.Dataset{Timeframe: "1m", Path: path})

	cache, store := newMemCache(), &memStore{}
	var out bytes.Buffer
	svc := newService(p, Deps{Store: store, Cache: cache}, Options{Output: &out, Format: "table"})

	outcomes, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d", len(outcomes))
	}
	o := outcomes[0]
	if o.Cached || o.RunID != 1 || o.Bars != 200 {
		t.Errorf("outcome = %+v", o)
	}
	if len(o.Report.Results) != 4 || o.Report.Symbol != "BTC/USDT" {
		t.Errorf("report: %d results, symbol %q", len(o.Report.Results), o.Report.Symbol)
	}
	if len(store.saved) != 1 || len(cache.reports) != 1 {
		t.Errorf("saved %d, cached %d", len(store.saved), len(cache.reports))
	}
	for fp := range cache.reports {
		if !strings.HasPrefix(fp, "1m:ewm:") {
			t.Errorf("fingerprint %q lacks timeframe/seed prefix", fp)
		}
	}
	if !strings.Contains(out.String(), "Timeframe: 1m") || !strings.Contains(out.String(), "RSI_window_14_buy_40_sell_60") {
		t.Errorf("rendered output:\n%s", out.String())
	}
}

func TestRun_SecondRunHitsCache(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "btc.csv", waveSeries(120))
	p := testPlan(config.Dataset{Timeframe: "1m", Path: path})
	cache, store := newMemCache(), &memStore{}

	svc := newService(p, Deps{Store: store, Cache: cache}, Options{})
	if _, err := svc.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	outcomes, err := svc.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !outcomes[0].Cached || outcomes[0].RunID != 0 {
		t.Errorf("second run outcome = %+v", outcomes[0])
	}
	if len(store.saved) != 1 {
		t.Errorf("cached report was persisted again: %d saves", len(store.saved))
	}

	// A different seed is a different fingerprint.
	p.RSISeed = "sma"
	svc = newService(p, Deps{Store: store, Cache: cache}, Options{})
	outcomes, err = svc.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if outcomes[0].Cached {
		t.Error("seed change should miss the cache")
	}
}

func TestRun_CacheErrorFallsBackToCompute(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "btc.csv", waveSeries(80))
	cache := newMemCache()
	cache.getErr = errors.New("redis down")

	svc := newService(testPlan(config.Dataset{Timeframe: "1m", Path: path}), Deps{Cache: cache}, Options{})
	outcomes, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcomes[0].Cached || outcomes[0].Report == nil {
		t.Errorf("outcome = %+v", outcomes[0])
	}
}

func TestRun_MissingDatasetSkipped(t *testing.T) {
	dir := t.TempDir()
	good := writeCSV(t, dir, "btc1h.csv", waveSeries(80))
	p := testPlan(
		config.Dataset{Timeframe: "1m", Path: filepath.Join(dir, "absent.csv")},
		config.Dataset{Timeframe: "1h", Path: good},
	)

	outcomes, err := newService(p, Deps{}, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 2 || !outcomes[0].Missing || outcomes[1].Missing || outcomes[1].Report == nil {
		t.Errorf("outcomes = %+v", outcomes)
	}
}

func TestRun_BadFormatStops(t *testing.T) {
	p := testPlan(config.Dataset{Timeframe: "1m", Path: filepath.Join(t.TempDir(), "bars.xlsx")})
	_, err := newService(p, Deps{}, Options{}).Run(context.Background())
	if !errors.Is(err, dataset.ErrUnsupportedFormat) {
		t.Errorf("err = %v", err)
	}
}

func TestRunDataset_SQLiteSource(t *testing.T) {
	bars := &memBars{series: waveSeries(60)}
	p := testPlan()
	svc := newService(p, Deps{Bars: bars}, Options{})

	o, err := svc.RunDataset(context.Background(), config.Dataset{Timeframe: "5m", Source: "sqlite", Symbol: "ETH/USDT"})
	if err != nil {
		t.Fatalf("RunDataset: %v", err)
	}
	if o.Bars != 60 || o.Report.Symbol != "ETH/USDT" {
		t.Errorf("outcome = %+v", o)
	}
	if len(bars.asked) != 1 || bars.asked[0] != "ETH/USDT/5m" {
		t.Errorf("bar reader asked %v", bars.asked)
	}

	svc = newService(p, Deps{}, Options{})
	if _, err := svc.RunDataset(context.Background(), config.Dataset{Timeframe: "5m", Source: "sqlite"}); err == nil {
		t.Error("expected error without bar reader")
	}
}

func TestRunDataset_Alerts(t *testing.T) {
	rec := &recorder{}
	p := testPlan()
	svc := newService(p, Deps{Bars: &memBars{series: waveSeries(300)}, Notifiers: []notification.Notifier{rec}},
		Options{MinAdvantage: 0.0001})

	o, err := svc.RunDataset(context.Background(), config.Dataset{Timeframe: "1m", Source: "sqlite"})
	if err != nil {
		t.Fatal(err)
	}
	want := len(notification.EdgeAlerts(o.Report, 0.0001))
	if want == 0 || len(rec.alerts) != want {
		t.Errorf("alerts sent = %d, want %d", len(rec.alerts), want)
	}
}

func TestRunDataset_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := newService(testPlan(), Deps{Bars: &memBars{series: waveSeries(60)}}, Options{})
	if _, err := svc.RunDataset(ctx, config.Dataset{Timeframe: "1m", Source: "sqlite"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestShowStored(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "rsistats.db")
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: dbPath})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	r, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	svc := newService(testPlan(), Deps{Bars: &memBars{series: waveSeries(120)}, Store: w}, Options{})
	first, err := svc.RunDataset(context.Background(), config.Dataset{Timeframe: "1h", Source: "sqlite"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.RunDataset(context.Background(), config.Dataset{Timeframe: "1h", Source: "sqlite"})
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rep, err := ShowStored(context.Background(), r, "1h", 0, &out, "table")
	if err != nil {
		t.Fatalf("ShowStored latest: %v", err)
	}
	if second.RunID <= first.RunID || len(rep.Results) != len(second.Report.Results) {
		t.Errorf("runs %d/%d, loaded %d results", first.RunID, second.RunID, len(rep.Results))
	}
	if !strings.Contains(out.String(), "Timeframe: 1h") {
		t.Errorf("rendered:\n%s", out.String())
	}

	out.Reset()
	if _, err := ShowStored(context.Background(), r, "", first.RunID, &out, "csv"); err != nil {
		t.Fatalf("ShowStored by id: %v", err)
	}
	if !strings.HasPrefix(out.String(), "timeframe,rsi_window") {
		t.Errorf("csv output = %q", out.String())
	}

	if _, err := ShowStored(context.Background(), r, "4h", 0, &out, "table"); !errors.Is(err, sqlitestore.ErrRunNotFound) {
		t.Errorf("missing timeframe err = %v", err)
	}
	if _, err := ShowStored(context.Background(), r, "", 0, &out, "table"); err == nil {
		t.Error("expected error without run id or timeframe")
	}
}
