package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"signal-edge/internal/evaluator"
	"signal-edge/internal/indicator"
	"signal-edge/internal/sweep"
)

// Timeframes lists the timeframe labels the pipeline understands, in
// ascending order.
var Timeframes = []string{"1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "12h", "1d", "1w", "1M"}

// ValidTimeframe reports whether tf is one of Timeframes.
func ValidTimeframe(tf string) bool {
	for _, t := range Timeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// Dataset maps a timeframe label to its bar source: a file (csv, json,
// parquet) or the SQLite bars table when Source is "sqlite".
type Dataset struct {
	Timeframe string `yaml:"timeframe"`
	Path      string `yaml:"path"`
	Format    string `yaml:"format"`
	Source    string `yaml:"source"` // "file" (default) or "sqlite"
	Symbol    string `yaml:"symbol"`
}

// Plan is the YAML sweep plan.
type Plan struct {
	Symbol          string    `yaml:"symbol"`
	RSISeed         string    `yaml:"rsi_seed"`
	Windows         []int     `yaml:"windows"`
	Buy             []float64 `yaml:"buy"`
	Sell            []float64 `yaml:"sell"`
	Horizons        []int     `yaml:"horizons"`
	MoveThreshold   float64   `yaml:"move_threshold"`
	BaselineAllBars bool      `yaml:"baseline_all_bars"`
	Shards          int       `yaml:"shards"`
	Datasets        []Dataset `yaml:"datasets"`
}

// DefaultPlan returns window 14, buy 30, sell 70, horizons 1..5, τ 0.0006
// and no datasets.
func DefaultPlan() *Plan {
	return &Plan{
		Symbol:        "BTC/USDT",
		RSISeed:       indicator.SeedEWM.String(),
		Windows:       []int{14},
		Buy:           []float64{30},
		Sell:          []float64{70},
		Horizons:      evaluator.DefaultHorizons(),
		MoveThreshold: evaluator.DefaultMoveThreshold,
	}
}

// LoadPlan reads a YAML plan. Omitted fields keep their DefaultPlan values.
// Relative dataset paths resolve against the plan file's directory.
func LoadPlan(path string) (*Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	p := DefaultPlan()
	if err := yaml.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}

	dir := filepath.Dir(path)
	for i := range p.Datasets {
		d := &p.Datasets[i]
		if d.Path != "" && !filepath.IsAbs(d.Path) {
			d.Path = filepath.Join(dir, d.Path)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate plan: %w", err)
	}
	return p, nil
}

// Validate checks that the plan can run.
func (p *Plan) Validate() error {
	if _, err := indicator.ParseSeed(p.RSISeed); err != nil {
		return err
	}
	if len(p.Windows) == 0 || len(p.Buy) == 0 || len(p.Sell) == 0 {
		return fmt.Errorf("windows, buy and sell must be non-empty")
	}
	for _, w := range p.Windows {
		if w <= 0 {
			return fmt.Errorf("window %d must be positive", w)
		}
	}
	if err := p.evalConfig().Validate(); err != nil {
		return err
	}
	if p.Shards < 0 {
		return fmt.Errorf("shards must be >= 0, got %d", p.Shards)
	}
	seen := make(map[string]bool)
	for _, d := range p.Datasets {
		if !ValidTimeframe(d.Timeframe) {
			return fmt.Errorf("dataset timeframe %q is not one of %v", d.Timeframe, Timeframes)
		}
		if seen[d.Timeframe] {
			return fmt.Errorf("duplicate dataset for timeframe %s", d.Timeframe)
		}
		seen[d.Timeframe] = true
		switch d.Source {
		case "", "file":
			if d.Path == "" {
				return fmt.Errorf("dataset %s: path is required", d.Timeframe)
			}
		case "sqlite":
		default:
			return fmt.Errorf("dataset %s: unknown source %q", d.Timeframe, d.Source)
		}
	}
	return nil
}

// Seed returns the parsed RSI seed. Validate guarantees it parses.
func (p *Plan) Seed() indicator.Seed {
	s, _ := indicator.ParseSeed(p.RSISeed)
	return s
}

func (p *Plan) evalConfig() evaluator.Config {
	return evaluator.Config{
		Horizons:        p.Horizons,
		MoveThreshold:   p.MoveThreshold,
		Shards:          p.Shards,
		BaselineAllBars: p.BaselineAllBars,
	}
}

// SweepPlan converts the parameter sets into a sweep.Plan.
func (p *Plan) SweepPlan() sweep.Plan {
	return sweep.Plan{
		Windows:        p.Windows,
		BuyThresholds:  p.Buy,
		SellThresholds: p.Sell,
		Eval:           p.evalConfig(),
	}
}

// DatasetSymbol returns the dataset symbol, falling back to the plan symbol.
func (p *Plan) DatasetSymbol(d Dataset) string {
	if d.Symbol != "" {
		return d.Symbol
	}
	return p.Symbol
}

// defaultFiles maps timeframe labels to the CSV names the download tool
// writes by default.
var defaultFiles = map[string]string{
	"1m":  "btc.csv",
	"3m":  "btc3m.csv",
	"5m":  "btc5m.csv",
	"15m": "btc15min.csv",
	"30m": "btc30min.csv",
	"1h":  "btc1h.csv",
	"2h":  "btc2h.csv",
	"4h":  "btc4h.csv",
	"6h":  "btc6h.csv",
	"12h": "btc12h.csv",
	"1d":  "btc1d.csv",
}

// DefaultDatasets returns one CSV dataset per intraday and daily timeframe
// under dir, in ascending timeframe order.
func DefaultDatasets(dir string) []Dataset {
	var out []Dataset
	for _, tf := range Timeframes {
		name, ok := defaultFiles[tf]
		if !ok {
			continue
		}
		out = append(out, Dataset{Timeframe: tf, Path: filepath.Join(dir, name), Format: "csv"})
	}
	return out
}

// DatasetFileName returns the CSV name for symbol and tf. BTC/USDT keeps
// the DefaultFileName names; other pairs get "<pair>_<tf>.csv", e.g.
// "ethusdt_1h.csv", so each instrument has its own file.
func DatasetFileName(symbol, tf string) string {
	pair := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
	if pair == "" || pair == "btcusdt" {
		return DefaultFileName(tf)
	}
	return pair + "_" + tf + ".csv"
}

// DefaultFileName returns the conventional CSV name for tf.
func DefaultFileName(tf string) string {
	if name, ok := defaultFiles[tf]; ok {
		return name
	}
	return "btc" + tf + ".csv"
}
