// cmd/rsistats sweeps RSI parameter combinations over historical bars and
// reports, per timeframe, how often RSI signals were followed by a
// favorable move compared with the unconditional baseline.
//
// Usage:
//
//	go run ./cmd/rsistats --plan=plan.yaml
//	go run ./cmd/rsistats --data=data --tf=1h,4h --windows=7,14 --buy=25,30 --sell=70,75
//	SQLITE_PATH=data/rsistats.db go run ./cmd/rsistats --show-latest=1h
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"signal-edge/config"
	"signal-edge/internal/indicator"
	"signal-edge/internal/logger"
	"signal-edge/internal/metrics"
	"signal-edge/internal/notification"
	"signal-edge/internal/pipeline"
	redisstore "signal-edge/internal/store/redis"
	sqlitestore "signal-edge/internal/store/sqlite"
	"signal-edge/internal/sweep"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rsistats: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	// Flags
	planPath := flag.String("plan", "", "YAML sweep plan (default: built-in plan over --data)")
	dataDir := flag.String("data", ".", "Directory holding the default per-timeframe CSV files")
	tfStr := flag.String("tf", "", "Comma-separated timeframes to run (default: all in plan)")
	windows := flag.String("windows", "", "Comma-separated RSI windows, e.g. 7,14,21")
	buys := flag.String("buy", "", "Comma-separated buy thresholds")
	sells := flag.String("sell", "", "Comma-separated sell thresholds")
	horizons := flag.String("horizons", "", "Comma-separated horizons in bars")
	tau := flag.Float64("tau", 0, "Favorable move threshold (default: plan value)")
	seed := flag.String("seed", "", "RSI seed: ewm or sma")
	allBars := flag.Bool("baseline-all-bars", false, "Baseline over every bar with horizon coverage")
	format := flag.String("format", "table", "Output format: table, json or csv")
	workers := flag.Int("workers", cfg.SweepWorkers, "Worker goroutines (0 = NumCPU)")
	shards := flag.Int("shards", -1, "Bar-range shards per evaluation (-1 = plan value)")
	showRun := flag.Int64("show-run", 0, "Print stored run N from SQLITE_PATH instead of sweeping")
	showLatest := flag.String("show-latest", "", "Print the newest stored run for this timeframe instead of sweeping")
	flag.Parse()

	set := explicitFlags(flag.CommandLine)

	log := logger.Init("rsistats", logger.ParseLevel(cfg.LogLevel), os.Stderr)
	if err := cfg.Validate(); err != nil {
		return err
	}

	plan, err := loadPlan(*planPath, *dataDir)
	if err != nil {
		return err
	}
	ov := overrides{
		timeframes: *tfStr,
		windows:    *windows,
		buys:       *buys,
		sells:      *sells,
		horizons:   *horizons,
		seed:       *seed,
		shards:     *shards,
		allBars:    *allBars,
	}
	if set["tau"] {
		ov.tau = tau
	}
	if err := applyFlags(plan, ov); err != nil {
		return err
	}

	// Setup context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = logger.WithRunID(ctx, logger.GenerateRunID("sweep", time.Now()))

	// Metrics
	reg := prometheus.NewRegistry()
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()

	runner := sweep.NewRunner(indicator.NewRSIProvider(plan.Seed()), *workers, log)
	runner.Metrics = prom
	runner.Health = health
	deps := pipeline.Deps{Runner: runner, Metrics: prom, Log: log}

	// ---- Open SQLite ----
	var sqlWriter *sqlitestore.Writer
	if cfg.SQLitePath != "" {
		sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath, OnCommit: prom.ObserveCommit})
		if err != nil {
			return err
		}
		defer sqlWriter.Close()
		reader, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer reader.Close()
		deps.Store = sqlWriter
		deps.Bars = reader

		if *showRun > 0 || *showLatest != "" {
			_, err := pipeline.ShowStored(ctx, reader, *showLatest, *showRun, os.Stdout, *format)
			return err
		}
	} else if *showRun > 0 || *showLatest != "" {
		return errors.New("--show-run and --show-latest require SQLITE_PATH")
	}

	// ---- Connect to Redis ----
	var cache *redisstore.Cache
	if cfg.RedisAddr != "" {
		cache, err = redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, TTL: cfg.RedisTTL})
		if err != nil {
			log.Warn("redis unavailable, continuing without report cache", "error", err)
		} else {
			defer cache.Close()
			cache.OnBuffer = prom.ObserveBuffered
			cache.OnFlush = func(n int) {
				prom.ObserveBuffered(cache.PendingCount())
				log.Info("buffered reports cached", "count", n)
			}
			cb := cache.Breaker()
			prev := cb.OnStateChange
			cb.OnStateChange = func(from, to redisstore.State) {
				prev(from, to)
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
			}
			deps.Cache = cache
		}
	}

	// ---- Metrics server ----
	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, health, reg)
		srv.Start()
		defer srv.Stop(context.Background())

		var rdb *goredis.Client
		if cache != nil {
			rdb = cache.Client()
		}
		var db *sql.DB
		if sqlWriter != nil {
			db = sqlWriter.DB()
		}
		health.StartLivenessChecker(ctx, rdb, db, 15*time.Second)
	}

	deps.Notifiers = notifiers(cfg)

	svc := pipeline.New(plan, deps, pipeline.Options{
		Output:       os.Stdout,
		Format:       *format,
		MinAdvantage: cfg.AlertMinAdvantage,
	})

	start := time.Now()
	outcomes, err := svc.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Warn("sweep interrupted", logger.LogWithRun(ctx)...)
	}
	if cache != nil {
		cache.Flush(context.Background())
		if n := cache.PendingCount(); n > 0 {
			log.Warn("reports left uncached, redis still unavailable", "pending", n)
		}
	}
	printSummary(outcomes, time.Since(start))
	return err
}

func loadPlan(path, dataDir string) (*config.Plan, error) {
	if path != "" {
		return config.LoadPlan(path)
	}
	p := config.DefaultPlan()
	p.Datasets = config.DefaultDatasets(dataDir)
	return p, p.Validate()
}

// overrides carries command-line values that replace plan fields. Empty
// strings, shards < 0 and a nil tau leave the plan value in place.
type overrides struct {
	timeframes string
	windows    string
	buys       string
	sells      string
	horizons   string
	seed       string
	tau        *float64
	shards     int
	allBars    bool
}

// explicitFlags returns the names of the flags given on the command line,
// so a zero value can still override the plan.
func explicitFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// applyFlags overrides plan fields with any flags that were set.
func applyFlags(p *config.Plan, o overrides) error {
	var err error
	if o.windows != "" {
		if p.Windows, err = config.ParseInts(o.windows); err != nil {
			return fmt.Errorf("--windows: %w", err)
		}
	}
	if o.buys != "" {
		if p.Buy, err = config.ParseFloats(o.buys); err != nil {
			return fmt.Errorf("--buy: %w", err)
		}
	}
	if o.sells != "" {
		if p.Sell, err = config.ParseFloats(o.sells); err != nil {
			return fmt.Errorf("--sell: %w", err)
		}
	}
	if o.horizons != "" {
		if p.Horizons, err = config.ParseInts(o.horizons); err != nil {
			return fmt.Errorf("--horizons: %w", err)
		}
	}
	if o.seed != "" {
		p.RSISeed = o.seed
	}
	if o.tau != nil {
		p.MoveThreshold = *o.tau
	}
	if o.shards >= 0 {
		p.Shards = o.shards
	}
	if o.allBars {
		p.BaselineAllBars = true
	}
	if o.timeframes != "" {
		keep := make(map[string]bool)
		for _, tf := range strings.Split(o.timeframes, ",") {
			keep[strings.TrimSpace(tf)] = true
		}
		var ds []config.Dataset
		for _, d := range p.Datasets {
			if keep[d.Timeframe] {
				ds = append(ds, d)
			}
		}
		p.Datasets = ds
	}
	return p.Validate()
}

func notifiers(cfg *config.Config) []notification.Notifier {
	ns := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		ns = append(ns, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" {
		ns = append(ns, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return ns
}

func printSummary(outcomes []pipeline.Outcome, dur time.Duration) {
	var done, cached, missing, failed int
	for _, o := range outcomes {
		switch {
		case o.Missing:
			missing++
		case o.Cached:
			cached++
			done++
		default:
			done++
		}
		if o.Report != nil {
			failed += len(o.Report.Failures)
		}
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "╔══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║          SWEEP COMPLETE              ║")
	fmt.Fprintln(os.Stderr, "╠══════════════════════════════════════╣")
	fmt.Fprintf(os.Stderr, "║  Timeframes run:    %-16d ║\n", done)
	fmt.Fprintf(os.Stderr, "║  From cache:        %-16d ║\n", cached)
	fmt.Fprintf(os.Stderr, "║  Missing datasets:  %-16d ║\n", missing)
	fmt.Fprintf(os.Stderr, "║  Failed combos:     %-16d ║\n", failed)
	fmt.Fprintf(os.Stderr, "║  Duration:          %-16s ║\n", dur.Round(time.Millisecond))
	fmt.Fprintln(os.Stderr, "╚══════════════════════════════════════╝")
}
