// cmd/fetchbars downloads historical OHLCV bars from Bybit into per-timeframe
// dataset files or the SQLite bars table. Existing data is extended from its
// last bar rather than downloaded again.
//
// Usage:
//
//	go run ./cmd/fetchbars --symbol=BTC/USDT --tf=1m,1h --out=data
//	go run ./cmd/fetchbars --tf=4h --format=sqlite   # uses SQLITE_PATH
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"signal-edge/config"
	"signal-edge/internal/dataset"
	"signal-edge/internal/logger"
	"signal-edge/internal/marketdata/bybit"
	"signal-edge/internal/metrics"
	sqlitestore "signal-edge/internal/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fetchbars: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	symbol := flag.String("symbol", "BTC/USDT", "Trading pair")
	tfStr := flag.String("tf", "1m", "Comma-separated timeframes, e.g. 1m,5m,1h")
	fromStr := flag.String("from", bybit.DefaultStart.Format(time.DateOnly), "First day to download (YYYY-MM-DD)")
	outDir := flag.String("out", ".", "Output directory for dataset files")
	format := flag.String("format", "csv", "csv, json, parquet or sqlite")
	category := flag.String("category", "spot", "Bybit category: spot, linear or inverse")
	pace := flag.Duration("pace", bybit.DefaultPace, "Minimum spacing between requests")
	flag.Parse()

	log := logger.Init("fetchbars", logger.ParseLevel(cfg.LogLevel), os.Stderr)

	from, err := time.Parse(time.DateOnly, *fromStr)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	tfs := strings.Split(*tfStr, ",")
	for i, tf := range tfs {
		tfs[i] = strings.TrimSpace(tf)
		if _, err := bybit.Interval(tfs[i]); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := bybit.NewClient(cfg.BybitBaseURL, log).WithCategory(*category).WithPace(*pace)

	reg := prometheus.NewRegistry()
	prom := metrics.NewMetrics(reg)
	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, metrics.NewHealthStatus(), reg)
		srv.Start()
		defer srv.Stop(context.Background())
	}

	var out sink
	if *format == "sqlite" {
		if cfg.SQLitePath == "" {
			return errors.New("--format=sqlite requires SQLITE_PATH")
		}
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath, OnCommit: prom.ObserveCommit})
		if err != nil {
			return err
		}
		defer w.Close()
		out = &sqliteSink{w: w}
	} else {
		saver, err := dataset.NewSaver(*format)
		if err != nil {
			return err
		}
		out = &fileSink{dir: *outDir, saver: saver}
	}

	now := time.Now().UTC()
	for _, tf := range tfs {
		last, ok, err := out.last(ctx, *symbol, tf)
		if err != nil {
			return fmt.Errorf("%s: %w", tf, err)
		}
		start := resumeFrom(from, last, ok)

		client.OnPage = func(n int) { prom.ObserveFetch(tf, n) }
		log.Info("downloading", "symbol", *symbol, "tf", tf, "from", start.Format(time.RFC3339))
		bars, st, err := client.History(ctx, *symbol, tf, start, now)
		if err != nil {
			return err
		}
		n, err := out.save(ctx, *symbol, tf, bars)
		if err != nil {
			return fmt.Errorf("%s: %w", tf, err)
		}
		log.Info("saved", "tf", tf, "new_bars", len(bars), "duplicates", st.Duplicates, "total", n)
	}
	return nil
}
