package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"signal-edge/internal/dataset"
	"signal-edge/internal/model"
	sqlitestore "signal-edge/internal/store/sqlite"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func hourBars(start time.Time, closes ...float64) model.Series {
	s := make(model.Series, len(closes))
	for i, c := range closes {
		s[i] = model.Bar{TS: start.Add(time.Duration(i) * time.Hour), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1}
	}
	return s
}

// fetchInto runs one last → save cycle the way run does.
func fetchInto(t *testing.T, out sink, symbol string, download func(start time.Time) model.Series) int {
	t.Helper()
	ctx := context.Background()
	last, ok, err := out.last(ctx, symbol, "1h")
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	n, err := out.save(ctx, symbol, "1h", download(resumeFrom(t0, last, ok)))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	return n
}

func TestResumeFrom(t *testing.T) {
	last := t0.Add(5 * time.Hour)
	if got := resumeFrom(t0, last, true); !got.Equal(last) {
		t.Errorf("resume = %v, want the last stored bar %v", got, last)
	}
	if got := resumeFrom(t0, time.Time{}, false); !got.Equal(t0) {
		t.Errorf("empty sink resume = %v, want %v", got, t0)
	}
	if got := resumeFrom(t0, t0.Add(-time.Hour), true); !got.Equal(t0) {
		t.Errorf("stale last resume = %v, want %v", got, t0)
	}
}

func TestFileSink_SymbolsDoNotShareFiles(t *testing.T) {
	dir := t.TempDir()
	out := &fileSink{dir: dir, saver: dataset.CSVSaver{}}

	fetchInto(t, out, "BTC/USDT", func(time.Time) model.Series { return hourBars(t0, 60000, 60100, 60200) })
	fetchInto(t, out, "ETH/USDT", func(start time.Time) model.Series {
		if !start.Equal(t0) {
			t.Errorf("ETH resumed from %v, BTC progress leaked", start)
		}
		return hourBars(t0, 3000, 3010)
	})

	btc, _, err := dataset.Load(filepath.Join(dir, "btc1h.csv"), "csv")
	if err != nil {
		t.Fatal(err)
	}
	eth, _, err := dataset.Load(filepath.Join(dir, "ethusdt_1h.csv"), "csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(btc) != 3 || btc[0].Close != 60000 {
		t.Errorf("btc file = %+v", btc)
	}
	if len(eth) != 2 || eth[1].Close != 3010 {
		t.Errorf("eth file = %+v", eth)
	}
}

func TestFileSink_ResumeReplacesUnfinishedBar(t *testing.T) {
	dir := t.TempDir()
	out := &fileSink{dir: dir, saver: dataset.CSVSaver{}}

	// The third bar was still forming when first saved.
	fetchInto(t, out, "BTC/USDT", func(time.Time) model.Series { return hourBars(t0, 100, 101, 102) })

	var requested time.Time
	n := fetchInto(t, out, "BTC/USDT", func(start time.Time) model.Series {
		requested = start
		return hourBars(start, 107, 108)
	})

	if want := t0.Add(2 * time.Hour); !requested.Equal(want) {
		t.Errorf("second download started at %v, want %v", requested, want)
	}
	s, _, err := dataset.Load(filepath.Join(dir, "btc1h.csv"), "csv")
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 || len(s) != 4 {
		t.Fatalf("bars = %d (save reported %d), want 4", len(s), n)
	}
	if s[2].Close != 107 || s[3].Close != 108 {
		t.Errorf("closes = %v, want the completed bar replacing the partial one", s.Closes())
	}
}

func TestSQLiteSink_ResumeReplacesUnfinishedBar(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bars.db")
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: dbPath})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	out := &sqliteSink{w: w}

	fetchInto(t, out, "BTC/USDT", func(time.Time) model.Series { return hourBars(t0, 100, 101, 102) })
	fetchInto(t, out, "BTC/USDT", func(start time.Time) model.Series { return hourBars(start, 107, 108) })
	fetchInto(t, out, "ETH/USDT", func(time.Time) model.Series { return hourBars(t0, 3000) })

	r, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	s, err := r.ReadBars(context.Background(), "BTC/USDT", "1h")
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 4 || s[2].Close != 107 {
		t.Errorf("closes = %v", s.Closes())
	}
}
