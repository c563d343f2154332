package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"signal-edge/config"
	"signal-edge/internal/dataset"
	"signal-edge/internal/model"
	sqlitestore "signal-edge/internal/store/sqlite"
)

// resumeFrom returns where a download continues. The newest stored bar is
// requested again: it may have been saved while its interval was still
// open, and both sinks replace a bar with a later copy of the same
// timestamp.
func resumeFrom(from, last time.Time, ok bool) time.Time {
	if ok && last.After(from) {
		return last
	}
	return from
}

// sink is where downloaded bars end up.
type sink interface {
	// last returns the timestamp of the newest stored bar.
	last(ctx context.Context, symbol, tf string) (time.Time, bool, error)
	// save stores bars and returns the resulting dataset size (-1 if unknown).
	save(ctx context.Context, symbol, tf string, bars model.Series) (int, error)
}

type sqliteSink struct {
	w *sqlitestore.Writer
}

func (s *sqliteSink) last(ctx context.Context, symbol, tf string) (time.Time, bool, error) {
	return s.w.LastTimestamp(ctx, symbol, tf)
}

func (s *sqliteSink) save(ctx context.Context, symbol, tf string, bars model.Series) (int, error) {
	return -1, s.w.WriteBars(ctx, symbol, tf, bars)
}

// fileSink rewrites one dataset file per symbol and timeframe, merging
// with what the file already holds.
type fileSink struct {
	dir   string
	saver dataset.Saver

	existing model.Series
}

func (f *fileSink) path(symbol, tf string) string {
	name := config.DatasetFileName(symbol, tf)
	return filepath.Join(f.dir, strings.TrimSuffix(name, filepath.Ext(name))+"."+f.saver.Extension())
}

func (f *fileSink) last(_ context.Context, symbol, tf string) (time.Time, bool, error) {
	f.existing = nil
	s, _, err := dataset.Load(f.path(symbol, tf), f.saver.Extension())
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	f.existing = s
	if len(s) == 0 {
		return time.Time{}, false, nil
	}
	return s[len(s)-1].TS, true, nil
}

// save must follow last for the same symbol and timeframe.
func (f *fileSink) save(_ context.Context, symbol, tf string, bars model.Series) (int, error) {
	merged, _ := dataset.Normalize(append(append(model.Series(nil), f.existing...), bars...))
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return 0, err
	}
	path := f.path(symbol, tf)
	if err := f.saver.Save(merged, path); err != nil {
		return 0, err
	}
	slog.Debug("dataset written", "path", path, "bars", len(merged))
	return len(merged), nil
}
