package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"signal-edge/internal/model"
)

// Loader reads a bar series from a file.
type Loader interface {
	Load(path string) (model.Series, error)
}

// NewLoader returns the loader for format (csv, json, parquet).
func NewLoader(format string) (Loader, error) {
	switch normalizeFormat(format) {
	case "csv":
		return CSVLoader{}, nil
	case "json":
		return JSONLoader{}, nil
	case "parquet":
		return ParquetLoader{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Load reads path with the given format ("" infers it from the extension)
// and returns the normalized series.
func Load(path, format string) (model.Series, NormalizeStats, error) {
	if format == "" {
		f, err := FormatFromPath(path)
		if err != nil {
			return nil, NormalizeStats{}, err
		}
		format = f
	}
	l, err := NewLoader(format)
	if err != nil {
		return nil, NormalizeStats{}, err
	}
	raw, err := l.Load(path)
	if err != nil {
		return nil, NormalizeStats{}, err
	}
	s, st := Normalize(raw)
	return s, st, nil
}

// ParquetLoader reads files written by ParquetSaver.
type ParquetLoader struct{}

func (ParquetLoader) Load(path string) (model.Series, error) {
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return fromRows(rows), nil
}

// JSONLoader reads a JSON array of Row objects.
type JSONLoader struct{}

func (JSONLoader) Load(path string) (model.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []Row
	if err := json.NewDecoder(f).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode json %s: %w", path, err)
	}
	return fromRows(rows), nil
}

// CSVLoader reads a headered CSV. Column names are matched case-insensitively;
// "timestamp" may also be spelled "time", "datetime", "date" or "t", and the
// price columns may use their one-letter forms (o, h, l, c, v). Extra columns,
// such as a leading index, are ignored. Unparseable prices load as NaN and
// are dropped by Normalize.
type CSVLoader struct{}

var csvAliases = map[string]string{
	"timestamp": "timestamp", "time": "timestamp", "datetime": "timestamp", "date": "timestamp", "t": "timestamp",
	"open": "open", "o": "open",
	"high": "high", "h": "high",
	"low": "low", "l": "low",
	"close": "close", "c": "close",
	"volume": "volume", "v": "volume",
}

func (CSVLoader) Load(path string) (model.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read csv %s: %w", path, err)
	}
	return s, nil
}

// ReadCSV parses bars from r.
func ReadCSV(r io.Reader) (model.Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	cols := make(map[string]int)
	for i, name := range header {
		if canon, ok := csvAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
			if _, dup := cols[canon]; !dup {
				cols[canon] = i
			}
		}
	}
	for _, need := range []string{"timestamp", "open", "high", "low", "close"} {
		if _, ok := cols[need]; !ok {
			return nil, fmt.Errorf("missing column %q", need)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out model.Series
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts, err := ParseTimestamp(field(rec, "timestamp"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, model.Bar{
			TS:     ts,
			Open:   parsePrice(field(rec, "open")),
			High:   parsePrice(field(rec, "high")),
			Low:    parsePrice(field(rec, "low")),
			Close:  parsePrice(field(rec, "close")),
			Volume: parseVolume(field(rec, "volume")),
		})
	}
	return out, nil
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp accepts unix milliseconds (or seconds when the value is
// below 1e11), "2006-01-02 15:04:05", RFC3339 and a few close variants.
// Zone-less values are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 1e11 && n > -1e11 {
			return time.Unix(n, 0).UTC(), nil
		}
		return time.UnixMilli(n).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func parsePrice(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func parseVolume(s string) float64 {
	if s == "" {
		return 0
	}
	return parsePrice(s)
}
