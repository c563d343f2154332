package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"signal-edge/internal/model"
)

// Saver writes a bar series to a file.
type Saver interface {
	Save(s model.Series, path string) error
	Extension() string
}

// NewSaver returns the saver for format (csv, json, parquet).
func NewSaver(format string) (Saver, error) {
	switch normalizeFormat(format) {
	case "csv":
		return CSVSaver{}, nil
	case "json":
		return JSONSaver{}, nil
	case "parquet":
		return ParquetSaver{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// ParquetSaver writes Row records.
type ParquetSaver struct{}

func (ParquetSaver) Extension() string { return "parquet" }

func (ParquetSaver) Save(s model.Series, path string) error {
	return parquet.WriteFile(path, toRows(s))
}

// JSONSaver writes an indented array of Row records.
type JSONSaver struct{}

func (JSONSaver) Extension() string { return "json" }

func (JSONSaver) Save(s model.Series, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(toRows(s))
}

// CSVSaver writes timestamp,open,high,low,close,volume with
// "2006-01-02 15:04:05" UTC timestamps.
type CSVSaver struct{}

func (CSVSaver) Extension() string { return "csv" }

func (CSVSaver) Save(s model.Series, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)

	if err := w.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		f.Close()
		return err
	}
	for _, b := range s {
		if err := w.Write([]string{
			b.TS.UTC().Format(time.DateTime),
			floatStr(b.Open),
			floatStr(b.High),
			floatStr(b.Low),
			floatStr(b.Close),
			floatStr(b.Volume),
		}); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func floatStr(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
