package dataset

import (
	"math"
	"sort"

	"signal-edge/internal/model"
)

// NormalizeStats reports what Normalize removed.
type NormalizeStats struct {
	Input      int
	Dropped    int // rows with a non-finite price
	Duplicates int // earlier rows sharing a timestamp with a later one
}

// Normalize returns a chronological copy of s without rows holding a
// non-finite open/high/low/close and with one bar per timestamp, keeping
// the last occurrence in input order. s is not modified.
func Normalize(s model.Series) (model.Series, NormalizeStats) {
	st := NormalizeStats{Input: len(s)}

	out := make(model.Series, 0, len(s))
	for _, b := range s {
		if !finite(b.Open) || !finite(b.High) || !finite(b.Low) || !finite(b.Close) {
			st.Dropped++
			continue
		}
		out = append(out, b)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })

	// Stable sort keeps input order within equal timestamps, so the last
	// bar of each run is the latest occurrence.
	j := 0
	for i := range out {
		if i+1 < len(out) && out[i+1].TS.Equal(out[i].TS) {
			st.Duplicates++
			continue
		}
		out[j] = out[i]
		j++
	}
	return out[:j], st
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
