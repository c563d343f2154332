package sweep

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"signal-edge/internal/evaluator"
	"signal-edge/internal/model"
)

// Plan lists the candidate parameter sets of one sweep. Every window is
// combined with every buy and every sell threshold.
type Plan struct {
	Windows        []int
	BuyThresholds  []float64
	SellThresholds []float64
	Eval           evaluator.Config
}

// DefaultPlan is window 14, buy 30, sell 70 over horizons 1..5.
func DefaultPlan() Plan {
	return Plan{
		Windows:        []int{14},
		BuyThresholds:  []float64{30},
		SellThresholds: []float64{70},
		Eval:           evaluator.DefaultConfig(),
	}
}

// Size returns the number of combinations.
func (p Plan) Size() int {
	return len(p.Windows) * len(p.BuyThresholds) * len(p.SellThresholds)
}

// Combinations enumerates keys window → buy → sell.
func (p Plan) Combinations() []model.ParamKey {
	keys := make([]model.ParamKey, 0, p.Size())
	for _, w := range p.Windows {
		for _, b := range p.BuyThresholds {
			for _, s := range p.SellThresholds {
				keys = append(keys, model.ParamKey{Window: w, Buy: b, Sell: s})
			}
		}
	}
	return keys
}

// Fingerprint hashes the series and every plan field that affects the
// report. Equal fingerprints mean a cached report can be reused.
func (p Plan) Fingerprint(series model.Series) string {
	h := sha256.New()
	var buf [8]byte
	putF := func(f float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	putI := func(n int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(n)))
		h.Write(buf[:])
	}

	putI(len(series))
	for i := range series {
		b := &series[i]
		putI(int(b.TS.UnixMilli()))
		putF(b.Open)
		putF(b.High)
		putF(b.Low)
		putF(b.Close)
	}

	putI(len(p.Windows))
	for _, w := range p.Windows {
		putI(w)
	}
	putI(len(p.BuyThresholds))
	for _, f := range p.BuyThresholds {
		putF(f)
	}
	putI(len(p.SellThresholds))
	for _, f := range p.SellThresholds {
		putF(f)
	}
	putI(len(p.Eval.Horizons))
	for _, n := range p.Eval.Horizons {
		putI(n)
	}
	putF(p.Eval.MoveThreshold)
	if p.Eval.BaselineAllBars {
		putI(1)
	} else {
		putI(0)
	}

	return hex.EncodeToString(h.Sum(nil))
}
