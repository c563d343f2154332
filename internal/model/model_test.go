package model

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestParamKey_String(t *testing.T) {
	cases := []struct {
		key  ParamKey
		want string
	}{
		{ParamKey{Window: 14, Buy: 30, Sell: 70}, "RSI_window_14_buy_30_sell_70"},
		{ParamKey{Window: 7, Buy: 22.5, Sell: 77.5}, "RSI_window_7_buy_22.5_sell_77.5"},
		{ParamKey{Window: 0, Buy: -1, Sell: 0}, "RSI_window_0_buy_-1_sell_0"},
	}
	for _, c := range cases {
		if got := c.key.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
}

func TestParamKey_Less(t *testing.T) {
	ordered := []ParamKey{
		{Window: 7, Buy: 20, Sell: 80},
		{Window: 14, Buy: 20, Sell: 70},
		{Window: 14, Buy: 20, Sell: 80},
		{Window: 14, Buy: 30, Sell: 60},
		{Window: 21, Buy: 10, Sell: 90},
	}
	for i := 0; i < len(ordered)-1; i++ {
		a, b := ordered[i], ordered[i+1]
		if !a.Less(b) || b.Less(a) {
			t.Errorf("%s should sort before %s", a, b)
		}
	}
	if ordered[0].Less(ordered[0]) {
		t.Error("Less must be irreflexive")
	}
}

func TestSeries_Span(t *testing.T) {
	if a, b := (Series{}).Span(); !a.IsZero() || !b.IsZero() {
		t.Error("empty span should be zero")
	}
	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Series{{TS: t0, Close: 1}, {TS: t0.Add(time.Minute), Close: 2}}
	a, b := s.Span()
	if !a.Equal(t0) || !b.Equal(t0.Add(time.Minute)) {
		t.Errorf("span = %v..%v", a, b)
	}
	if got := s.Closes(); !reflect.DeepEqual(got, []float64{1, 2}) {
		t.Errorf("closes = %v", got)
	}
}

func TestIndicatorSeries_DefinedCount(t *testing.T) {
	s := IndicatorSeries{Undefined(), Undefined(), Defined(0), Defined(55)}
	if got := s.DefinedCount(); got != 2 {
		t.Errorf("DefinedCount = %d, want 2", got)
	}
}

func TestEvaluationResult_BestAdvantage(t *testing.T) {
	r := EvaluationResult{Advantage: map[int]float64{1: 1.1, 2: 1.4, 3: 1.4, 5: 0.9}}
	v, h, ok := r.BestAdvantage()
	if !ok || v != 1.4 || h != 2 {
		t.Errorf("BestAdvantage = %v@%d ok=%v, want 1.4@2", v, h, ok)
	}
	if _, _, ok := (&EvaluationResult{}).BestAdvantage(); ok {
		t.Error("empty advantage should report ok=false")
	}
}

func TestReport_JSONRoundTrip(t *testing.T) {
	k1 := ParamKey{Window: 14, Buy: 30, Sell: 70}
	k2 := ParamKey{Window: 7, Buy: 25, Sell: 75}
	k3 := ParamKey{Window: 21, Buy: 30, Sell: 70}

	r := NewReport("1h")
	r.Symbol = "BTC/USDT"
	r.GeneratedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r.Results[k1] = EvaluationResult{
		Key:             k1,
		Signal:          map[int]float64{1: 55, 2: 60},
		Baseline:        map[int]float64{1: 50, 2: 50, 3: 48},
		Advantage:       map[int]float64{1: 1.1, 2: 1.2},
		SignalSamples:   map[int]int{1: 20, 2: 20},
		BaselineSamples: map[int]int{1: 200, 2: 200, 3: 200},
		Stats:           BarStats{Bars: 110, Eligible: 100, BaselineBars: 100, Buy: 12, Sell: 8, Neutral: 80},
	}
	r.Results[k2] = EvaluationResult{
		Key:             k2,
		Signal:          map[int]float64{},
		Baseline:        map[int]float64{1: 50},
		Advantage:       map[int]float64{},
		SignalSamples:   map[int]int{},
		BaselineSamples: map[int]int{1: 10},
	}
	r.Failures[k3] = "malformed input: bad bar"

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Report
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(r, &back) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, *r)
	}
	if _, ok := back.Results[k1].Signal[3]; ok {
		t.Error("absent horizon 3 reappeared after round trip")
	}
	if got := back.Keys(); !reflect.DeepEqual(got, []ParamKey{k2, k1}) {
		t.Errorf("Keys() = %v", got)
	}
}
