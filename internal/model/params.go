package model

import (
	"strconv"
)

// Thresholds holds the oscillator levels that trigger signals.
// Buy < Sell by convention; callers own that check.
type Thresholds struct {
	Buy  float64 `json:"buy" yaml:"buy"`
	Sell float64 `json:"sell" yaml:"sell"`
}

// ParamKey identifies one sweep combination. It is comparable and used
// directly as a map key; String is for display only.
type ParamKey struct {
	Window int     `json:"window"`
	Buy    float64 `json:"buy_threshold"`
	Sell   float64 `json:"sell_threshold"`
}

// Thresholds returns the threshold pair of the key.
func (k ParamKey) Thresholds() Thresholds {
	return Thresholds{Buy: k.Buy, Sell: k.Sell}
}

// Less orders keys window → buy → sell, the sweep iteration order.
func (k ParamKey) Less(o ParamKey) bool {
	if k.Window != o.Window {
		return k.Window < o.Window
	}
	if k.Buy != o.Buy {
		return k.Buy < o.Buy
	}
	return k.Sell < o.Sell
}

// String returns "RSI_window_14_buy_30_sell_70".
func (k ParamKey) String() string {
	return "RSI_window_" + strconv.Itoa(k.Window) + "_buy_" + Ftoa(k.Buy) + "_sell_" + Ftoa(k.Sell)
}

// Ftoa formats a threshold with the shortest exact representation.
func Ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
