package evaluator

import "signal-edge/internal/model"

// Class is the signal classification of one eligible bar.
type Class int

const (
	Neutral Class = iota
	Buy
	Sell
)

func (c Class) String() string {
	switch c {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "neutral"
	}
}

// Classify maps an indicator value to exactly one class. Both comparisons
// are strict, so a value equal to either threshold is Neutral.
func Classify(value float64, th model.Thresholds) Class {
	switch {
	case value < th.Buy:
		return Buy
	case value > th.Sell:
		return Sell
	default:
		return Neutral
	}
}
