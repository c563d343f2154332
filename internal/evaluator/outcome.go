package evaluator

// DefaultMoveThreshold is the relative move (six basis points) that counts
// as a favorable outcome.
const DefaultMoveThreshold = 0.0006

// UpsideFavorable reports whether the future high cleared entry by at least tau.
// entry must be non-zero.
func UpsideFavorable(entry, futureHigh, tau float64) bool {
	return (futureHigh-entry)/entry >= tau
}

// DownsideFavorable reports whether the future low fell below entry by at least tau.
// entry must be non-zero.
func DownsideFavorable(entry, futureLow, tau float64) bool {
	return (entry-futureLow)/entry >= tau
}
