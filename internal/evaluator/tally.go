package evaluator

// Tally is the reduced form of a 0/1 outcome sample: the mean of the
// sample is Hits/Total. Tallies merge by addition, so partial scans over
// disjoint bar ranges combine exactly.
type Tally struct {
	Hits  int
	Total int
}

// Add records one outcome.
func (t *Tally) Add(favorable bool) {
	t.Total++
	if favorable {
		t.Hits++
	}
}

// Merge folds o into t.
func (t *Tally) Merge(o Tally) {
	t.Hits += o.Hits
	t.Total += o.Total
}

// Percent returns mean(sample) × 100. ok is false for an empty sample.
func (t Tally) Percent() (p float64, ok bool) {
	if t.Total == 0 {
		return 0, false
	}
	return float64(t.Hits) / float64(t.Total) * 100, true
}
