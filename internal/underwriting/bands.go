package underwriting

import "math"

// Band maps a metric range onto a score range. A value qualifies for the band once it
// reaches Edge; the score moves linearly from Min at Edge to Max at Best.
type Band struct {
	Edge float64 `yaml:"edge"`
	Best float64 `yaml:"best"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
}

func (b Band) interpolate(v float64) float64 {
	if b.Best == b.Edge {
		return b.Max
	}
	f := (v - b.Edge) / (b.Best - b.Edge)
	return b.Min + clamp(f, 0, 1)*(b.Max-b.Min)
}

// BandTable is an ordered list of bands, best band first
type BandTable struct {
	HigherIsBetter bool   `yaml:"higher_is_better"`
	Bands          []Band `yaml:"bands"`
}

// Match returns the index of the band v falls in. Values past the last edge
// match the last band.
func (t BandTable) Match(v float64) int {
	for i, b := range t.Bands {
		if t.HigherIsBetter && v >= b.Edge {
			return i
		}
		if !t.HigherIsBetter && v <= b.Edge {
			return i
		}
	}
	return len(t.Bands) - 1
}

// Score returns the interpolated score for v
func (t BandTable) Score(v float64) float64 {
	if len(t.Bands) == 0 {
		return 0
	}
	i := t.Match(v)
	b := t.Bands[i]
	if t.HigherIsBetter && v < b.Edge {
		return b.Min
	}
	if !t.HigherIsBetter && v > b.Edge {
		return b.Min
	}
	return b.interpolate(v)
}

// Step is a deduction applied when a metric exceeds Over (or reaches it when Inclusive)
type Step struct {
	Over      float64 `yaml:"over"`
	Penalty   float64 `yaml:"penalty"`
	Inclusive bool    `yaml:"inclusive"`
}

func (s Step) hit(v float64) bool {
	if s.Inclusive {
		return v >= s.Over
	}
	return v > s.Over
}

// StepTable lists steps from most to least severe
type StepTable []Step

// Match returns the index of the first step hit by v, or -1
func (t StepTable) Match(v float64) int {
	for i, s := range t {
		if s.hit(v) {
			return i
		}
	}
	return -1
}

// Penalty returns the deduction for v
func (t StepTable) Penalty(v float64) float64 {
	if i := t.Match(v); i >= 0 {
		return t[i].Penalty
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// toScore clamps a raw score into [0,100] and rounds it to an integer
func toScore(v float64) int {
	return int(math.Round(clamp(v, 0, 100)))
}
