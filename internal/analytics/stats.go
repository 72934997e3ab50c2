package analytics

import (
	"math"

	"github.com/Dan9191/underwriting-service/internal/models"
)

// TrendThreshold is the relative change needed before a series counts as moving
const TrendThreshold = 0.05

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

// coefficientOfVariation returns stddev/mean, or 0 when the mean is not positive
func coefficientOfVariation(values []float64) float64 {
	m := mean(values)
	if m <= 0 {
		return 0
	}
	var sq float64
	for _, v := range values {
		sq += (v - m) * (v - m)
	}
	return math.Sqrt(sq/float64(len(values))) / m
}

// growthRate is the mean month-over-month change, skipping months that follow a
// non-positive value
func growthRate(values []float64) float64 {
	var total float64
	var n int
	for i := 1; i < len(values); i++ {
		if values[i-1] <= 0 {
			continue
		}
		total += (values[i] - values[i-1]) / values[i-1]
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func classifyGrowth(rate float64) models.Trend {
	switch {
	case rate > TrendThreshold:
		return models.TrendIncreasing
	case rate < -TrendThreshold:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}

// halfTrend compares the mean of the second half of a series with the first half.
// It handles signed series such as net cash flow and balances.
func halfTrend(values []float64) models.Trend {
	if len(values) < 2 {
		return models.TrendStable
	}
	mid := len(values) / 2
	first := mean(values[:mid])
	second := mean(values[len(values)-mid:])
	if first == 0 {
		switch {
		case second > 0:
			return models.TrendIncreasing
		case second < 0:
			return models.TrendDecreasing
		default:
			return models.TrendStable
		}
	}
	return classifyGrowth((second - first) / math.Abs(first))
}

// ratio divides a by b, returning nil when b is zero
func ratio(a, b float64) *float64 {
	if b == 0 {
		return nil
	}
	r := a / b
	return &r
}

// share divides a by b, returning 0 when b is not positive
func share(a, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return a / b
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
