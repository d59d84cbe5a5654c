// Package analytics provides aggregate statistics over execution history:
// averages, success rates, trend detection, secret scanning and metrics
// snapshots consumed by the detection and alerting engines.
package analytics

import (
	"math"

	"github.com/good-yellow-bee/toolwatch/internal/models"
)

// DefaultTrendThreshold is the per-step slope, relative to the sample mean,
// above which a series is considered trending.
const DefaultTrendThreshold = 0.1

// minTrendSamples is the smallest series a trend can be computed on.
const minTrendSamples = 3

// AverageDuration returns the mean duration in milliseconds, 0 for no executions.
func AverageDuration(execs []*models.Execution) float64 {
	if len(execs) == 0 {
		return 0
	}
	var sum int64
	for _, e := range execs {
		sum += e.DurationMs
	}
	return float64(sum) / float64(len(execs))
}

// SuccessRate returns successes/total. No data reads as healthy (1.0).
func SuccessRate(execs []*models.Execution) float64 {
	if len(execs) == 0 {
		return 1.0
	}
	ok := 0
	for _, e := range execs {
		if e.Succeeded() {
			ok++
		}
	}
	return float64(ok) / float64(len(execs))
}

// CountConsecutiveFailures counts the leading run of failures in a
// most-recent-first list, stopping at the first non-failure.
func CountConsecutiveFailures(execs []*models.Execution) int {
	n := 0
	for _, e := range execs {
		if !e.Failed() {
			break
		}
		n++
	}
	return n
}

// Degradation returns how much current exceeds baseline, as a percentage.
// A non-positive baseline yields 0.
func Degradation(current, baseline float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return (current - baseline) / baseline * 100
}

// Mean returns the arithmetic mean of values, 0 when empty.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Slope returns the least-squares slope of values against their index.
func Slope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// IsIncreasingTrend reports whether values, in chronological order, grow by
// more than threshold times the sample mean per step.
func IsIncreasingTrend(values []float64, threshold float64) bool {
	if len(values) < minTrendSamples {
		return false
	}
	mean := math.Abs(Mean(values))
	if mean == 0 {
		return false
	}
	return Slope(values) > threshold*mean
}

// IsDecreasingTrend is IsIncreasingTrend of the negated series.
func IsDecreasingTrend(values []float64, threshold float64) bool {
	neg := make([]float64, len(values))
	for i, v := range values {
		neg[i] = -v
	}
	return IsIncreasingTrend(neg, threshold)
}

// Chronological returns durations of a most-recent-first list, oldest first.
func Chronological(execs []*models.Execution) []float64 {
	out := make([]float64, len(execs))
	for i, e := range execs {
		out[len(execs)-1-i] = float64(e.DurationMs)
	}
	return out
}
