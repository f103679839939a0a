package calculator

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MeanStdDev returns the mean and sample standard deviation of values.
// Fewer than two values yield a zero deviation.
func MeanStdDev(values []float64) (mean, stddev float64) {
	switch len(values) {
	case 0:
		return 0, 0
	case 1:
		return values[0], 0
	}
	mean, stddev = stat.MeanStdDev(values, nil)
	if math.IsNaN(stddev) {
		stddev = 0
	}
	return mean, stddev
}

// Range returns the minimum and maximum of values.
func Range(values []float64) (low, high float64) {
	if len(values) == 0 {
		return 0, 0
	}
	low, high = values[0], values[0]
	for _, v := range values[1:] {
		if v < low {
			low = v
		}
		if v > high {
			high = v
		}
	}
	return low, high
}

// Mean returns the arithmetic mean of values, or 0 when empty.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}
