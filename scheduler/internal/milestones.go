package internal

import (
	"math"
	"slices"
)

// Milestones returns the rung milestones of bracket s, highest first:
// gracePeriod * reductionFactor^(k+s) for every rung k that fits below maxT.
func Milestones(gracePeriod, maxT, reductionFactor float64, s int) []float64 {
	nbRungs := int(math.Log(maxT/gracePeriod)/math.Log(reductionFactor) - float64(s) + 1)

	milestones := make([]float64, 0, max(nbRungs, 0))
	for k := 0; k < nbRungs; k++ {
		milestones = append(milestones, gracePeriod*math.Pow(reductionFactor, float64(k+s)))
	}
	slices.Reverse(milestones)
	return milestones
}

// Percentile computes the q-th percentile (0 <= q <= 100) of values using
// linear interpolation between closest ranks.
func Percentile(values []float64, q float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := q / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	fraction := rank - float64(lower)

	return sorted[lower] + (sorted[upper]-sorted[lower])*fraction
}
