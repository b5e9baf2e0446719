// Package geometry computes the "silver gauge": the Pythagorean means and
// shape coefficients attached to every scored candidate for introspection.
// Nothing here influences action selection — see DESIGN.md's Open Questions
// entry on silver-gauge universality.
package geometry

import "math"

// Epsilon substitutes for a zero component when computing H and G, so the
// gauge is always total (never divides by zero or takes log(0)). Analyze
// computes A over the same substituted values, so H <= G <= A also holds for
// an all-zero triple.
const Epsilon = 0.01

// Shape is the qualitative read attached to a Means value for logging.
type Shape struct {
	H float64 `json:"h"`
	G float64 `json:"g"`
	A float64 `json:"a"`

	KExplore    float64 `json:"k_explore"`
	KEfficiency float64 `json:"k_efficiency"`

	InterpretationTag string `json:"interpretation_tag"`
}

// harmonicMean is the harmonic mean of the given positive values.
func harmonicMean(values ...float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sumInv float64
	for _, v := range values {
		sumInv += 1 / guard(v)
	}
	return float64(len(values)) / sumInv
}

// geometricMean is the geometric mean of the given positive values.
func geometricMean(values ...float64) float64 {
	if len(values) == 0 {
		return 0
	}
	product := 1.0
	for _, v := range values {
		product *= guard(v)
	}
	return math.Pow(product, 1.0/float64(len(values)))
}

// arithmeticMean is the arithmetic mean of the given values.
func arithmeticMean(values ...float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func guard(v float64) float64 {
	if v <= 0 {
		return Epsilon
	}
	return v
}

// Analyze computes {H, G, A, k_explore, k_efficiency} for the triple
// (|goal|, info, cost) per spec §4.7, and tags the result for logging.
func Analyze(goal, info, cost float64) Shape {
	absGoal := math.Abs(goal)

	h := harmonicMean(absGoal, info, cost)
	g := geometricMean(absGoal, info, cost)
	a := arithmeticMean(guard(absGoal), guard(info), guard(cost))

	kExplore := ratio(geometricMean(absGoal, info), arithmeticMean(absGoal, info))
	kEfficiency := ratio(geometricMean(absGoal+info, cost), arithmeticMean(absGoal+info, cost))

	return Shape{
		H: h, G: g, A: a,
		KExplore:          kExplore,
		KEfficiency:       kEfficiency,
		InterpretationTag: tag(kExplore, kEfficiency),
	}
}

func ratio(numerator, denominator float64) float64 {
	if denominator <= 0 {
		return 0
	}
	r := numerator / denominator
	if r > 1 {
		return 1
	}
	if r < 0 {
		return 0
	}
	return r
}

func tag(kExplore, kEfficiency float64) string {
	switch {
	case kExplore >= 0.8 && kEfficiency >= 0.8:
		return "balanced"
	case kExplore >= 0.8:
		return "exploratory"
	case kEfficiency >= 0.8:
		return "efficient"
	default:
		return "skewed"
	}
}

// SatisfiesPythagoreanInequality reports whether H <= G <= A within the
// given floating-point tolerance, the testable invariant I2 from spec §8.
func SatisfiesPythagoreanInequality(s Shape, tolerance float64) bool {
	return s.H <= s.G+tolerance && s.G <= s.A+tolerance
}
