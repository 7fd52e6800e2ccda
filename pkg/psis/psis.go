// Package psis implements Pareto-smoothed importance sampling.
package psis

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// KWarn is the Pareto shape above which the importance weights are
// unreliable.
const KWarn = 0.7

// TailLength is the number of largest ratios smoothed for s draws.
func TailLength(s int) int {
	return int(math.Ceil(math.Min(0.2*float64(s), 3*math.Sqrt(float64(s)))))
}

// LogWeights returns normalized log importance weights for the given log
// ratios, with the upper tail replaced by quantiles of a fitted generalized
// Pareto distribution. k is the fitted shape; it is NaN when the tail is
// too short to smooth.
func LogWeights(logRatios []float64) (logw []float64, k float64) {
	s := len(logRatios)
	logw = make([]float64, s)
	if s == 0 {
		return logw, math.NaN()
	}
	top := floats.Max(logRatios)
	for i, v := range logRatios {
		logw[i] = v - top
	}

	k = math.NaN()
	tail := TailLength(s)
	if tail >= 5 && tail < s {
		order := make([]int, s)
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return logw[order[a]] < logw[order[b]] })

		cutoff := logw[order[s-tail-1]]
		idx := order[s-tail:]
		vals := make([]float64, tail)
		for i, j := range idx {
			vals[i] = logw[j]
		}
		var smoothed []float64
		smoothed, k = smoothTail(vals, cutoff)
		for i, j := range idx {
			logw[j] = math.Min(smoothed[i], 0)
		}
	}

	norm := floats.LogSumExp(logw)
	for i := range logw {
		logw[i] -= norm
	}
	return logw, k
}

// smoothTail replaces sorted log values above cutoff by the expected order
// statistics of a generalized Pareto fit to their exceedances.
func smoothTail(logx []float64, cutoff float64) ([]float64, float64) {
	m := len(logx)
	expCutoff := math.Exp(cutoff)
	x := make([]float64, m)
	for i, v := range logx {
		x[i] = math.Exp(v) - expCutoff
	}
	k, sigma := FitGPD(x)
	if math.IsNaN(k) || math.IsInf(k, 0) || !(sigma > 0) {
		return logx, k
	}
	out := make([]float64, m)
	for i := range out {
		p := (float64(i) + 0.5) / float64(m)
		out[i] = math.Log(QuantileGPD(p, k, sigma) + expCutoff)
	}
	return out, k
}

// FitGPD estimates the shape k and scale sigma of a generalized Pareto
// distribution from sorted non-negative exceedances, using the empirical
// Bayes method of Zhang and Stephens with a weak prior pulling k toward 0.5.
func FitGPD(x []float64) (k, sigma float64) {
	n := len(x)
	const prior = 3.0
	m := 30 + int(math.Sqrt(float64(n)))

	xstar := x[int(float64(n)/4+0.5)-1]
	theta := make([]float64, m)
	lTheta := make([]float64, m)
	for j := range theta {
		theta[j] = 1/x[n-1] + (1-math.Sqrt(float64(m)/(float64(j+1)-0.5)))/prior/xstar
		kj := meanLog1p(x, theta[j])
		lTheta[j] = float64(n) * (math.Log(-theta[j]/kj) - kj - 1)
	}

	norm := floats.LogSumExp(lTheta)
	var thetaHat float64
	for j := range theta {
		thetaHat += theta[j] * math.Exp(lTheta[j]-norm)
	}

	k = meanLog1p(x, thetaHat)
	sigma = -k / thetaHat
	k = (k*float64(n) + 0.5*10) / (float64(n) + 10)
	if math.IsNaN(k) {
		k = math.Inf(1)
	}
	return k, sigma
}

func meanLog1p(x []float64, theta float64) float64 {
	var s float64
	for _, v := range x {
		s += math.Log1p(-theta * v)
	}
	return s / float64(len(x))
}

// QuantileGPD is the p-quantile of a generalized Pareto distribution with
// zero location.
func QuantileGPD(p, k, sigma float64) float64 {
	return sigma * math.Expm1(-k*math.Log1p(-p)) / k
}

// Resample draws n indices with replacement with probabilities exp(logw).
func Resample(r *rand.Rand, logw []float64, n int) []int {
	w := make([]float64, len(logw))
	for i, v := range logw {
		w[i] = math.Exp(v)
	}
	cat := distuv.NewCategorical(w, r)
	out := make([]int, n)
	for i := range out {
		out[i] = int(cat.Rand())
	}
	return out
}
