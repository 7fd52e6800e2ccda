// Package hmc implements the No-U-Turn sampler with step-size and metric
// adaptation.
package hmc

import (
	"errors"
	"math"
	"math/rand/v2"
)

// DefaultMaxDeltaH is the energy error beyond which a trajectory is
// declared divergent.
const DefaultMaxDeltaH = 1000

// Target is a differentiable log density on the unconstrained space.
type Target interface {
	LogDensityGradient(q, grad []float64) (float64, error)
}

// Transition is the outcome of one NUTS iteration.
type Transition struct {
	LogDensity  float64
	AcceptStat  float64
	Stepsize    float64
	TreeDepth   int
	NumLeapfrog int
	Divergent   bool
	Energy      float64
}

// point is a position in phase space with its cached log density and
// gradient.
type point struct {
	q, p, g []float64
	lp      float64
}

func newPoint(n int) *point {
	return &point{q: make([]float64, n), p: make([]float64, n), g: make([]float64, n)}
}

func (z *point) copyFrom(o *point) {
	copy(z.q, o.q)
	copy(z.p, o.p)
	copy(z.g, o.g)
	z.lp = o.lp
}

func (z *point) clone() *point {
	c := newPoint(len(z.q))
	c.copyFrom(z)
	return c
}

// NUTS is a single-chain No-U-Turn sampler with multinomial sampling of
// trajectory states.
type NUTS struct {
	target    Target
	metric    Metric
	rng       *rand.Rand
	z         *point
	nomEps    float64
	eps       float64
	jitter    float64
	maxDepth  int
	maxDeltaH float64
	divergent bool
	scratch   []float64
}

// NewNUTS returns a sampler positioned at q. The log density and gradient
// at q must be finite.
func NewNUTS(target Target, metric Metric, r *rand.Rand, q []float64, stepsize, jitter float64, maxDepth int) (*NUTS, error) {
	n := len(q)
	s := &NUTS{
		target:    target,
		metric:    metric,
		rng:       r,
		z:         newPoint(n),
		nomEps:    stepsize,
		eps:       stepsize,
		jitter:    jitter,
		maxDepth:  maxDepth,
		maxDeltaH: DefaultMaxDeltaH,
		scratch:   make([]float64, n),
	}
	copy(s.z.q, q)
	lp, err := target.LogDensityGradient(s.z.q, s.z.g)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(lp) || math.IsInf(lp, 0) {
		return nil, errors.New("log density is not finite at the initial point")
	}
	s.z.lp = lp
	return s, nil
}

// Position returns the current unconstrained position. The slice is owned
// by the sampler.
func (s *NUTS) Position() []float64 { return s.z.q }

// Stepsize returns the nominal step size.
func (s *NUTS) Stepsize() float64 { return s.nomEps }

// SetStepsize sets the nominal step size.
func (s *NUTS) SetStepsize(eps float64) { s.nomEps = eps }

// Metric returns the metric in use.
func (s *NUTS) Metric() Metric { return s.metric }

// SetMetric replaces the metric.
func (s *NUTS) SetMetric(m Metric) { s.metric = m }

func (s *NUTS) hamiltonian(z *point) float64 {
	return -z.lp + s.metric.Tau(z.p)
}

func (s *NUTS) dtau(p []float64) []float64 {
	out := make([]float64, len(p))
	s.metric.DtauDp(p, out)
	return out
}

// leapfrog advances z by one step of size eps. A failed density evaluation
// leaves the point with lp = -Inf, which the caller sees as infinite energy.
func (s *NUTS) leapfrog(z *point, eps float64) {
	half := 0.5 * eps
	for i := range z.p {
		z.p[i] += half * z.g[i]
	}
	s.metric.DtauDp(z.p, s.scratch)
	for i := range z.q {
		z.q[i] += eps * s.scratch[i]
	}
	lp, err := s.target.LogDensityGradient(z.q, z.g)
	if err != nil || math.IsNaN(lp) {
		z.lp = math.Inf(-1)
		return
	}
	z.lp = lp
	for i := range z.p {
		z.p[i] += half * z.g[i]
	}
}

func (s *NUTS) sampleStepsize() {
	s.eps = s.nomEps
	if s.jitter > 0 {
		s.eps *= 1 + s.jitter*(2*s.rng.Float64()-1)
	}
}

// Transition runs one NUTS iteration from the current position.
func (s *NUTS) Transition() Transition {
	s.sampleStepsize()
	s.metric.SampleMomentum(s.rng, s.z.p)
	n := len(s.z.q)
	h0 := s.hamiltonian(s.z)

	zFwd, zBck := s.z.clone(), s.z.clone()
	zSample, zPropose := s.z.clone(), s.z.clone()

	pSharpFwdFwd := s.dtau(s.z.p)
	pSharpFwdBck := clone(pSharpFwdFwd)
	pSharpBckFwd := clone(pSharpFwdFwd)
	pSharpBckBck := clone(pSharpFwdFwd)

	pFwdFwd := clone(s.z.p)
	pFwdBck := clone(s.z.p)
	pBckFwd := clone(s.z.p)
	pBckBck := clone(s.z.p)

	rho := clone(s.z.p)
	logSumWeight := 0.0
	depth, nLeapfrog := 0, 0
	sumMetroProb := 0.0
	s.divergent = false

	for depth < s.maxDepth {
		rhoFwd := make([]float64, n)
		rhoBck := make([]float64, n)
		logSumWeightSubtree := math.Inf(-1)
		var valid bool

		if s.rng.Float64() > 0.5 {
			s.z.copyFrom(zFwd)
			copy(rhoBck, rho)
			copy(pBckFwd, pFwdFwd)
			copy(pSharpBckFwd, pSharpFwdFwd)
			valid = s.buildTree(depth, zPropose, pSharpFwdBck, pSharpFwdFwd, rhoFwd, pFwdBck, pFwdFwd,
				h0, 1, &nLeapfrog, &logSumWeightSubtree, &sumMetroProb)
			zFwd.copyFrom(s.z)
		} else {
			s.z.copyFrom(zBck)
			copy(rhoFwd, rho)
			copy(pFwdBck, pBckBck)
			copy(pSharpFwdBck, pSharpBckBck)
			valid = s.buildTree(depth, zPropose, pSharpBckFwd, pSharpBckBck, rhoBck, pBckFwd, pBckBck,
				h0, -1, &nLeapfrog, &logSumWeightSubtree, &sumMetroProb)
			zBck.copyFrom(s.z)
		}
		if !valid {
			break
		}
		depth++

		if logSumWeightSubtree > logSumWeight {
			zSample.copyFrom(zPropose)
		} else if s.rng.Float64() < math.Exp(logSumWeightSubtree-logSumWeight) {
			zSample.copyFrom(zPropose)
		}
		logSumWeight = logSumExp(logSumWeight, logSumWeightSubtree)

		for i := range rho {
			rho[i] = rhoBck[i] + rhoFwd[i]
		}
		persist := uTurnFree(pSharpBckBck, pSharpFwdFwd, rho)

		ext := make([]float64, n)
		for i := range ext {
			ext[i] = rhoBck[i] + pFwdBck[i]
		}
		persist = persist && uTurnFree(pSharpBckBck, pSharpFwdBck, ext)
		for i := range ext {
			ext[i] = rhoFwd[i] + pBckFwd[i]
		}
		persist = persist && uTurnFree(pSharpBckFwd, pSharpFwdFwd, ext)
		if !persist {
			break
		}
	}

	accept := 0.0
	if nLeapfrog > 0 {
		accept = sumMetroProb / float64(nLeapfrog)
	}
	s.z.copyFrom(zSample)
	return Transition{
		LogDensity:  s.z.lp,
		AcceptStat:  accept,
		Stepsize:    s.eps,
		TreeDepth:   depth,
		NumLeapfrog: nLeapfrog,
		Divergent:   s.divergent,
		Energy:      s.hamiltonian(s.z),
	}
}

// buildTree extends the trajectory by 2^depth leapfrog steps in direction
// sign, starting from s.z. It reports whether the new subtree is free of
// divergences and U-turns.
func (s *NUTS) buildTree(depth int, zPropose *point,
	pSharpBeg, pSharpEnd, rho, pBeg, pEnd []float64,
	h0, sign float64, nLeapfrog *int, logSumWeight, sumMetroProb *float64) bool {
	if depth == 0 {
		s.leapfrog(s.z, sign*s.eps)
		*nLeapfrog++

		h := s.hamiltonian(s.z)
		if math.IsNaN(h) {
			h = math.Inf(1)
		}
		if h-h0 > s.maxDeltaH {
			s.divergent = true
		}
		*logSumWeight = logSumExp(*logSumWeight, h0-h)
		if h0-h > 0 {
			*sumMetroProb++
		} else {
			*sumMetroProb += math.Exp(h0 - h)
		}

		zPropose.copyFrom(s.z)
		s.metric.DtauDp(s.z.p, pSharpBeg)
		copy(pSharpEnd, pSharpBeg)
		for i := range rho {
			rho[i] += s.z.p[i]
		}
		copy(pBeg, s.z.p)
		copy(pEnd, pBeg)
		return !s.divergent
	}

	n := len(s.z.q)

	// Initial subtree.
	logSumWeightInit := math.Inf(-1)
	pInitEnd := make([]float64, n)
	pSharpInitEnd := make([]float64, n)
	rhoInit := make([]float64, n)
	if !s.buildTree(depth-1, zPropose, pSharpBeg, pSharpInitEnd, rhoInit, pBeg, pInitEnd,
		h0, sign, nLeapfrog, &logSumWeightInit, sumMetroProb) {
		return false
	}

	// Final subtree.
	zProposeFinal := s.z.clone()
	logSumWeightFinal := math.Inf(-1)
	pFinalBeg := make([]float64, n)
	pSharpFinalBeg := make([]float64, n)
	rhoFinal := make([]float64, n)
	if !s.buildTree(depth-1, zProposeFinal, pSharpFinalBeg, pSharpEnd, rhoFinal, pFinalBeg, pEnd,
		h0, sign, nLeapfrog, &logSumWeightFinal, sumMetroProb) {
		return false
	}

	// Multinomial sample from the right subtree.
	logSumWeightSubtree := logSumExp(logSumWeightInit, logSumWeightFinal)
	*logSumWeight = logSumExp(*logSumWeight, logSumWeightSubtree)
	if logSumWeightFinal > logSumWeightSubtree {
		zPropose.copyFrom(zProposeFinal)
	} else if s.rng.Float64() < math.Exp(logSumWeightFinal-logSumWeightSubtree) {
		zPropose.copyFrom(zProposeFinal)
	}

	rhoSubtree := make([]float64, n)
	for i := range rhoSubtree {
		rhoSubtree[i] = rhoInit[i] + rhoFinal[i]
		rho[i] += rhoSubtree[i]
	}

	persist := uTurnFree(pSharpBeg, pSharpEnd, rhoSubtree)

	ext := make([]float64, n)
	for i := range ext {
		ext[i] = rhoInit[i] + pFinalBeg[i]
	}
	persist = persist && uTurnFree(pSharpBeg, pSharpFinalBeg, ext)
	for i := range ext {
		ext[i] = rhoFinal[i] + pInitEnd[i]
	}
	persist = persist && uTurnFree(pSharpInitEnd, pSharpEnd, ext)
	return persist
}

// uTurnFree is the generalized no-U-turn criterion.
func uTurnFree(pSharpMinus, pSharpPlus, rho []float64) bool {
	return dot(pSharpPlus, rho) > 0 && dot(pSharpMinus, rho) > 0
}

// InitStepsize adjusts the nominal step size by doubling or halving until
// the acceptance probability of a single leapfrog step crosses 0.8. The
// position is left unchanged.
func (s *NUTS) InitStepsize() error {
	if s.nomEps == 0 || s.nomEps > 1e7 || math.IsNaN(s.nomEps) {
		return nil
	}
	z0 := s.z.clone()
	defer s.z.copyFrom(z0)

	deltaH := func() float64 {
		s.z.copyFrom(z0)
		s.metric.SampleMomentum(s.rng, s.z.p)
		h0 := s.hamiltonian(s.z)
		s.leapfrog(s.z, s.nomEps)
		h := s.hamiltonian(s.z)
		if math.IsNaN(h) {
			h = math.Inf(1)
		}
		return h0 - h
	}

	logTarget := math.Log(0.8)
	direction := -1
	if deltaH() > logTarget {
		direction = 1
	}
	for {
		d := deltaH()
		if direction == 1 && !(d > logTarget) {
			return nil
		}
		if direction == -1 && !(d < logTarget) {
			return nil
		}
		if direction == 1 {
			s.nomEps *= 2
		} else {
			s.nomEps *= 0.5
		}
		if s.nomEps > 1e7 {
			return errors.New("posterior is improper, please check your model")
		}
		if s.nomEps == 0 {
			return errors.New("no acceptably small step size could be found, perhaps the posterior is not continuous")
		}
	}
}

func clone(v []float64) []float64 { return append([]float64(nil), v...) }

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func logSumExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	return b + math.Log1p(math.Exp(a-b))
}
