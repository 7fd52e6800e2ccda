package hmc

import "math"

// DualAveraging tunes the step size toward a target acceptance statistic
// during warmup.
type DualAveraging struct {
	Delta float64
	Gamma float64
	Kappa float64
	T0    float64

	mu      float64
	counter float64
	sBar    float64
	xBar    float64
}

// NewDualAveraging returns an adapter with the given tuning constants.
func NewDualAveraging(delta, gamma, kappa, t0 float64) *DualAveraging {
	return &DualAveraging{Delta: delta, Gamma: gamma, Kappa: kappa, T0: t0}
}

// Restart clears the running averages.
func (d *DualAveraging) Restart() {
	d.counter = 0
	d.sBar = 0
	d.xBar = 0
}

// SetMu sets the shrinkage target for log step size.
func (d *DualAveraging) SetMu(mu float64) { d.mu = mu }

// Learn updates the averages with one acceptance statistic and returns the
// next step size.
func (d *DualAveraging) Learn(adaptStat float64) float64 {
	d.counter++
	if adaptStat > 1 {
		adaptStat = 1
	}

	eta := 1 / (d.counter + d.T0)
	d.sBar = (1-eta)*d.sBar + eta*(d.Delta-adaptStat)

	x := d.mu - d.sBar*math.Sqrt(d.counter)/d.Gamma
	xEta := math.Pow(d.counter, -d.Kappa)
	d.xBar = (1-xEta)*d.xBar + xEta*x

	return math.Exp(x)
}

// Complete returns the final averaged step size.
func (d *DualAveraging) Complete() float64 { return math.Exp(d.xBar) }
