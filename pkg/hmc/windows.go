package hmc

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var errMetricOverflow = errors.New("numerical overflow in metric adaptation")

// Windows is the warmup schedule: a fast initial buffer, a sequence of
// doubling slow windows for metric estimation, and a fast terminal buffer.
type Windows struct {
	numWarmup  int
	initBuffer int
	termBuffer int
	baseWindow int

	counter  int
	size     int
	next     int
	disabled bool
}

// NewWindows returns a schedule for numWarmup iterations along with any
// warnings about how the requested buffers were adjusted. When they do not
// fit the schedule falls back to 15%/75%/10% of warmup.
func NewWindows(numWarmup, initBuffer, termBuffer, baseWindow int) (*Windows, []string) {
	w := &Windows{numWarmup: numWarmup}
	var warns []string
	if numWarmup < 20 {
		warns = append(warns, "no metric adaptation will be performed with fewer than 20 warmup iterations")
		w.disabled = true
		w.restart()
		return w, warns
	}
	if initBuffer+baseWindow+termBuffer > numWarmup {
		warns = append(warns, "warmup buffers do not fit, using 15% initial fast, 75% slow and 10% terminal fast adaptation")
		w.initBuffer = int(0.15 * float64(numWarmup))
		w.termBuffer = int(0.1 * float64(numWarmup))
		w.baseWindow = numWarmup - (w.initBuffer + w.termBuffer)
	} else {
		w.initBuffer = initBuffer
		w.termBuffer = termBuffer
		w.baseWindow = baseWindow
	}
	w.restart()
	return w, warns
}

func (w *Windows) restart() {
	w.counter = 0
	w.size = w.baseWindow
	w.next = w.initBuffer + w.baseWindow - 1
}

// Disabled reports whether metric adaptation is off for this schedule.
func (w *Windows) Disabled() bool { return w.disabled }

// InWindow reports whether the current iteration belongs to a slow window.
func (w *Windows) InWindow() bool {
	return !w.disabled &&
		w.counter >= w.initBuffer &&
		w.counter < w.numWarmup-w.termBuffer &&
		w.counter != w.numWarmup
}

// EndOfWindow reports whether the current iteration closes a slow window.
func (w *Windows) EndOfWindow() bool {
	return !w.disabled && w.counter == w.next && w.counter != w.numWarmup
}

// Advance moves to the next iteration.
func (w *Windows) Advance() { w.counter++ }

// NextWindow doubles the window after a slow window has closed. A window
// that would leave less than twice its size before the terminal buffer is
// stretched to reach it.
func (w *Windows) NextWindow() {
	last := w.numWarmup - w.termBuffer - 1
	if w.next == last {
		return
	}
	w.size *= 2
	w.next = w.counter + w.size
	if w.next != last && w.next+2*w.size >= w.numWarmup-w.termBuffer {
		w.next = last
	}
}

// Ends returns the iterations that close slow windows.
func (w *Windows) Ends() []int {
	c := *w
	c.restart()
	var ends []int
	for ; c.counter < c.numWarmup; c.Advance() {
		if c.EndOfWindow() {
			ends = append(ends, c.counter)
			c.NextWindow()
		}
	}
	return ends
}

// estimator accumulates draws during a slow window.
type estimator interface {
	add(q []float64)
	estimate() (Metric, error)
	reset()
}

func newEstimator(kind MetricKind, n int) estimator {
	switch kind {
	case DenseMetric:
		return &covEstimator{n: n}
	case DiagMetric:
		return &varEstimator{n: n}
	default:
		return nil
	}
}

// varEstimator is a Welford running variance.
type varEstimator struct {
	n     int
	count int
	mean  []float64
	m2    []float64
}

func (e *varEstimator) reset() {
	e.count = 0
	e.mean = make([]float64, e.n)
	e.m2 = make([]float64, e.n)
}

func (e *varEstimator) add(q []float64) {
	if e.mean == nil {
		e.reset()
	}
	e.count++
	for i, x := range q {
		d := x - e.mean[i]
		e.mean[i] += d / float64(e.count)
		e.m2[i] += d * (x - e.mean[i])
	}
}

func (e *varEstimator) estimate() (Metric, error) {
	c := float64(e.count)
	inv := make([]float64, e.n)
	for i := range inv {
		v := e.m2[i] / (c - 1)
		inv[i] = (c/(c+5))*v + 1e-3*(5/(c+5))
		if math.IsNaN(inv[i]) || math.IsInf(inv[i], 0) {
			return nil, errMetricOverflow
		}
	}
	return NewDiag(inv)
}

// covEstimator keeps the window's draws and computes their covariance.
type covEstimator struct {
	n     int
	draws []float64
	count int
}

func (e *covEstimator) reset() {
	e.draws = e.draws[:0]
	e.count = 0
}

func (e *covEstimator) add(q []float64) {
	e.draws = append(e.draws, q...)
	e.count++
}

func (e *covEstimator) estimate() (Metric, error) {
	c := float64(e.count)
	x := mat.NewDense(e.count, e.n, e.draws)
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, x, nil)
	inv := make([]float64, e.n*e.n)
	for i := 0; i < e.n; i++ {
		for j := 0; j < e.n; j++ {
			v := (c / (c + 5)) * cov.At(i, j)
			if i == j {
				v += 1e-3 * (5 / (c + 5))
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errMetricOverflow
			}
			inv[i*e.n+j] = v
		}
	}
	return NewDense(e.n, inv)
}
