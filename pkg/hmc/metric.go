package hmc

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrMetric reports an inverse metric that is not positive definite.
var ErrMetric = errors.New("invalid inverse metric")

// MetricKind selects the shape of the inverse metric. The numeric values
// are part of the public contract.
type MetricKind int

const (
	UnitMetric MetricKind = iota
	DenseMetric
	DiagMetric
)

func (k MetricKind) String() string {
	switch k {
	case UnitMetric:
		return "unit"
	case DenseMetric:
		return "dense"
	case DiagMetric:
		return "diagonal"
	default:
		return fmt.Sprintf("MetricKind(%d)", int(k))
	}
}

// ParseMetricKind accepts "unit", "dense", "diag" and "diagonal".
func ParseMetricKind(s string) (MetricKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unit", "unit_e":
		return UnitMetric, nil
	case "dense", "dense_e":
		return DenseMetric, nil
	case "diag", "diagonal", "diag_e":
		return DiagMetric, nil
	}
	return 0, fmt.Errorf("unknown metric %q (want unit, dense or diagonal)", s)
}

// Metric is the inverse mass matrix of the kinetic energy
// tau(p) = p' M^{-1} p / 2.
type Metric interface {
	Kind() MetricKind
	Dim() int
	// Tau returns the kinetic energy of p.
	Tau(p []float64) float64
	// DtauDp writes M^{-1} p into out.
	DtauDp(p, out []float64)
	// SampleMomentum draws p ~ N(0, M).
	SampleMomentum(r *rand.Rand, p []float64)
	// Inverse returns the inverse metric, a diagonal or a row-major matrix.
	Inverse() []float64
}

// Unit is the identity metric.
type Unit struct{ n int }

func NewUnit(n int) *Unit { return &Unit{n: n} }

func (m *Unit) Kind() MetricKind { return UnitMetric }
func (m *Unit) Dim() int         { return m.n }

func (m *Unit) Tau(p []float64) float64 {
	var s float64
	for _, v := range p {
		s += v * v
	}
	return 0.5 * s
}

func (m *Unit) DtauDp(p, out []float64) { copy(out, p) }

func (m *Unit) SampleMomentum(r *rand.Rand, p []float64) {
	for i := range p {
		p[i] = r.NormFloat64()
	}
}

func (m *Unit) Inverse() []float64 {
	out := make([]float64, m.n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// Diag is a diagonal metric storing the diagonal of M^{-1}.
type Diag struct {
	inv  []float64
	sqrt []float64
}

// NewDiag validates that every entry is positive and finite.
func NewDiag(inv []float64) (*Diag, error) {
	d := &Diag{inv: append([]float64(nil), inv...), sqrt: make([]float64, len(inv))}
	for i, v := range inv {
		if !(v > 0) || math.IsInf(v, 1) {
			return nil, fmt.Errorf("%w: diagonal entry %d is %g, but must be positive and finite", ErrMetric, i, v)
		}
		d.sqrt[i] = math.Sqrt(v)
	}
	return d, nil
}

func (m *Diag) Kind() MetricKind { return DiagMetric }
func (m *Diag) Dim() int         { return len(m.inv) }

func (m *Diag) Tau(p []float64) float64 {
	var s float64
	for i, v := range p {
		s += m.inv[i] * v * v
	}
	return 0.5 * s
}

func (m *Diag) DtauDp(p, out []float64) {
	for i, v := range p {
		out[i] = m.inv[i] * v
	}
}

func (m *Diag) SampleMomentum(r *rand.Rand, p []float64) {
	for i := range p {
		p[i] = r.NormFloat64() / m.sqrt[i]
	}
}

func (m *Diag) Inverse() []float64 { return append([]float64(nil), m.inv...) }

// Dense is a full inverse metric with its Cholesky factor L (M^{-1} = L L').
type Dense struct {
	inv *mat.SymDense
	l   *mat.TriDense
}

// NewDense validates that inv is symmetric positive definite. inv is
// row-major n×n.
func NewDense(n int, inv []float64) (*Dense, error) {
	if len(inv) != n*n {
		return nil, fmt.Errorf("%w: expected %d values for a %d×%d matrix, got %d", ErrMetric, n*n, n, n, len(inv))
	}
	for i := 0; i < n; i++ {
		for j := 0; j < i; j++ {
			a, b := inv[i*n+j], inv[j*n+i]
			if math.Abs(a-b) > 1e-8*math.Max(1, math.Max(math.Abs(a), math.Abs(b))) {
				return nil, fmt.Errorf("%w: matrix is not symmetric at (%d, %d)", ErrMetric, i, j)
			}
		}
	}
	if n == 0 {
		return &Dense{inv: &mat.SymDense{}, l: &mat.TriDense{}}, nil
	}
	return newDenseSym(mat.NewSymDense(n, append([]float64(nil), inv...)))
}

func newDenseSym(sym *mat.SymDense) (*Dense, error) {
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return nil, fmt.Errorf("%w: matrix is not positive definite", ErrMetric)
	}
	l := mat.NewTriDense(sym.SymmetricDim(), mat.Lower, nil)
	chol.LTo(l)
	return &Dense{inv: sym, l: l}, nil
}

func (m *Dense) Kind() MetricKind { return DenseMetric }
func (m *Dense) Dim() int         { return m.inv.SymmetricDim() }

func (m *Dense) Tau(p []float64) float64 {
	out := make([]float64, len(p))
	m.DtauDp(p, out)
	var s float64
	for i, v := range p {
		s += v * out[i]
	}
	return 0.5 * s
}

func (m *Dense) DtauDp(p, out []float64) {
	n := len(p)
	if n == 0 {
		return
	}
	dst := mat.NewVecDense(n, out)
	dst.MulVec(m.inv, mat.NewVecDense(n, p))
}

// SampleMomentum solves L' p = z for z ~ N(0, I), so Cov(p) = (L L')^{-1}.
func (m *Dense) SampleMomentum(r *rand.Rand, p []float64) {
	n := len(p)
	for i := range p {
		p[i] = r.NormFloat64()
	}
	for i := n - 1; i >= 0; i-- {
		s := p[i]
		for j := i + 1; j < n; j++ {
			s -= m.l.At(j, i) * p[j]
		}
		p[i] = s / m.l.At(i, i)
	}
}

func (m *Dense) Inverse() []float64 {
	n := m.Dim()
	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[i*n+j] = m.inv.At(i, j)
		}
	}
	return out
}

// NewMetric builds a metric of the given kind. inv may be nil for the
// default (identity) inverse metric.
func NewMetric(kind MetricKind, n int, inv []float64) (Metric, error) {
	switch kind {
	case UnitMetric:
		return NewUnit(n), nil
	case DiagMetric:
		if inv == nil {
			inv = ones(n)
		}
		if len(inv) != n {
			return nil, fmt.Errorf("%w: expected %d diagonal entries, got %d", ErrMetric, n, len(inv))
		}
		return NewDiag(inv)
	case DenseMetric:
		if inv == nil {
			inv = identity(n)
		}
		return NewDense(n, inv)
	}
	return nil, fmt.Errorf("%w: unknown metric kind %d", ErrMetric, int(kind))
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func identity(n int) []float64 {
	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		out[i*n+i] = 1
	}
	return out
}
