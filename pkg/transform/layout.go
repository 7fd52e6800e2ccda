package transform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Param declares one model parameter.
type Param struct {
	Name       string
	Dims       []int
	Constraint Constraint
}

// Size returns the number of constrained values.
func (p Param) Size() int {
	n := 1
	for _, d := range p.Dims {
		n *= d
	}
	return n
}

// FreeSize returns the number of unconstrained values.
func (p Param) FreeSize() int {
	return p.constraint().FreeSize(p.Size())
}

func (p Param) constraint() Constraint {
	if p.Constraint == nil {
		return Identity()
	}
	return p.Constraint
}

// Layout places a list of parameters into flat constrained and
// unconstrained vectors. Multi-dimensional parameters are flattened in
// column-major order (first index fastest).
type Layout struct {
	params []Param
	xOff   []int
	uOff   []int
	size   int
	free   int
	names  []string
}

// NewLayout validates params and computes offsets.
func NewLayout(params []Param) (*Layout, error) {
	l := &Layout{
		params: make([]Param, len(params)),
		xOff:   make([]int, len(params)),
		uOff:   make([]int, len(params)),
	}
	seen := make(map[string]bool, len(params))
	for i, p := range params {
		if p.Name == "" {
			return nil, errors.New("parameter name must not be empty")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
		for _, d := range p.Dims {
			if d < 0 {
				return nil, fmt.Errorf("parameter %q has negative dimension %d", p.Name, d)
			}
		}
		if _, ok := p.Constraint.(simplex); ok && len(p.Dims) != 1 {
			return nil, fmt.Errorf("simplex parameter %q must be a vector", p.Name)
		}
		p.Dims = append([]int(nil), p.Dims...)
		l.params[i] = p
		l.xOff[i] = l.size
		l.uOff[i] = l.free
		l.size += p.Size()
		l.free += p.FreeSize()
		l.names = append(l.names, FlatNames(p.Name, p.Dims)...)
	}
	return l, nil
}

// Params returns the declared parameters.
func (l *Layout) Params() []Param { return l.params }

// Names returns the flattened constrained names, e.g. "alpha.1", "m.2.1".
func (l *Layout) Names() []string { return l.names }

// Size returns the number of constrained values.
func (l *Layout) Size() int { return l.size }

// FreeSize returns the number of unconstrained values.
func (l *Layout) FreeSize() int { return l.free }

// Offsets returns where parameter i starts in the constrained and
// unconstrained vectors.
func (l *Layout) Offsets(i int) (x, u int) { return l.xOff[i], l.uOff[i] }

// Constrain maps u to x and returns the total log Jacobian determinant.
func (l *Layout) Constrain(u, x []float64) float64 {
	var lj float64
	for i, p := range l.params {
		xs, us := l.slices(i, x, u)
		lj += p.constraint().Constrain(us, xs)
	}
	return lj
}

// Unconstrain maps x to u. Errors name the offending parameter.
func (l *Layout) Unconstrain(x, u []float64) error {
	for i := range l.params {
		if err := l.UnconstrainParam(i, x[l.xOff[i]:l.xOff[i]+l.params[i].Size()], u); err != nil {
			return err
		}
	}
	return nil
}

// UnconstrainParam maps the constrained values xs of parameter i into its
// slot of u.
func (l *Layout) UnconstrainParam(i int, xs, u []float64) error {
	p := l.params[i]
	us := u[l.uOff[i] : l.uOff[i]+p.FreeSize()]
	if err := p.constraint().Unconstrain(xs, us); err != nil {
		return fmt.Errorf("%s: %w", p.Name, err)
	}
	return nil
}

// Backprop accumulates into gu the gradient with respect to u given gx,
// the gradient with respect to the constrained values.
func (l *Layout) Backprop(u, gx, gu []float64, jacobian bool) {
	for i, p := range l.params {
		gxs, us := l.slices(i, gx, u)
		gus := gu[l.uOff[i] : l.uOff[i]+p.FreeSize()]
		p.constraint().Backprop(us, gxs, gus, jacobian)
	}
}

func (l *Layout) slices(i int, x, u []float64) ([]float64, []float64) {
	p := l.params[i]
	return x[l.xOff[i] : l.xOff[i]+p.Size()], u[l.uOff[i] : l.uOff[i]+p.FreeSize()]
}

// FlatNames lists the element names of a parameter in column-major order.
func FlatNames(name string, dims []int) []string {
	if len(dims) == 0 {
		return []string{name}
	}
	n := 1
	for _, d := range dims {
		n *= d
	}
	out := make([]string, 0, n)
	idx := make([]int, len(dims))
	for k := 0; k < n; k++ {
		var b strings.Builder
		b.WriteString(name)
		for _, v := range idx {
			b.WriteByte('.')
			b.WriteString(strconv.Itoa(v + 1))
		}
		out = append(out, b.String())
		for j := range idx {
			idx[j]++
			if idx[j] < dims[j] {
				break
			}
			idx[j] = 0
		}
	}
	return out
}

// RowToColMajor reorders a row-major array with the given dims into
// column-major order.
func RowToColMajor(values []float64, dims []int) []float64 {
	out := make([]float64, len(values))
	if len(dims) < 2 {
		copy(out, values)
		return out
	}
	idx := make([]int, len(dims))
	for k := range values {
		// k walks column-major; compute the matching row-major offset.
		off := 0
		for j := range dims {
			off = off*dims[j] + idx[j]
		}
		out[k] = values[off]
		for j := range idx {
			idx[j]++
			if idx[j] < dims[j] {
				break
			}
			idx[j] = 0
		}
	}
	return out
}
