// Package transform maps constrained parameters to and from unconstrained
// real coordinates.
//
// Every constraint supplies the forward map (unconstrained to constrained)
// with the log absolute Jacobian determinant, its inverse, and the
// reverse-mode product needed to carry a gradient with respect to the
// constrained values back to the unconstrained ones.
package transform

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrDomain reports a constrained value outside its declared support.
var ErrDomain = errors.New("constraint violated")

// Constraint describes the support of a parameter.
type Constraint interface {
	// FreeSize returns the number of unconstrained values needed to
	// represent n constrained values.
	FreeSize(n int) int
	// Constrain writes the constrained values for u into x and returns the
	// log absolute Jacobian determinant.
	Constrain(u, x []float64) float64
	// Unconstrain writes the unconstrained values for x into u.
	Unconstrain(x, u []float64) error
	// Backprop adds to gu the gradient with respect to u of a function whose
	// gradient with respect to x is gx. With jacobian set, the gradient of
	// the log Jacobian determinant is added as well.
	Backprop(u, gx, gu []float64, jacobian bool)
	String() string
}

// scalar is a constraint applied independently to each element.
type scalar interface {
	forward(u float64) (x, logJ float64)
	inverse(x float64) (float64, error)
	// deriv returns dx/du and d(logJ)/du.
	deriv(u float64) (float64, float64)
	String() string
}

type elementwise struct{ s scalar }

func (e elementwise) FreeSize(n int) int { return n }

func (e elementwise) Constrain(u, x []float64) float64 {
	var lj float64
	for i, v := range u {
		xi, l := e.s.forward(v)
		x[i] = xi
		lj += l
	}
	return lj
}

func (e elementwise) Unconstrain(x, u []float64) error {
	for i, v := range x {
		ui, err := e.s.inverse(v)
		if err != nil {
			return err
		}
		u[i] = ui
	}
	return nil
}

func (e elementwise) Backprop(u, gx, gu []float64, jacobian bool) {
	for i, v := range u {
		dx, dl := e.s.deriv(v)
		gu[i] += gx[i] * dx
		if jacobian {
			gu[i] += dl
		}
	}
}

func (e elementwise) String() string { return e.s.String() }

// Identity leaves values unconstrained.
func Identity() Constraint { return elementwise{identity{}} }

// Lower constrains values to [lb, inf).
func Lower(lb float64) Constraint { return elementwise{lower{lb}} }

// Upper constrains values to (-inf, ub].
func Upper(ub float64) Constraint { return elementwise{upper{ub}} }

// Bounded constrains values to [lb, ub].
func Bounded(lb, ub float64) Constraint { return elementwise{bounded{lb, ub}} }

type identity struct{}

func (identity) forward(u float64) (float64, float64) { return u, 0 }
func (identity) inverse(x float64) (float64, error)   { return x, nil }
func (identity) deriv(float64) (float64, float64)     { return 1, 0 }
func (identity) String() string                       { return "real" }

type lower struct{ lb float64 }

func (c lower) forward(u float64) (float64, float64) { return c.lb + math.Exp(u), u }

func (c lower) inverse(x float64) (float64, error) {
	if !(x >= c.lb) {
		return 0, fmt.Errorf("%w: lb_free: Lower bounded variable is %s, but must be greater than or equal to %s",
			ErrDomain, num(x), num(c.lb))
	}
	return math.Log(x - c.lb), nil
}

func (c lower) deriv(u float64) (float64, float64) { return math.Exp(u), 1 }
func (c lower) String() string                     { return "real<lower=" + num(c.lb) + ">" }

type upper struct{ ub float64 }

func (c upper) forward(u float64) (float64, float64) { return c.ub - math.Exp(u), u }

func (c upper) inverse(x float64) (float64, error) {
	if !(x <= c.ub) {
		return 0, fmt.Errorf("%w: ub_free: Upper bounded variable is %s, but must be less than or equal to %s",
			ErrDomain, num(x), num(c.ub))
	}
	return math.Log(c.ub - x), nil
}

func (c upper) deriv(u float64) (float64, float64) { return -math.Exp(u), 1 }
func (c upper) String() string                     { return "real<upper=" + num(c.ub) + ">" }

type bounded struct{ lb, ub float64 }

func (c bounded) forward(u float64) (float64, float64) {
	w := c.ub - c.lb
	return c.lb + w*invLogit(u), math.Log(w) + logInvLogit(u) + logInvLogit(-u)
}

func (c bounded) inverse(x float64) (float64, error) {
	if !(x >= c.lb && x <= c.ub) {
		return 0, fmt.Errorf("%w: lub_free: Bounded variable is %s, but must be in the interval [%s, %s]",
			ErrDomain, num(x), num(c.lb), num(c.ub))
	}
	return logit((x - c.lb) / (c.ub - c.lb)), nil
}

func (c bounded) deriv(u float64) (float64, float64) {
	s := invLogit(u)
	return (c.ub - c.lb) * s * (1 - s), 1 - 2*s
}

func (c bounded) String() string {
	return "real<lower=" + num(c.lb) + ", upper=" + num(c.ub) + ">"
}

func invLogit(u float64) float64 {
	if u < 0 {
		e := math.Exp(u)
		return e / (1 + e)
	}
	return 1 / (1 + math.Exp(-u))
}

func logInvLogit(u float64) float64 {
	if u < 0 {
		return u - math.Log1p(math.Exp(u))
	}
	return -math.Log1p(math.Exp(-u))
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
