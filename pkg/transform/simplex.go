package transform

import (
	"fmt"
	"math"
)

const simplexTolerance = 1e-8

// Simplex constrains a vector of K values to be non-negative and sum to one,
// using K-1 unconstrained values (stick-breaking).
func Simplex() Constraint { return simplex{} }

type simplex struct{}

func (simplex) FreeSize(n int) int {
	if n == 0 {
		return 0
	}
	return n - 1
}

func (simplex) Constrain(u, x []float64) float64 {
	k := len(x)
	if k == 0 {
		return 0
	}
	stick := 1.0
	var lj float64
	for i := 0; i < k-1; i++ {
		adj := u[i] - math.Log(float64(k-1-i))
		z := invLogit(adj)
		x[i] = stick * z
		lj += math.Log(stick) + logInvLogit(adj) + logInvLogit(-adj)
		stick -= x[i]
	}
	x[k-1] = stick
	return lj
}

func (simplex) Unconstrain(x, u []float64) error {
	k := len(x)
	var sum float64
	for _, v := range x {
		if !(v >= 0) {
			return fmt.Errorf("%w: simplex_free: Simplex variable is not a valid simplex. Simplex variable has element %s, but must be non-negative",
				ErrDomain, num(v))
		}
		sum += v
	}
	if k > 0 && math.Abs(sum-1) > simplexTolerance {
		return fmt.Errorf("%w: simplex_free: Simplex variable is not a valid simplex. sum(Simplex variable) = %s, but should be 1",
			ErrDomain, num(sum))
	}
	stick := 1.0
	for i := 0; i < k-1; i++ {
		z := x[i] / stick
		u[i] = logit(z) + math.Log(float64(k-1-i))
		stick -= x[i]
	}
	return nil
}

// Backprop runs the stick-breaking recursion in reverse.
//
// Forward: s_0 = 1, x_i = s_i z_i, s_{i+1} = s_i (1 - z_i), x_{K-1} = s_{K-1},
// logJ = sum_i log s_i + log z_i + log(1 - z_i).
func (simplex) Backprop(u, gx, gu []float64, jacobian bool) {
	k := len(gx)
	if k < 2 {
		return
	}
	z := make([]float64, k-1)
	s := make([]float64, k)
	s[0] = 1
	for i := 0; i < k-1; i++ {
		z[i] = invLogit(u[i] - math.Log(float64(k-1-i)))
		s[i+1] = s[i] * (1 - z[i])
	}
	jac := 0.0
	if jacobian {
		jac = 1
	}
	sBar := gx[k-1]
	for i := k - 2; i >= 0; i-- {
		zBar := gx[i]*s[i] - sBar*s[i]
		nextS := gx[i]*z[i] + sBar*(1-z[i]) + jac/s[i]
		gu[i] += zBar*z[i]*(1-z[i]) + jac*(1-2*z[i])
		sBar = nextS
	}
}

func (simplex) String() string { return "simplex" }
