package pathfinder

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var errApprox = errors.New("inverse Hessian approximation is not positive definite")

// history holds the most recent (s, y) pairs that passed the curvature
// check, oldest first, and the diagonal estimate alpha.
type history struct {
	m     int
	s, y  [][]float64
	alpha []float64
}

func newHistory(n, m int) *history {
	alpha := make([]float64, n)
	for i := range alpha {
		alpha[i] = 1
	}
	return &history{m: m, alpha: alpha}
}

// push records a pair if it passes the curvature check and reports whether
// it did.
func (h *history) push(s, y []float64) bool {
	sy := floats.Dot(s, y)
	if !(sy > 0) || math.Abs(floats.Dot(y, y)/sy) > 1e12 {
		return false
	}
	h.alpha = formDiag(h.alpha, y, s)
	if len(h.s) == h.m {
		h.s, h.y = h.s[1:], h.y[1:]
	}
	h.s = append(h.s, s)
	h.y = append(h.y, y)
	return true
}

// formDiag updates the diagonal inverse-Hessian estimate with one pair.
func formDiag(alpha, y, s []float64) []float64 {
	var yay, sias float64
	for i := range alpha {
		yay += y[i] * alpha[i] * y[i]
		sias += s[i] * s[i] / alpha[i]
	}
	ys := floats.Dot(y, s)
	out := make([]float64, len(alpha))
	for i, a := range alpha {
		r := s[i] / a
		out[i] = ys / (yay/a + y[i]*y[i] - (yay/sias)*r*r)
	}
	return out
}

// approx is the Gaussian N(mu, H) with H = diag(alpha) + beta gamma beta'
// the compact L-BFGS inverse Hessian at one iterate.
type approx struct {
	n      int
	mu     []float64
	logdet float64

	// dense factor of H
	l *mat.TriDense

	// low-rank factor: H = D^½ (I + Q (L L' - I) Q') D^½
	sqrtAlpha []float64
	q         *mat.Dense
	lMinusI   *mat.Dense
}

// newApprox builds the approximation at x with log-density gradient g. It
// factors H densely when the history is at least half the dimension and
// through a thin QR of the low-rank part otherwise.
func newApprox(h *history, x, g []float64) (*approx, error) {
	return buildApprox(h, x, g, 2*len(h.s) >= len(x))
}

func buildApprox(h *history, x, g []float64, dense bool) (*approx, error) {
	n, m := len(x), len(h.s)
	alpha := h.alpha

	ymat := mat.NewDense(n, m, nil)
	smat := mat.NewDense(n, m, nil)
	for j := 0; j < m; j++ {
		ymat.SetCol(j, h.y[j])
		smat.SetCol(j, h.s[j])
	}

	var sy mat.Dense
	sy.Mul(smat.T(), ymat)
	r := mat.NewTriDense(m, mat.Upper, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			r.SetTri(i, j, sy.At(i, j))
		}
	}
	var rinv mat.TriDense
	if err := rinv.InverseTri(r); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, err
		}
	}

	// beta = [diag(alpha) Y, S]
	beta := mat.NewDense(n, 2*m, nil)
	var yay mat.Dense
	{
		ay := mat.NewDense(n, m, nil)
		ay.Apply(func(i, _ int, v float64) float64 { return alpha[i] * v }, ymat)
		beta.Slice(0, n, 0, m).(*mat.Dense).Copy(ay)
		beta.Slice(0, n, m, 2*m).(*mat.Dense).Copy(smat)
		yay.Mul(ymat.T(), ay)
	}

	// gamma = [[0, -R^-1], [-R^-T, R^-T (D + Y' diag(alpha) Y) R^-1]]
	inner := mat.NewDense(m, m, nil)
	inner.Copy(&yay)
	for i := 0; i < m; i++ {
		inner.Set(i, i, inner.At(i, i)+sy.At(i, i))
	}
	var br, brr mat.Dense
	br.Mul(rinv.T(), inner)
	brr.Mul(&br, &rinv)
	gamma := mat.NewDense(2*m, 2*m, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			gamma.Set(i, m+j, -rinv.At(i, j))
			gamma.Set(m+i, j, -rinv.At(j, i))
			gamma.Set(m+i, m+j, brr.At(i, j))
		}
	}

	// mu = x + H g
	mu := make([]float64, n)
	{
		var btg, gbtg, bgbtg mat.VecDense
		btg.MulVec(beta.T(), mat.NewVecDense(n, g))
		gbtg.MulVec(gamma, &btg)
		bgbtg.MulVec(beta, &gbtg)
		for i := range mu {
			mu[i] = x[i] + alpha[i]*g[i] + bgbtg.AtVec(i)
		}
	}

	a := &approx{n: n, mu: mu}
	if dense {
		return a, a.factorDense(alpha, beta, gamma)
	}
	return a, a.factorSparse(alpha, beta, gamma)
}

func (a *approx) factorDense(alpha []float64, beta, gamma *mat.Dense) error {
	n := a.n
	var bg, hk mat.Dense
	bg.Mul(beta, gamma)
	hk.Mul(&bg, beta.T())
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.5 * (hk.At(i, j) + hk.At(j, i))
			if i == j {
				v += alpha[i]
			}
			sym.SetSym(i, j, v)
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return errApprox
	}
	a.l = mat.NewTriDense(n, mat.Lower, nil)
	chol.LTo(a.l)
	a.logdet = chol.LogDet()
	return nil
}

func (a *approx) factorSparse(alpha []float64, beta, gamma *mat.Dense) error {
	n := a.n
	k, _ := gamma.Dims()

	a.sqrtAlpha = make([]float64, n)
	var logAlpha float64
	for i, v := range alpha {
		a.sqrtAlpha[i] = math.Sqrt(v)
		logAlpha += math.Log(v)
	}
	w := mat.NewDense(n, k, nil)
	w.Apply(func(i, _ int, v float64) float64 { return v / a.sqrtAlpha[i] }, beta)

	var qr mat.QR
	qr.Factorize(w)
	var qFull, rFull mat.Dense
	qr.QTo(&qFull)
	qr.RTo(&rFull)
	a.q = mat.DenseCopyOf(qFull.Slice(0, n, 0, k))
	rk := rFull.Slice(0, k, 0, k)

	var rg, mk mat.Dense
	rg.Mul(rk, gamma)
	mk.Mul(&rg, rk.T())
	sym := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			v := 0.5 * (mk.At(i, j) + mk.At(j, i))
			if i == j {
				v++
			}
			sym.SetSym(i, j, v)
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return errApprox
	}
	var l mat.TriDense
	chol.LTo(&l)
	a.lMinusI = mat.DenseCopyOf(&l)
	for i := 0; i < k; i++ {
		a.lMinusI.Set(i, i, a.lMinusI.At(i, i)-1)
	}
	a.logdet = logAlpha + chol.LogDet()
	return nil
}

// transform maps a standard normal u to a draw theta of the approximation.
func (a *approx) transform(u, theta []float64) {
	n := a.n
	if a.l != nil {
		tv := mat.NewVecDense(n, theta)
		tv.MulVec(a.l, mat.NewVecDense(n, u))
		floats.Add(theta, a.mu)
		return
	}
	uv := mat.NewVecDense(n, u)
	var qtu, lq, z mat.VecDense
	qtu.MulVec(a.q.T(), uv)
	lq.MulVec(a.lMinusI, &qtu)
	z.MulVec(a.q, &lq)
	for i := range theta {
		theta[i] = a.mu[i] + a.sqrtAlpha[i]*(u[i]+z.AtVec(i))
	}
}

// logDensity is the approximation's log density at the draw made from u.
func (a *approx) logDensity(u []float64) float64 {
	return -0.5*floats.Dot(u, u) - 0.5*a.logdet - 0.5*float64(a.n)*math.Log(2*math.Pi)
}
