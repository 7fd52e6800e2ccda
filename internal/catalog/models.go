package catalog

import (
	"math"

	"github.com/WardBrian/tinystan/pkg/jsondata"
	"github.com/WardBrian/tinystan/pkg/model"
	"github.com/WardBrian/tinystan/pkg/transform"
)

const linearRegressionExample = `{"N": 10, "K": 2,
 "x": [[-1.05, 0.18], [-0.52, 0.42], [0.5, -1.74], [-1.95, 1.35], [-0.96, -1.06],
       [1.98, -0.12], [1.35, -0.09], [0.56, -1.4], [0.54, 1.47], [0.09, 0.97]],
 "y": [-1.366, -0.62, 3.775, -4.918, 0.1, 5.199, 4.166, 3.097, 0.41, -0.798]}`

// Bernoulli is theta ~ beta(1, 1), y ~ bernoulli(theta).
func Bernoulli() model.Definition {
	return model.Definition{
		Name: "bernoulli",
		Doc:  "theta ~ beta(1, 1); y[N] ~ bernoulli(theta)",
		Build: func(data *jsondata.Context) (*model.Spec, error) {
			n, err := sizeVar(data, "N")
			if err != nil {
				return nil, err
			}
			y, err := data.IntArray("y", n)
			if err != nil {
				return nil, err
			}
			var ones float64
			for i, v := range y {
				if err := jsondata.CheckGreaterOrEqual(jsondata.Elem("y", i), float64(v), 0); err != nil {
					return nil, err
				}
				if err := jsondata.CheckLessOrEqual(jsondata.Elem("y", i), float64(v), 1); err != nil {
					return nil, err
				}
				ones += float64(v)
			}
			zeros := float64(n) - ones
			return &model.Spec{
				Params: []transform.Param{{Name: "theta", Constraint: transform.Bounded(0, 1)}},
				Grad: func(x, g []float64) (float64, error) {
					theta := x[0]
					g[0] = ones/theta - zeros/(1-theta)
					return ones*math.Log(theta) + zeros*math.Log1p(-theta), nil
				},
			}, nil
		},
	}
}

// Gaussian is alpha[N] ~ normal(0, 1).
func Gaussian() model.Definition {
	return model.Definition{
		Name: "gaussian",
		Doc:  "alpha[N] ~ normal(0, 1)",
		Build: func(data *jsondata.Context) (*model.Spec, error) {
			n, err := sizeVar(data, "N")
			if err != nil {
				return nil, err
			}
			return &model.Spec{
				Params: []transform.Param{{Name: "alpha", Dims: []int{n}}},
				Grad: func(x, g []float64) (float64, error) {
					var lp float64
					for i, v := range x {
						g[i] = -v
						lp -= 0.5 * v * v
					}
					return lp, nil
				},
			}, nil
		},
	}
}

// Multimodal is an equal mixture of normal(-100, 1) and normal(100, 1).
func Multimodal() model.Definition {
	return model.Definition{
		Name: "multimodal",
		Doc:  "mu ~ 0.5 * normal(-100, 1) + 0.5 * normal(100, 1)",
		Build: func(*jsondata.Context) (*model.Spec, error) {
			return &model.Spec{
				Params: []transform.Param{{Name: "mu"}},
				Grad: func(x, g []float64) (float64, error) {
					mu := x[0]
					a := -0.5 * (mu + 100) * (mu + 100)
					b := -0.5 * (mu - 100) * (mu - 100)
					top := math.Max(a, b)
					lse := top + math.Log(math.Exp(a-top)+math.Exp(b-top))
					wa, wb := math.Exp(a-lse), math.Exp(b-lse)
					g[0] = -wa*(mu+100) - wb*(mu-100)
					return math.Log(0.5) + lse, nil
				},
			}, nil
		},
	}
}

// SimpleJacobian is sigma ~ normal(3, 1) with sigma > 0. Its mode is 3
// without the Jacobian adjustment and (3+sqrt(13))/2 with it.
func SimpleJacobian() model.Definition {
	return model.Definition{
		Name: "simple_jacobian",
		Doc:  "sigma ~ normal(3, 1), sigma > 0",
		Build: func(*jsondata.Context) (*model.Spec, error) {
			return &model.Spec{
				Params: []transform.Param{{Name: "sigma", Constraint: transform.Lower(0)}},
				Grad: func(x, g []float64) (float64, error) {
					d := x[0] - 3
					g[0] = -d
					return -0.5 * d * d, nil
				},
			}, nil
		},
	}
}

// Empty has no parameters.
func Empty() model.Definition {
	return model.Definition{
		Name: "empty",
		Doc:  "no parameters",
		Build: func(*jsondata.Context) (*model.Spec, error) {
			return &model.Spec{
				LogProb: func([]float64) (float64, error) { return 0, nil },
			}, nil
		},
	}
}

// LinearRegression is y ~ normal(alpha + x * beta, sigma) with
// normal(0, 10) priors on the coefficients and sigma ~ exponential(1).
func LinearRegression() model.Definition {
	return model.Definition{
		Name: "linear_regression",
		Doc:  "y[N] ~ normal(alpha + x[N, K] * beta, sigma)",
		Build: func(data *jsondata.Context) (*model.Spec, error) {
			n, err := sizeVar(data, "N")
			if err != nil {
				return nil, err
			}
			k, err := sizeVar(data, "K")
			if err != nil {
				return nil, err
			}
			xs, err := data.RealArray("x", n, k)
			if err != nil {
				return nil, err
			}
			y, err := data.RealArray("y", n)
			if err != nil {
				return nil, err
			}
			return &model.Spec{
				Params: []transform.Param{
					{Name: "alpha"},
					{Name: "beta", Dims: []int{k}},
					{Name: "sigma", Constraint: transform.Lower(0)},
				},
				Grad: func(p, g []float64) (float64, error) {
					alpha, beta, sigma := p[0], p[1:1+k], p[1+k]
					for i := range g {
						g[i] = 0
					}
					gBeta := g[1 : 1+k]
					lp := -alpha*alpha/200 - sigma
					g[0] = -alpha / 100
					for j, b := range beta {
						lp -= b * b / 200
						gBeta[j] = -b / 100
					}
					s2 := sigma * sigma
					var ss float64
					for i := 0; i < n; i++ {
						row := xs[i*k : (i+1)*k]
						r := y[i] - alpha
						for j, b := range beta {
							r -= row[j] * b
						}
						ss += r * r
						g[0] += r / s2
						for j := range gBeta {
							gBeta[j] += r * row[j] / s2
						}
					}
					lp += -float64(n)*math.Log(sigma) - 0.5*ss/s2
					g[1+k] = -float64(n)/sigma + ss/(s2*sigma) - 1
					return lp, nil
				},
			}, nil
		},
	}
}

// Dirichlet is theta ~ dirichlet(alpha) over a K-simplex. It has no
// analytic gradient.
func Dirichlet() model.Definition {
	return model.Definition{
		Name: "dirichlet",
		Doc:  "theta ~ dirichlet(alpha), theta a K-simplex",
		Build: func(data *jsondata.Context) (*model.Spec, error) {
			k, err := data.Int("K")
			if err != nil {
				return nil, err
			}
			if err := jsondata.CheckGreaterOrEqual("K", float64(k), 1); err != nil {
				return nil, err
			}
			alpha, err := data.RealArray("alpha", k)
			if err != nil {
				return nil, err
			}
			for i, a := range alpha {
				if err := jsondata.CheckGreater(jsondata.Elem("alpha", i), a, 0); err != nil {
					return nil, err
				}
			}
			return &model.Spec{
				Params: []transform.Param{{Name: "theta", Dims: []int{k}, Constraint: transform.Simplex()}},
				LogProb: func(theta []float64) (float64, error) {
					var lp float64
					for i, a := range alpha {
						if a != 1 {
							lp += (a - 1) * math.Log(theta[i])
						}
					}
					return lp, nil
				},
			}, nil
		},
	}
}

func sizeVar(data *jsondata.Context, name string) (int, error) {
	n, err := data.Int(name)
	if err != nil {
		return 0, err
	}
	if err := jsondata.CheckGreaterOrEqual(name, float64(n), 0); err != nil {
		return 0, err
	}
	return n, nil
}
