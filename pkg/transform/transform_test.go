package transform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		c    Constraint
		x    []float64
	}{
		{"identity", Identity(), []float64{-3, 0, 12.5}},
		{"lower", Lower(0), []float64{0.001, 1, 40}},
		{"lower shifted", Lower(-2), []float64{-1.5, 3}},
		{"upper", Upper(1), []float64{0.5, -10}},
		{"bounded", Bounded(0, 1), []float64{0.2, 0.5, 0.999}},
		{"bounded wide", Bounded(-5, 10), []float64{-4.9, 0, 9}},
		{"simplex", Simplex(), []float64{0.2, 0.3, 0.1, 0.4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			u := make([]float64, tc.c.FreeSize(len(tc.x)))
			require.NoError(t, tc.c.Unconstrain(tc.x, u))
			back := make([]float64, len(tc.x))
			tc.c.Constrain(u, back)
			assert.InDeltaSlice(t, tc.x, back, 1e-10)
		})
	}
}

func TestDomainErrors(t *testing.T) {
	t.Parallel()
	u := make([]float64, 3)

	err := Bounded(0, 1).Unconstrain([]float64{2}, u)
	require.ErrorIs(t, err, ErrDomain)
	assert.Contains(t, err.Error(), "Bounded variable is 2")

	err = Lower(0).Unconstrain([]float64{-1}, u)
	require.ErrorIs(t, err, ErrDomain)
	assert.Contains(t, err.Error(), "Lower bounded variable is -1")

	err = Upper(0).Unconstrain([]float64{1}, u)
	require.ErrorIs(t, err, ErrDomain)

	err = Simplex().Unconstrain([]float64{0.5, 0.6}, u)
	require.ErrorIs(t, err, ErrDomain)
	assert.Contains(t, err.Error(), "sum(Simplex variable)")

	err = Simplex().Unconstrain([]float64{-0.5, 1.5}, u)
	require.ErrorIs(t, err, ErrDomain)
}

// The log determinant from Constrain should match a numerical
// derivative for the elementwise constraints.
func TestLogJacobianElementwise(t *testing.T) {
	t.Parallel()
	for _, c := range []Constraint{Lower(1), Upper(-1), Bounded(-2, 3)} {
		u := []float64{0.3}
		x := make([]float64, 1)
		lj := c.Constrain(u, x)
		d := fd.Derivative(func(v float64) float64 {
			out := make([]float64, 1)
			c.Constrain([]float64{v}, out)
			return out[0]
		}, 0.3, &fd.Settings{Formula: fd.Central})
		assert.InDelta(t, math.Log(math.Abs(d)), lj, 1e-6, c.String())
	}
}

func TestBackpropMatchesFiniteDifferences(t *testing.T) {
	t.Parallel()
	// f(x) = sum_i w_i * x_i^2, so gx = 2 w x.
	weights := []float64{1.5, -0.7, 2.0, 0.4}
	cases := []struct {
		name string
		c    Constraint
		u    []float64
		k    int
	}{
		{"identity", Identity(), []float64{0.1, -0.4, 2, 1}, 4},
		{"lower", Lower(0.5), []float64{0.1, -0.4, 0.2, 1}, 4},
		{"upper", Upper(2), []float64{0.1, -0.4, 0.2, 1}, 4},
		{"bounded", Bounded(-1, 3), []float64{0.1, -0.4, 0.2, 1}, 4},
		{"simplex", Simplex(), []float64{0.3, -0.8, 0.5}, 4},
	}
	for _, tc := range cases {
		for _, jacobian := range []bool{false, true} {
			objective := func(u []float64) float64 {
				x := make([]float64, tc.k)
				lj := tc.c.Constrain(u, x)
				var f float64
				for i, v := range x {
					f += weights[i] * v * v
				}
				if jacobian {
					f += lj
				}
				return f
			}
			want := fd.Gradient(nil, objective, tc.u, &fd.Settings{Formula: fd.Central})

			x := make([]float64, tc.k)
			tc.c.Constrain(tc.u, x)
			gx := make([]float64, tc.k)
			for i, v := range x {
				gx[i] = 2 * weights[i] * v
			}
			got := make([]float64, len(tc.u))
			tc.c.Backprop(tc.u, gx, got, jacobian)
			assert.InDeltaSlice(t, want, got, 1e-6, "%s jacobian=%v", tc.name, jacobian)
		}
	}
}

func TestSimplexConstrainSumsToOne(t *testing.T) {
	t.Parallel()
	x := make([]float64, 5)
	Simplex().Constrain([]float64{3, -2, 0.1, 7}, x)
	var sum float64
	for _, v := range x {
		assert.GreaterOrEqual(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestLayout(t *testing.T) {
	t.Parallel()
	l, err := NewLayout([]Param{
		{Name: "mu"},
		{Name: "m", Dims: []int{2, 3}, Constraint: Lower(0)},
		{Name: "theta", Dims: []int{3}, Constraint: Simplex()},
	})
	require.NoError(t, err)
	assert.Equal(t, 1+6+3, l.Size())
	assert.Equal(t, 1+6+2, l.FreeSize())
	assert.Equal(t, []string{
		"mu", "m.1.1", "m.2.1", "m.1.2", "m.2.2", "m.1.3", "m.2.3",
		"theta.1", "theta.2", "theta.3",
	}, l.Names())

	x := []float64{0.5, 1, 2, 3, 4, 5, 6, 0.2, 0.3, 0.5}
	u := make([]float64, l.FreeSize())
	require.NoError(t, l.Unconstrain(x, u))
	back := make([]float64, l.Size())
	l.Constrain(u, back)
	assert.InDeltaSlice(t, x, back, 1e-10)

	x[1] = -1
	err = l.Unconstrain(x, u)
	require.ErrorIs(t, err, ErrDomain)
	assert.Contains(t, err.Error(), "m: ")
}

func TestLayoutRejectsBadParams(t *testing.T) {
	t.Parallel()
	_, err := NewLayout([]Param{{Name: "a"}, {Name: "a"}})
	assert.Error(t, err)
	_, err = NewLayout([]Param{{Name: "s", Dims: []int{2, 2}, Constraint: Simplex()}})
	assert.Error(t, err)
	_, err = NewLayout([]Param{{Name: ""}})
	assert.Error(t, err)
}

func TestRowToColMajor(t *testing.T) {
	t.Parallel()
	// [[1, 2, 3], [4, 5, 6]] column-major is 1, 4, 2, 5, 3, 6.
	got := RowToColMajor([]float64{1, 2, 3, 4, 5, 6}, []int{2, 3})
	assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, got)
	assert.Equal(t, []float64{7, 8}, RowToColMajor([]float64{7, 8}, []int{2}))
}
