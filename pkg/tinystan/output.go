package tinystan

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/WardBrian/tinystan/pkg/rng"
)

// Algorithm names the method that produced an Output.
type Algorithm string

const (
	AlgorithmSample     Algorithm = "sample"
	AlgorithmPathfinder Algorithm = "pathfinder"
	AlgorithmOptimize   Algorithm = "optimize"
	AlgorithmLaplace    Algorithm = "laplace"
)

// Output holds the draws of a run. Data is row-major with shape
// [Dims..., len(Names)]: [chains, draws, columns] for sampling,
// [draws, columns] for Pathfinder and Laplace, [columns] for optimization.
type Output struct {
	Algorithm Algorithm
	Names     []string
	Dims      []int
	Data      []float64

	// Stepsize has one adapted step size per chain.
	Stepsize []float64
	// InvMetric holds the adapted inverse metric per chain, shaped by
	// InvMetricDims: [chains, N] or [chains, N, N].
	InvMetric     []float64
	InvMetricDims []int
	// Hessian is the N x N Hessian of the log density at the mode, row-major.
	Hessian []float64
}

// Array is an n-dimensional row-major array.
type Array struct {
	Dims   []int
	Values []float64
}

// At indexes a with zero-based indices.
func (a Array) At(idx ...int) float64 {
	off := 0
	for i, d := range a.Dims {
		off = off*d + idx[i]
	}
	return a.Values[off]
}

func (a Array) MarshalJSON() ([]byte, error) {
	dims := a.Dims
	if dims == nil {
		dims = []int{}
	}
	return json.Marshal(struct {
		Dims   []int       `json:"dims"`
		Values []jsonFloat `json:"values"`
	}{dims, toJSONFloats(a.Values)})
}

// variable is one named quantity spread over consecutive columns.
type variable struct {
	name   string
	column int
	dims   []int
}

// Rows returns the number of draws.
func (o *Output) Rows() int {
	n := 1
	for _, d := range o.Dims {
		n *= d
	}
	return n
}

// Row returns draw i, flattening any chain dimension.
func (o *Output) Row(i int) []float64 {
	w := len(o.Names)
	return o.Data[i*w : (i+1)*w]
}

// Parameters lists the variable names, with indexed columns such as
// beta.1, beta.2 grouped under beta.
func (o *Output) Parameters() []string {
	vars := o.variables()
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.name
	}
	return out
}

// Column returns the values of a single column across all draws.
func (o *Output) Column(name string) ([]float64, error) {
	for j, n := range o.Names {
		if n != name {
			continue
		}
		rows := o.Rows()
		out := make([]float64, rows)
		for i := range out {
			out[i] = o.Data[i*len(o.Names)+j]
		}
		return out, nil
	}
	return nil, invalidArgument("unknown column %q", name)
}

// Get extracts a variable with shape [Dims..., variable dims...]. Indexed
// columns are column-major, so the result is transposed into row-major
// order.
func (o *Output) Get(name string) (Array, error) {
	for _, v := range o.variables() {
		if v.name != name {
			continue
		}
		return o.extract(v, o.Data, o.Rows(), o.Dims), nil
	}
	return Array{}, invalidArgument("unknown variable %q", name)
}

func (o *Output) extract(v variable, data []float64, rows int, lead []int) Array {
	size := 1
	for _, d := range v.dims {
		size *= d
	}
	w := len(o.Names)
	out := Array{
		Dims:   append(append([]int(nil), lead...), v.dims...),
		Values: make([]float64, 0, rows*size),
	}
	idx := make([]int, len(v.dims))
	for r := 0; r < rows; r++ {
		row := data[r*w : (r+1)*w]
		for i := range idx {
			idx[i] = 0
		}
		for k := 0; k < size; k++ {
			out.Values = append(out.Values, row[v.column+colMajorOffset(idx, v.dims)])
			incrementRowMajor(idx, v.dims)
		}
	}
	return out
}

func colMajorOffset(idx, dims []int) int {
	off, stride := 0, 1
	for i, d := range dims {
		off += idx[i] * stride
		stride *= d
	}
	return off
}

func incrementRowMajor(idx, dims []int) {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < dims[i] {
			return
		}
		idx[i] = 0
	}
}

// variables groups Names into variables. A column name like m.2.3 is
// element (2, 3) of m; the last element seen fixes the dims.
func (o *Output) variables() []variable {
	var vars []variable
	for j, n := range o.Names {
		base, idx := splitName(n)
		if len(vars) > 0 && vars[len(vars)-1].name == base && len(idx) > 0 {
			v := &vars[len(vars)-1]
			for i := range v.dims {
				if i < len(idx) && idx[i] > v.dims[i] {
					v.dims[i] = idx[i]
				}
			}
			continue
		}
		vars = append(vars, variable{name: base, column: j, dims: idx})
	}
	return vars
}

func splitName(name string) (string, []int) {
	parts := strings.Split(name, ".")
	idx := make([]int, 0, len(parts)-1)
	for _, p := range parts[1:] {
		i, err := strconv.Atoi(p)
		if err != nil || i < 1 {
			return name, nil
		}
		idx = append(idx, i)
	}
	return parts[0], idx
}

// CreateInits builds init documents for a new run from this output: one
// per chain, each a distinct randomly chosen draw. Optimization output has
// a single point, which every chain shares. The documents can be joined
// with jsondata.JoinInits.
func (o *Output) CreateInits(chains int, seed uint32) ([]string, error) {
	if chains < 1 {
		return nil, invalidArgument("chains must be at least 1")
	}
	rows := o.Rows()
	picks := make([]int, chains)
	if len(o.Dims) > 0 {
		if chains > rows {
			return nil, invalidArgument("cannot draw %d distinct inits from %d draws", chains, rows)
		}
		copy(picks, rng.New(seed, 0).Perm(rows)[:chains])
	}
	out := make([]string, chains)
	for c, row := range picks {
		doc := map[string]any{}
		for _, v := range o.variables() {
			if strings.HasSuffix(v.name, "__") {
				continue
			}
			a := o.extract(v, o.Row(row), 1, nil)
			doc[v.name] = nest(a.Values, a.Dims)
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, classify(err)
		}
		out[c] = string(b)
	}
	return out, nil
}

// nest turns a row-major array into nested slices for JSON.
func nest(values []float64, dims []int) any {
	if len(dims) == 0 {
		return jsonFloat(values[0])
	}
	n := len(values) / dims[0]
	out := make([]any, dims[0])
	for i := range out {
		out[i] = nest(values[i*n:(i+1)*n], dims[1:])
	}
	return out
}

// jsonFloat encodes non-finite values as the strings accepted by the data
// loader.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *jsonFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	switch s {
	case "NaN":
		*f = jsonFloat(math.NaN())
		return nil
	case "Inf", "Infinity":
		*f = jsonFloat(math.Inf(1))
		return nil
	case "-Inf", "-Infinity":
		*f = jsonFloat(math.Inf(-1))
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s", b)
	}
	*f = jsonFloat(v)
	return nil
}

func toJSONFloats(v []float64) []jsonFloat {
	if v == nil {
		return nil
	}
	out := make([]jsonFloat, len(v))
	for i, x := range v {
		out[i] = jsonFloat(x)
	}
	return out
}

func fromJSONFloats(v []jsonFloat) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

type outputJSON struct {
	Algorithm     Algorithm   `json:"algorithm"`
	Names         []string    `json:"names"`
	Dims          []int       `json:"dims"`
	Data          []jsonFloat `json:"data"`
	Stepsize      []jsonFloat `json:"stepsize,omitempty"`
	InvMetric     []jsonFloat `json:"inv_metric,omitempty"`
	InvMetricDims []int       `json:"inv_metric_dims,omitempty"`
	Hessian       []jsonFloat `json:"hessian,omitempty"`
}

func (o *Output) MarshalJSON() ([]byte, error) {
	dims := o.Dims
	if dims == nil {
		dims = []int{}
	}
	return json.Marshal(outputJSON{
		Algorithm:     o.Algorithm,
		Names:         o.Names,
		Dims:          dims,
		Data:          toJSONFloats(o.Data),
		Stepsize:      toJSONFloats(o.Stepsize),
		InvMetric:     toJSONFloats(o.InvMetric),
		InvMetricDims: o.InvMetricDims,
		Hessian:       toJSONFloats(o.Hessian),
	})
}

func (o *Output) UnmarshalJSON(b []byte) error {
	var raw outputJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := Output{
		Algorithm:     raw.Algorithm,
		Names:         raw.Names,
		Dims:          raw.Dims,
		Data:          fromJSONFloats(raw.Data),
		Stepsize:      fromJSONFloats(raw.Stepsize),
		InvMetric:     fromJSONFloats(raw.InvMetric),
		InvMetricDims: raw.InvMetricDims,
		Hessian:       fromJSONFloats(raw.Hessian),
	}
	if len(out.Dims) == 0 {
		out.Dims = nil
	}
	if len(out.Names) == 0 || len(out.Data) != out.Rows()*len(out.Names) {
		return fmt.Errorf("output has %d values for %d rows of %d columns", len(out.Data), out.Rows(), len(out.Names))
	}
	*o = out
	return nil
}

// WriteCSV writes a header of column names and one line per draw.
func (o *Output) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(o.Names); err != nil {
		return err
	}
	rec := make([]string, len(o.Names))
	for i := 0; i < o.Rows(); i++ {
		for j, v := range o.Row(i) {
			rec[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
