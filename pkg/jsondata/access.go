package jsondata

import (
	"fmt"
	"strconv"
	"strings"
)

const dataStage = "data initialization"

// Int reads an integer scalar.
func (c *Context) Int(name string) (int, error) {
	v, err := c.lookup(name, "int", nil)
	if err != nil {
		return 0, err
	}
	if !v.Integer {
		return 0, nonInt(name)
	}
	return int(v.Values[0]), nil
}

// IntArray reads an integer array with the given dims, flattened row-major.
func (c *Context) IntArray(name string, dims ...int) ([]int, error) {
	v, err := c.lookup(name, "int", dims)
	if err != nil {
		return nil, err
	}
	if len(v.Values) > 0 && !v.Integer {
		return nil, nonInt(name)
	}
	out := make([]int, len(v.Values))
	for i, f := range v.Values {
		out[i] = int(f)
	}
	return out, nil
}

// Real reads a real scalar. Integer values are accepted.
func (c *Context) Real(name string) (float64, error) {
	v, err := c.lookup(name, "real", nil)
	if err != nil {
		return 0, err
	}
	return v.Values[0], nil
}

// RealArray reads a real array with the given dims, flattened row-major.
func (c *Context) RealArray(name string, dims ...int) ([]float64, error) {
	v, err := c.lookup(name, "real", dims)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(v.Values))
	copy(out, v.Values)
	return out, nil
}

func (c *Context) lookup(name, baseType string, dims []int) (Var, error) {
	v, ok := c.vars[name]
	if !ok {
		return Var{}, fmt.Errorf("%w: variable does not exist; processing stage=%s; variable name=%s; base type=%s",
			ErrData, dataStage, name, baseType)
	}
	if err := CheckDims(dataStage, name, dims, v.Dims); err != nil {
		return Var{}, err
	}
	return v, nil
}

// CheckDims compares declared and found dims and names the first mismatch.
func CheckDims(stage, name string, declared, found []int) error {
	if len(declared) != len(found) {
		return fmt.Errorf("%w: mismatch in number of dimensions declared and found in context; processing stage=%s; variable name=%s; dims declared=(%s); dims found=(%s)",
			ErrData, stage, name, joinDims(declared), joinDims(found))
	}
	for i := range declared {
		if declared[i] != found[i] {
			return fmt.Errorf("%w: mismatch in dimension declared and found in context; processing stage=%s; variable name=%s; position=%d; dims declared=(%s); dims found=(%s)",
				ErrData, stage, name, i, joinDims(declared), joinDims(found))
		}
	}
	return nil
}

// CheckGreaterOrEqual validates v >= lb.
func CheckGreaterOrEqual(name string, v, lb float64) error {
	if v >= lb {
		return nil
	}
	return fmt.Errorf("%w: %s is %s, but must be greater than or equal to %s", ErrData, name, fmtNum(v), fmtNum(lb))
}

// CheckGreater validates v > lb.
func CheckGreater(name string, v, lb float64) error {
	if v > lb {
		return nil
	}
	return fmt.Errorf("%w: %s is %s, but must be greater than %s", ErrData, name, fmtNum(v), fmtNum(lb))
}

// CheckLessOrEqual validates v <= ub.
func CheckLessOrEqual(name string, v, ub float64) error {
	if v <= ub {
		return nil
	}
	return fmt.Errorf("%w: %s is %s, but must be less than or equal to %s", ErrData, name, fmtNum(v), fmtNum(ub))
}

// Elem names the i-th (zero-based) element of an array as name[i+1].
func Elem(name string, i int) string {
	return name + "[" + strconv.Itoa(i+1) + "]"
}

func nonInt(name string) error {
	return fmt.Errorf("%w: int variable contained non-int values; processing stage=%s; variable name=%s",
		ErrData, dataStage, name)
}

func joinDims(d []int) string {
	parts := make([]string, len(d))
	for i, v := range d {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func fmtNum(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
