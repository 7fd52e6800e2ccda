// Package jsondata reads model data and initial values from JSON.
//
// The accepted format is a single JSON object whose members are numbers,
// rectangular arrays of numbers, or the strings "NaN", "Inf" and "-Inf"
// (with "Infinity" spellings). Arrays are kept in row-major order as they
// appear in the document.
package jsondata

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

var (
	// ErrOpen reports a data or init file that could not be read.
	ErrOpen = errors.New("could not open data file")
	// ErrParse reports malformed JSON or values that are not numeric.
	ErrParse = errors.New("error in JSON parsing")
	// ErrData reports data that does not match what a model declares.
	ErrData = errors.New("invalid data")
	// ErrInitCount reports a list of inits whose length does not fit the run.
	ErrInitCount = errors.New("number of parameter initializations provided must be 0, 1, or match the number of chains")
)

// Separator joins several JSON documents into one init string, one per chain.
const Separator = '\x1C'

// Var is a single named value. Scalars have no dims.
type Var struct {
	Dims    []int
	Values  []float64
	Integer bool
}

// Size returns the number of elements.
func (v Var) Size() int {
	return len(v.Values)
}

// Context is a parsed data or init document.
type Context struct {
	vars map[string]Var
}

// Empty returns a context with no variables.
func Empty() *Context {
	return &Context{vars: map[string]Var{}}
}

// Load reads a context from source: "" is empty, a value ending in ".json"
// is read from disk, and anything else is parsed as JSON text.
func Load(source string) (*Context, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return Empty(), nil
	}
	if strings.HasSuffix(source, ".json") {
		b, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("%w %s", ErrOpen, source)
		}
		return Parse(b)
	}
	return Parse([]byte(source))
}

// Parse decodes a JSON object into a Context.
func Parse(b []byte) (*Context, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return Empty(), nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: top-level value must be an object", ErrParse)
	}
	ctx := Empty()
	for name, v := range raw {
		parsed, err := parseVar(v)
		if err != nil {
			return nil, fmt.Errorf("%w: variable %s: %v", ErrParse, name, err)
		}
		ctx.vars[name] = parsed
	}
	return ctx, nil
}

// Has reports whether name is present.
func (c *Context) Has(name string) bool {
	_, ok := c.vars[name]
	return ok
}

// Var returns the named value.
func (c *Context) Var(name string) (Var, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Names returns the variable names in sorted order.
func (c *Context) Names() []string {
	names := make([]string, 0, len(c.vars))
	for k := range c.vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of variables.
func (c *Context) Len() int {
	return len(c.vars)
}

// Set stores a value, replacing any existing one.
func (c *Context) Set(name string, v Var) {
	c.vars[name] = v
}

// LoadInits splits inits into one context per chain. An empty string gives
// n empty contexts and a single document is shared by every chain.
// Otherwise inits must hold exactly n documents joined by Separator.
func LoadInits(n int, inits string) ([]*Context, error) {
	out := make([]*Context, n)
	if strings.TrimSpace(inits) == "" {
		for i := range out {
			out[i] = Empty()
		}
		return out, nil
	}
	if !strings.ContainsRune(inits, Separator) {
		ctx, err := Load(inits)
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = ctx
		}
		return out, nil
	}
	parts := strings.Split(inits, string(Separator))
	if len(parts) != n {
		return nil, fmt.Errorf("%w: got %d for %d", ErrInitCount, len(parts), n)
	}
	for i, p := range parts {
		ctx, err := Load(p)
		if err != nil {
			return nil, err
		}
		out[i] = ctx
	}
	return out, nil
}

// JoinInits joins per-chain documents with Separator.
func JoinInits(docs []string) string {
	return strings.Join(docs, string(Separator))
}

func parseVar(v any) (Var, error) {
	dims, err := shapeOf(v)
	if err != nil {
		return Var{}, err
	}
	out := Var{Dims: dims, Integer: true}
	if err := flatten(v, &out); err != nil {
		return Var{}, err
	}
	if len(out.Values) == 0 {
		out.Integer = false
	}
	return out, nil
}

func shapeOf(v any) ([]int, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, nil
	}
	if len(arr) == 0 {
		return []int{0}, nil
	}
	inner, err := shapeOf(arr[0])
	if err != nil {
		return nil, err
	}
	for _, e := range arr[1:] {
		d, err := shapeOf(e)
		if err != nil {
			return nil, err
		}
		if !sameDims(d, inner) {
			return nil, errors.New("array is not rectangular")
		}
	}
	return append([]int{len(arr)}, inner...), nil
}

func flatten(v any, out *Var) error {
	switch x := v.(type) {
	case []any:
		for _, e := range x {
			if err := flatten(e, out); err != nil {
				return err
			}
		}
		return nil
	case json.Number:
		s := x.String()
		if strings.ContainsAny(s, ".eE") {
			out.Integer = false
		}
		f, err := x.Float64()
		if err != nil {
			return fmt.Errorf("bad number %q", s)
		}
		out.Values = append(out.Values, f)
		return nil
	case string:
		f, ok := specialValue(x)
		if !ok {
			return fmt.Errorf("string value %q is not a number", x)
		}
		out.Integer = false
		out.Values = append(out.Values, f)
		return nil
	case nil:
		return errors.New("null value")
	default:
		return fmt.Errorf("unsupported value of type %T", v)
	}
}

func specialValue(s string) (float64, bool) {
	switch strings.ToLower(s) {
	case "nan":
		return math.NaN(), true
	case "inf", "+inf", "infinity", "+infinity":
		return math.Inf(1), true
	case "-inf", "-infinity":
		return math.Inf(-1), true
	}
	return 0, false
}

func sameDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
