// Package catalog holds the models shipped with the binary. They double as
// fixtures for the engine tests.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/WardBrian/tinystan/pkg/model"
)

// ErrUnknownModel reports a name missing from the catalog.
var ErrUnknownModel = errors.New("unknown model")

// Entry is a catalog model with example data.
type Entry struct {
	model.Definition
	// Example is JSON data the model can be run with, empty when it needs
	// none.
	Example string
}

var entries = map[string]Entry{
	"bernoulli": {
		Definition: Bernoulli(),
		Example:    `{"N": 10, "y": [0, 1, 0, 0, 0, 0, 0, 0, 0, 1]}`,
	},
	"gaussian": {
		Definition: Gaussian(),
		Example:    `{"N": 3}`,
	},
	"multimodal":        {Definition: Multimodal()},
	"simple_jacobian":   {Definition: SimpleJacobian()},
	"empty":             {Definition: Empty()},
	"linear_regression": {Definition: LinearRegression(), Example: linearRegressionExample},
	"dirichlet": {
		Definition: Dirichlet(),
		Example:    `{"K": 3, "alpha": [2, 3, 5]}`,
	},
}

// Lookup returns the named entry.
func Lookup(name string) (Entry, error) {
	e, ok := entries[strings.TrimSpace(name)]
	if !ok {
		return Entry{}, fmt.Errorf("%w %q (available: %s)", ErrUnknownModel, name, strings.Join(Names(), ", "))
	}
	return e, nil
}

// Names returns the catalog names in sorted order.
func Names() []string {
	out := make([]string, 0, len(entries))
	for name := range entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// List returns every entry sorted by name.
func List() []Entry {
	names := Names()
	out := make([]Entry, len(names))
	for i, n := range names {
		out[i] = entries[n]
	}
	return out
}
