// Package tinystan is the call boundary of the inference engine. A Model
// binds a model definition to data; Sample, Pathfinder, Optimize and
// LaplaceSample run the algorithms and return an Output, or an *Error
// classified by ErrorKind.
package tinystan

import (
	"strings"
	"sync/atomic"

	"github.com/WardBrian/tinystan/internal/logger"
	"github.com/WardBrian/tinystan/internal/version"
	"github.com/WardBrian/tinystan/pkg/jsondata"
	"github.com/WardBrian/tinystan/pkg/model"
)

// Separator joins per-chain init documents into a single string.
const Separator = jsondata.Separator

// APIVersion reports the engine API version.
func APIVersion() (major, minor, patch int) {
	return version.APIMajor, version.APIMinor, version.APIPatch
}

// Model is a compiled model bound to data. It is safe for concurrent use
// until Close.
type Model struct {
	m      *model.Model
	log    logger.Logger
	closed atomic.Bool
}

// Option configures a Model.
type Option func(*Model)

// WithLogger routes progress and warnings to log. The default discards
// them.
func WithLogger(log logger.Logger) Option {
	return func(m *Model) {
		if log != nil {
			m.log = log
		}
	}
}

// NewModel builds def against data, which is JSON text, a path to a .json
// file, or empty.
func NewModel(def model.Definition, data string, seed uint32, opts ...Option) (*Model, error) {
	ctx, err := jsondata.Load(data)
	if err != nil {
		return nil, classify(err)
	}
	m, err := model.Compile(def, ctx, seed)
	if err != nil {
		return nil, classify(err)
	}
	out := &Model{m: m, log: logger.Nop()}
	for _, opt := range opts {
		opt(out)
	}
	return out, nil
}

// WithModel builds a model, passes it to fn and closes it afterwards.
func WithModel(def model.Definition, data string, seed uint32, fn func(*Model) error, opts ...Option) error {
	m, err := NewModel(def, data, seed, opts...)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

// Close releases the model. Further calls fail with KindInvalidArgument.
// Closing twice is a no-op.
func (m *Model) Close() {
	m.closed.Store(true)
}

func (m *Model) acquire() (*model.Model, error) {
	if m == nil || m.closed.Load() {
		return nil, invalidArgument("model is closed")
	}
	return m.m, nil
}

func (m *Model) Name() string { return m.m.Name() }

// ParamNames returns the flattened constrained parameter names, e.g.
// "theta" or "beta.2".
func (m *Model) ParamNames() []string { return m.m.ParamNames() }

// ParamNamesCSV is ParamNames joined by commas, empty for a model without
// parameters.
func (m *Model) ParamNamesCSV() string { return strings.Join(m.m.ParamNames(), ",") }

func (m *Model) NumFreeParams() int        { return m.m.NumFreeParams() }
func (m *Model) NumConstrainedParams() int { return m.m.NumConstrainedParams() }

// Constrain maps an unconstrained vector to constrained values.
func (m *Model) Constrain(u []float64) ([]float64, error) {
	mm, err := m.acquire()
	if err != nil {
		return nil, err
	}
	x, err := mm.Constrain(u)
	return x, classify(err)
}

// Unconstrain maps constrained values to the unconstrained scale and
// returns the log Jacobian determinant.
func (m *Model) Unconstrain(x []float64) ([]float64, float64, error) {
	mm, err := m.acquire()
	if err != nil {
		return nil, 0, err
	}
	u, lj, err := mm.Unconstrain(x)
	return u, lj, classify(err)
}

// LogDensity evaluates the log density at an unconstrained point.
func (m *Model) LogDensity(u []float64, jacobian bool) (float64, error) {
	mm, err := m.acquire()
	if err != nil {
		return 0, err
	}
	lp, err := mm.LogDensity(u, jacobian)
	return lp, classify(err)
}
