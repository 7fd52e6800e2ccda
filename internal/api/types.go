package api

import "github.com/goccy/go-json"

// FitRequest is the body of POST /v1/fits.
type FitRequest struct {
	Model string `json:"model"`
	// Data is the model data as a JSON object.
	Data json.RawMessage `json:"data,omitempty"`
	// Seed defaults to a random value.
	Seed      *uint32 `json:"seed,omitempty"`
	Algorithm string  `json:"algorithm"`
	// Inits holds zero, one, or one JSON object per chain or path.
	Inits      []json.RawMessage `json:"inits,omitempty"`
	Options    FitOptions        `json:"options"`
	Mode       *LaplaceMode      `json:"mode,omitempty"`
	Background *bool             `json:"background,omitempty"`
}

// LaplaceMode names the point a laplace fit is centred on. Exactly one
// field is set.
type LaplaceMode struct {
	Values []float64       `json:"values,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	// FitID refers to a completed optimize fit.
	FitID string `json:"fit_id,omitempty"`
}

// FitOptions overrides the algorithm defaults. Fields that do not apply
// to the requested algorithm are ignored.
type FitOptions struct {
	ID         *uint32  `json:"id,omitempty"`
	InitRadius *float64 `json:"init_radius,omitempty"`
	Refresh    *int     `json:"refresh,omitempty"`
	NumThreads *int     `json:"num_threads,omitempty"`

	NumChains      *int      `json:"num_chains,omitempty"`
	NumWarmup      *int      `json:"num_warmup,omitempty"`
	NumSamples     *int      `json:"num_samples,omitempty"`
	Metric         *string   `json:"metric,omitempty"`
	InitInvMetric  []float64 `json:"init_inv_metric,omitempty"`
	SaveInvMetric  *bool     `json:"save_inv_metric,omitempty"`
	Adapt          *bool     `json:"adapt,omitempty"`
	Delta          *float64  `json:"delta,omitempty"`
	Gamma          *float64  `json:"gamma,omitempty"`
	Kappa          *float64  `json:"kappa,omitempty"`
	T0             *float64  `json:"t0,omitempty"`
	InitBuffer     *int      `json:"init_buffer,omitempty"`
	TermBuffer     *int      `json:"term_buffer,omitempty"`
	Window         *int      `json:"window,omitempty"`
	SaveWarmup     *bool     `json:"save_warmup,omitempty"`
	Stepsize       *float64  `json:"stepsize,omitempty"`
	StepsizeJitter *float64  `json:"stepsize_jitter,omitempty"`
	MaxDepth       *int      `json:"max_depth,omitempty"`

	NumPaths       *int     `json:"num_paths,omitempty"`
	NumDraws       *int     `json:"num_draws,omitempty"`
	MaxHistorySize *int     `json:"max_history_size,omitempty"`
	InitAlpha      *float64 `json:"init_alpha,omitempty"`
	TolObj         *float64 `json:"tol_obj,omitempty"`
	TolRelObj      *float64 `json:"tol_rel_obj,omitempty"`
	TolGrad        *float64 `json:"tol_grad,omitempty"`
	TolRelGrad     *float64 `json:"tol_rel_grad,omitempty"`
	TolParam       *float64 `json:"tol_param,omitempty"`
	NumIterations  *int     `json:"num_iterations,omitempty"`
	NumElboDraws   *int     `json:"num_elbo_draws,omitempty"`
	NumMultiDraws  *int     `json:"num_multi_draws,omitempty"`
	CalculateLP    *bool    `json:"calculate_lp,omitempty"`
	PSISResample   *bool    `json:"psis_resample,omitempty"`

	Optimizer   *string `json:"optimizer,omitempty"`
	Jacobian    *bool   `json:"jacobian,omitempty"`
	SaveHessian *bool   `json:"save_hessian,omitempty"`
}

// Fit statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// FitRecord is the public view of a fit.
type FitRecord struct {
	ID          string         `json:"id"`
	Object      string         `json:"object"`
	CreatedAt   int64          `json:"created_at"`
	CompletedAt *int64         `json:"completed_at,omitempty"`
	Status      string         `json:"status"`
	Model       string         `json:"model"`
	Algorithm   string         `json:"algorithm"`
	Seed        uint32         `json:"seed"`
	Background  bool           `json:"background,omitempty"`
	Names       []string       `json:"names,omitempty"`
	Dims        []int          `json:"dims,omitempty"`
	Error       *ResponseError `json:"error,omitempty"`
}

type DeleteFitResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type ModelInfo struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Doc     string   `json:"doc,omitempty"`
	Example string   `json:"example,omitempty"`
	Params  []string `json:"params"`
}

type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	API       string `json:"api"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
