package api

import (
	"context"
	"strings"

	"github.com/WardBrian/tinystan/pkg/tinystan"
)

// FitService runs fit requests against compiled models.
type FitService struct {
	provider ModelProvider
}

func NewFitService(provider ModelProvider) *FitService {
	return &FitService{provider: provider}
}

// validateFitRequest checks what can be checked without running the fit.
func validateFitRequest(req *FitRequest) error {
	req.Model = strings.TrimSpace(req.Model)
	req.Algorithm = strings.ToLower(strings.TrimSpace(req.Algorithm))
	if req.Model == "" {
		return newInvalidRequest("model is required")
	}
	switch tinystan.Algorithm(req.Algorithm) {
	case tinystan.AlgorithmSample, tinystan.AlgorithmPathfinder:
	case tinystan.AlgorithmOptimize:
		if len(req.Inits) > 1 {
			return newInvalidRequest("optimize takes at most one init")
		}
	case tinystan.AlgorithmLaplace:
		if req.Mode == nil {
			return newInvalidRequest("laplace requires mode")
		}
		given := 0
		if req.Mode.Values != nil {
			given++
		}
		if len(req.Mode.Params) > 0 {
			given++
		}
		if req.Mode.FitID != "" {
			given++
		}
		if given != 1 {
			return newInvalidRequest("mode must set exactly one of values, params or fit_id")
		}
	case "":
		return newInvalidRequest("algorithm is required")
	default:
		return newInvalidRequest("unknown algorithm %q (want sample, pathfinder, optimize or laplace)", req.Algorithm)
	}
	if _, err := jsonObject("data", req.Data); err != nil {
		return err
	}
	if _, err := joinInits(req.Inits); err != nil {
		return err
	}
	return nil
}

// Run executes req with the given seed. mode is used by laplace fits only.
func (s *FitService) Run(ctx context.Context, req *FitRequest, seed uint32, mode tinystan.Mode) (*tinystan.Output, error) {
	data, err := jsonObject("data", req.Data)
	if err != nil {
		return nil, err
	}
	inits, err := joinInits(req.Inits)
	if err != nil {
		return nil, err
	}

	var out *tinystan.Output
	err = s.provider.WithModel(ctx, req.Model, data, seed, func(m *tinystan.Model) error {
		var err error
		switch tinystan.Algorithm(req.Algorithm) {
		case tinystan.AlgorithmSample:
			opts, oerr := req.Options.SampleOptions(seed, inits)
			if oerr != nil {
				return oerr
			}
			out, err = m.Sample(ctx, opts)
		case tinystan.AlgorithmPathfinder:
			out, err = m.Pathfinder(ctx, req.Options.PathfinderOptions(seed, inits))
		case tinystan.AlgorithmOptimize:
			opts, oerr := req.Options.OptimizeOptions(seed, inits)
			if oerr != nil {
				return oerr
			}
			out, err = m.Optimize(ctx, opts)
		case tinystan.AlgorithmLaplace:
			out, err = m.LaplaceSample(ctx, mode, req.Options.LaplaceOptions(seed))
		default:
			err = newInvalidRequest("unknown algorithm %q", req.Algorithm)
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, tinystan.ErrInterrupt
		}
		return nil, err
	}
	return out, nil
}
