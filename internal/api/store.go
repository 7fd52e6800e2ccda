package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/WardBrian/tinystan/pkg/tinystan"
)

type fitRecord struct {
	Fit    FitRecord
	Output *tinystan.Output
	cancel context.CancelFunc
}

// FitStore keeps fits and their outputs in memory.
type FitStore struct {
	mu   sync.Mutex
	fits map[string]*fitRecord
}

func NewFitStore() *FitStore {
	return &FitStore{
		fits: make(map[string]*fitRecord),
	}
}

// Create registers an in-progress fit. cancel stops the run and is called
// when the fit is cancelled or deleted.
func (s *FitStore) Create(req *FitRequest, seed uint32, cancel context.CancelFunc, now time.Time) FitRecord {
	fit := FitRecord{
		ID:         newFitID(),
		Object:     "fit",
		CreatedAt:  now.Unix(),
		Status:     StatusInProgress,
		Model:      req.Model,
		Algorithm:  req.Algorithm,
		Seed:       seed,
		Background: req.Background != nil && *req.Background,
	}
	s.mu.Lock()
	s.fits[fit.ID] = &fitRecord{Fit: fit, cancel: cancel}
	s.mu.Unlock()
	return fit
}

// Finish records the outcome of a run. A fit cancelled in the meantime
// keeps its cancelled status.
func (s *FitStore) Finish(id string, out *tinystan.Output, err error, now time.Time) (FitRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.fits[id]
	if !ok {
		return FitRecord{}, false
	}
	if rec.Fit.Status != StatusInProgress {
		return rec.Fit, true
	}
	completedAt := now.Unix()
	rec.Fit.CompletedAt = &completedAt
	rec.cancel = nil
	switch {
	case err == nil:
		rec.Fit.Status = StatusCompleted
		rec.Output = out
		rec.Fit.Names = out.Names
		rec.Fit.Dims = out.Dims
	case errors.Is(err, tinystan.ErrInterrupt):
		rec.Fit.Status = StatusCancelled
		rec.Fit.Error = toResponseError(err)
	default:
		rec.Fit.Status = StatusFailed
		rec.Fit.Error = toResponseError(err)
	}
	return rec.Fit, true
}

func (s *FitStore) Get(id string) (FitRecord, *tinystan.Output, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.fits[id]
	if !ok {
		return FitRecord{}, nil, false
	}
	return rec.Fit, rec.Output, true
}

// List returns every fit, oldest first.
func (s *FitStore) List() []FitRecord {
	s.mu.Lock()
	out := make([]FitRecord, 0, len(s.fits))
	for _, rec := range s.fits {
		out = append(out, rec.Fit)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Delete removes a fit, stopping it first if it is still running.
func (s *FitStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.fits[id]
	if !ok {
		return false
	}
	if rec.cancel != nil {
		rec.cancel()
	}
	delete(s.fits, id)
	return true
}

// Cancel stops a running fit. Finished fits are returned unchanged.
func (s *FitStore) Cancel(id string, now time.Time) (FitRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.fits[id]
	if !ok {
		return FitRecord{}, false
	}
	if rec.Fit.Status == StatusInProgress {
		if rec.cancel != nil {
			rec.cancel()
			rec.cancel = nil
		}
		rec.Fit.Status = StatusCancelled
		completedAt := now.Unix()
		rec.Fit.CompletedAt = &completedAt
		rec.Fit.Error = toResponseError(tinystan.ErrInterrupt)
	}
	return rec.Fit, true
}
