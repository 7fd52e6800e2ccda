package api

import (
	"context"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/WardBrian/tinystan/internal/logger"
	"github.com/WardBrian/tinystan/internal/version"
	"github.com/WardBrian/tinystan/pkg/tinystan"
)

type Server struct {
	store   *FitStore
	service *FitService
	log     logger.Logger
	clock   func() time.Time
}

func NewServer(store *FitStore, service *FitService, log logger.Logger) *Server {
	if store == nil {
		store = NewFitStore()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		store:   store,
		service: service,
		log:     log,
		clock:   time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/v1/version", s.handleVersion)

	e.POST("/v1/fits", s.handleCreateFit)
	e.GET("/v1/fits", s.handleListFits)
	e.GET("/v1/fits/:id", s.handleGetFit)
	e.GET("/v1/fits/:id/draws", s.handleDraws)
	e.DELETE("/v1/fits/:id", s.handleDeleteFit)
	e.POST("/v1/fits/:id/cancel", s.handleCancelFit)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(c *echo.Context) error {
	return c.JSON(http.StatusOK, ModelList{Object: "list", Data: ListModels()})
}

func (s *Server) handleVersion(c *echo.Context) error {
	info := version.Resolve()
	return c.JSON(http.StatusOK, VersionResponse{
		Version:   info.Version,
		Commit:    info.Commit,
		BuildTime: info.BuildTime,
		GoVersion: info.GoVersion,
		API:       info.API,
	})
}

func (s *Server) handleCreateFit(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "fit service not configured", "", "")
	}
	req, err := decodeJSON[FitRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if err := validateFitRequest(&req); err != nil {
		return writeFitError(c, err)
	}
	var mode tinystan.Mode
	if req.Algorithm == string(tinystan.AlgorithmLaplace) {
		if mode, err = s.resolveMode(req.Mode); err != nil {
			return writeFitError(c, err)
		}
	}

	seed := rand.Uint32()
	if req.Seed != nil {
		seed = *req.Seed
	}
	background := req.Background != nil && *req.Background
	parent := c.Request().Context()
	if background {
		parent = context.WithoutCancel(parent)
	}
	ctx, cancel := context.WithCancel(parent)
	fit := s.store.Create(&req, seed, cancel, s.clock())
	log := s.log.With("fit", fit.ID, "model", req.Model, "algorithm", req.Algorithm)
	log.Info("fit started", "seed", seed, "background", background)

	run := func() (FitRecord, error) {
		defer cancel()
		out, err := s.service.Run(ctx, &req, seed, mode)
		rec, _ := s.store.Finish(fit.ID, out, err, s.clock())
		if err != nil {
			log.Warn("fit failed", "status", rec.Status, "error", err)
		} else {
			log.Info("fit completed", "rows", out.Rows())
		}
		return rec, err
	}

	if background {
		go run()
		return c.JSON(http.StatusAccepted, fit)
	}
	rec, err := run()
	if err != nil {
		status, _ := errorStatus(err)
		return c.JSON(status, map[string]any{"error": toResponseError(err), "fit": rec})
	}
	return c.JSON(http.StatusOK, rec)
}

// resolveMode turns the request mode into an engine mode, looking up
// referenced fits in the store.
func (s *Server) resolveMode(m *LaplaceMode) (tinystan.Mode, error) {
	switch {
	case m.Values != nil:
		return tinystan.ModeValues(m.Values), nil
	case m.FitID != "":
		fit, out, ok := s.store.Get(m.FitID)
		if !ok {
			return tinystan.Mode{}, ErrFitNotFound
		}
		if fit.Status != StatusCompleted {
			return tinystan.Mode{}, newInvalidRequest("fit %s is %s", fit.ID, fit.Status)
		}
		return tinystan.ModeOutput(out), nil
	default:
		params, err := jsonObject("mode.params", m.Params)
		if err != nil {
			return tinystan.Mode{}, err
		}
		return tinystan.ModeJSON(params), nil
	}
}

func (s *Server) handleListFits(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"object": "list", "data": s.store.List()})
}

func (s *Server) handleGetFit(c *echo.Context) error {
	fit, _, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "fit not found")
	}
	return c.JSON(http.StatusOK, fit)
}

func (s *Server) handleDraws(c *echo.Context) error {
	fit, out, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "fit not found")
	}
	if out == nil {
		return writeError(c, http.StatusConflict, "invalid_request_error", "fit is "+fit.Status, "", "")
	}
	if name := strings.TrimSpace(c.QueryParam("var")); name != "" {
		arr, err := out.Get(name)
		if err != nil {
			return writeFitError(c, err)
		}
		return c.JSON(http.StatusOK, arr)
	}
	if strings.EqualFold(c.QueryParam("format"), "csv") {
		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/csv")
		res.WriteHeader(http.StatusOK)
		return out.WriteCSV(res)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleDeleteFit(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "fit not found")
	}
	return c.JSON(http.StatusOK, DeleteFitResponse{
		ID:      id,
		Object:  "fit",
		Deleted: true,
	})
}

func (s *Server) handleCancelFit(c *echo.Context) error {
	fit, ok := s.store.Cancel(c.Param("id"), s.clock())
	if !ok {
		return writeNotFound(c, "fit not found")
	}
	return c.JSON(http.StatusOK, fit)
}
