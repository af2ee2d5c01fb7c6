package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"propscraper/internal/scheduler"
	"propscraper/internal/store"
	"propscraper/internal/types"
)

// Handler serves the job, run and property endpoints on top of the
// coordinator and the property store.
type Handler struct {
	Coordinator *scheduler.Coordinator
	Properties  store.PropertyStore
}

type jobRequest struct {
	Name      string               `json:"job_name"`
	TargetURL string               `json:"target_url"`
	Selectors types.SelectorConfig `json:"selectors"`
	Schedule  string               `json:"schedule"`
	Active    *bool                `json:"active"`
}

func (r *jobRequest) toJob() types.Job {
	job := types.Job{
		Name:      r.Name,
		TargetURL: r.TargetURL,
		Selectors: r.Selectors,
		Schedule:  r.Schedule,
		Active:    true,
	}
	if r.Active != nil {
		job.Active = *r.Active
	}
	return job
}

// For route POST '/jobs'
func (h *Handler) CreateJob(ctx echo.Context) error {
	var req jobRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	job := req.toJob()
	if err := h.Coordinator.CreateJob(ctx.Request().Context(), &job); err != nil {
		return mapError(err)
	}
	return ctx.JSON(http.StatusCreated, job)
}

// For route GET '/jobs'
func (h *Handler) ListJobs(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{"jobs": h.Coordinator.ListJobs()})
}

// For route GET '/jobs/:id'
func (h *Handler) GetJob(ctx echo.Context) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	job, err := h.Coordinator.GetJob(id)
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(http.StatusOK, job)
}

// For route PUT '/jobs/:id'
func (h *Handler) UpdateJob(ctx echo.Context) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	var req jobRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	job := req.toJob()
	job.ID = id
	if err := h.Coordinator.UpdateJob(ctx.Request().Context(), &job); err != nil {
		return mapError(err)
	}
	return ctx.JSON(http.StatusOK, job)
}

// For route DELETE '/jobs/:id'
func (h *Handler) DeleteJob(ctx echo.Context) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	if err := h.Coordinator.DeleteJob(ctx.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// For route POST '/jobs/:id/run'
func (h *Handler) RunJob(ctx echo.Context) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	if err := h.Coordinator.RunNow(ctx.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return ctx.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

// For route GET '/runs?job_id=&limit='
func (h *Handler) ListRuns(ctx echo.Context) error {
	jobID := uuid.Nil
	if raw := ctx.QueryParam("job_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid job_id")
		}
		jobID = parsed
	}
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))
	runs, err := h.Coordinator.ListRuns(ctx.Request().Context(), jobID, limit)
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"runs": runs})
}

// For route GET '/stats'
func (h *Handler) Stats(ctx echo.Context) error {
	stats, err := h.Coordinator.Stats(ctx.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(http.StatusOK, stats)
}

func parseID(ctx echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}
	return id, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, types.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduler.ErrJobNotFound), errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrJobAlreadyRunning):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrDuplicateName):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return err
}
