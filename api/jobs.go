package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/minutely/outreach/domain"
	"github.com/minutely/outreach/runner"
)

// SubmitJobRequest is the body for POST /api/jobs.
type SubmitJobRequest struct {
	Kind       domain.JobKind `json:"kind"`
	ContactIDs []int64        `json:"contact_ids,omitempty"`
}

// SubmitJob submits a new batch job.
// POST /api/jobs
func (h *Handler) SubmitJob(c echo.Context) error {
	var req SubmitJobRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	job, err := h.runner.Submit(c.Request().Context(), req.Kind, req.ContactIDs)
	if err != nil {
		switch {
		case errors.Is(err, runner.ErrUnknownKind):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, runner.ErrConflict):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			h.log.Error("failed to submit job", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to submit job"})
		}
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"job_id": job.JobID,
		"kind":   job.Kind,
		"status": job.Status,
		"total":  job.Total,
	})
}

// GetJob returns the current job state.
// GET /api/jobs/:job_id
func (h *Handler) GetJob(c echo.Context) error {
	job, err := h.runner.Status(c.Request().Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, runner.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
		}
		h.log.Error("failed to get job", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get job"})
	}
	return c.JSON(http.StatusOK, job)
}

// CancelJob requests cooperative cancellation.
// POST /api/jobs/:job_id/cancel
func (h *Handler) CancelJob(c echo.Context) error {
	jobID := c.Param("job_id")
	if err := h.runner.Cancel(jobID); err != nil {
		if errors.Is(err, runner.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
		}
		h.log.Error("failed to cancel job", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to cancel job"})
	}
	return c.JSON(http.StatusOK, map[string]string{"job_id": jobID, "status": "cancelling"})
}
