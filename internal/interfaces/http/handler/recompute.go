package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	appalloc "github.com/erp/costalloc/internal/application/allocation"
	"github.com/erp/costalloc/internal/domain/shared"
	"github.com/erp/costalloc/internal/infrastructure/scheduler"
	"github.com/erp/costalloc/internal/interfaces/http/dto"
	"github.com/erp/costalloc/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RangeRecomputer recomputes every expense class over a period
type RangeRecomputer interface {
	RecomputeRange(ctx context.Context, start, end time.Time) ([]appalloc.MonthStatus, error)
}

// RangeQueue runs range recomputes in the background
type RangeQueue interface {
	SubmitRange(start, end time.Time) (*scheduler.Job, error)
}

// RecomputeHandler triggers allocation recomputes
type RecomputeHandler struct {
	BaseHandler
	recomputer RangeRecomputer
	queue      RangeQueue
}

// NewRecomputeHandler creates a new RecomputeHandler
func NewRecomputeHandler(recomputer RangeRecomputer, logger *zap.Logger) *RecomputeHandler {
	return &RecomputeHandler{
		BaseHandler: BaseHandler{logger: logger},
		recomputer:  recomputer,
	}
}

// SetQueue enables async=true requests
func (h *RecomputeHandler) SetQueue(queue RangeQueue) {
	h.queue = queue
}

// Recalculate godoc
// @ID           recalculateCosts
// @Summary      Recompute allocations for a period
// @Description  Recomputes and republishes every expense class for each month touching [start_date, end_date].
// @Description  With async=true the recompute is queued on the scheduler and 202 is returned.
// @Tags         allocation
// @Produce      json
// @Param        start_date query string true "First day, YYYY-MM-DD"
// @Param        end_date   query string true "Last day, YYYY-MM-DD"
// @Param        async      query bool   false "Queue instead of waiting"
// @Success      200 {object} dto.Response{data=dto.RecalculateResponse}
// @Success      202 {object} dto.Response{data=dto.RecalculateJobResponse}
// @Failure      400 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Failure      503 {object} dto.Response
// @Router       /costs/recalculate [post]
func (h *RecomputeHandler) Recalculate(c *gin.Context) {
	var req dto.RecalculateRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	start, end, err := req.Period()
	if err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	if req.Async {
		h.enqueue(c, req, start, end)
		return
	}

	months, err := h.recomputer.RecomputeRange(c.Request.Context(), start, end)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := dto.RecalculateResponse{Status: "ok", Months: make([]dto.MonthResult, 0, len(months))}
	for _, m := range months {
		resp.Months = append(resp.Months, dto.MonthResult{Month: m.Month, Status: m.Status, Rows: m.Rows})
	}
	h.Success(c, resp)
}

func (h *RecomputeHandler) enqueue(c *gin.Context, req dto.RecalculateRequest, start, end time.Time) {
	if h.queue == nil {
		h.ServiceUnavailable(c, "Background recompute is disabled")
		return
	}
	if end.Before(start) {
		h.HandleError(c, shared.ErrInvalidPeriod)
		return
	}

	job, err := h.queue.SubmitRange(start, end)
	switch {
	case errors.Is(err, scheduler.ErrJobAlreadyQueued):
		h.Error(c, http.StatusConflict, dto.ErrCodeAlreadyQueued, "A recompute of this period is already queued")
		return
	case errors.Is(err, scheduler.ErrJobQueueFull), errors.Is(err, scheduler.ErrSchedulerNotRunning):
		h.ServiceUnavailable(c, err.Error())
		return
	case err != nil:
		h.HandleError(c, err)
		return
	}

	h.log(c).Info("Range recompute queued",
		zap.String("job_id", job.ID.String()),
		zap.String("start_date", req.StartDate),
		zap.String("end_date", req.EndDate),
	)
	h.Accepted(c, dto.RecalculateJobResponse{
		JobID:       job.ID.String(),
		Status:      "queued",
		PeriodStart: req.StartDate,
		PeriodEnd:   req.EndDate,
	})
}
