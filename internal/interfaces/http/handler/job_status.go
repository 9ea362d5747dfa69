package handler

import (
	"context"

	"github.com/erp/costalloc/internal/domain/allocation"
	"github.com/erp/costalloc/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JobStatusFinder looks up the last success of a job
type JobStatusFinder interface {
	FindByName(ctx context.Context, jobName string) (*allocation.JobStatus, error)
}

// JobStatusHandler exposes the job status table
type JobStatusHandler struct {
	BaseHandler
	finder JobStatusFinder
}

// NewJobStatusHandler creates a new JobStatusHandler
func NewJobStatusHandler(finder JobStatusFinder, logger *zap.Logger) *JobStatusHandler {
	return &JobStatusHandler{
		BaseHandler: BaseHandler{logger: logger},
		finder:      finder,
	}
}

// GetJobStatus godoc
// @ID           getJobStatus
// @Summary      Last successful run of a job
// @Tags         jobs
// @Produce      json
// @Param        name path string true "Job name, e.g. alloc_direct_expenses"
// @Success      200 {object} dto.Response{data=dto.JobStatusResponse}
// @Failure      404 {object} dto.Response
// @Router       /jobs/{name} [get]
func (h *JobStatusHandler) GetJobStatus(c *gin.Context) {
	status, err := h.finder.FindByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.JobStatusResponse{
		JobName:       status.JobName,
		LastSuccessAt: status.LastSuccessAt.UTC(),
	})
}
