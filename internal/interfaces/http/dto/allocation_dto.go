package dto

import (
	"time"

	"github.com/erp/costalloc/internal/domain/ingest"
)

// LoadDataResponse reports an applied batch
// @Description Outcome of a batch applied through /load_data
type LoadDataResponse struct {
	Status string                `json:"status" example:"ok"`
	Detail string                `json:"detail" example:"Данные успешно загружены"`
	Items  int                   `json:"items" example:"120"`
	Groups []ingest.GroupSummary `json:"groups"`
}

// RecalculateRequest is the period of a range recompute.
// Both bounds are calendar dates and the range is inclusive.
type RecalculateRequest struct {
	StartDate string `form:"start_date" binding:"required,datetime=2006-01-02"`
	EndDate   string `form:"end_date" binding:"required,datetime=2006-01-02"`
	// Async queues the recompute on the scheduler instead of waiting for it
	Async bool `form:"async"`
}

// Period parses both bounds as UTC dates
func (r RecalculateRequest) Period() (start, end time.Time, err error) {
	if start, err = time.Parse(time.DateOnly, r.StartDate); err != nil {
		return
	}
	end, err = time.Parse(time.DateOnly, r.EndDate)
	return
}

// MonthResult is the outcome of one recomputed month
type MonthResult struct {
	Month  string `json:"month" example:"2024-03"`
	Status string `json:"status" example:"ok"`
	Rows   int    `json:"rows" example:"412"`
}

// RecalculateResponse reports a range recompute
type RecalculateResponse struct {
	Status string        `json:"status" example:"ok"`
	Months []MonthResult `json:"months"`
}

// RecalculateJobResponse reports a queued range recompute
type RecalculateJobResponse struct {
	JobID       string `json:"job_id" example:"7c9e6679-7425-40de-944b-e07fc1f90ae7"`
	Status      string `json:"status" example:"queued"`
	PeriodStart string `json:"period_start" example:"2024-01-15"`
	PeriodEnd   string `json:"period_end" example:"2024-03-03"`
}

// JobStatusResponse is the last successful run of a job
type JobStatusResponse struct {
	JobName       string    `json:"job_name" example:"alloc_general_expenses"`
	LastSuccessAt time.Time `json:"last_success_at"`
}

// HealthResponse reports service health
type HealthResponse struct {
	Status   string `json:"status" example:"healthy"`
	Database string `json:"database" example:"up"`
}
