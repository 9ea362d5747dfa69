package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appalloc "github.com/erp/costalloc/internal/application/allocation"
	"github.com/erp/costalloc/internal/domain/shared"
	"github.com/erp/costalloc/internal/infrastructure/scheduler"
	"github.com/erp/costalloc/internal/interfaces/http/dto"
	"github.com/erp/costalloc/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRecomputeRouter(recomputer RangeRecomputer) *gin.Engine {
	middleware.SetupValidator()
	router := gin.New()
	router.POST("/api/v1/costs/recalculate", NewRecomputeHandler(recomputer, zap.NewNop()).Recalculate)
	return router
}

func recalculate(router *gin.Engine, query string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/costs/recalculate?"+query, nil))
	return w
}

func TestRecomputeHandler_Recalculate(t *testing.T) {
	jan15 := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	mar3 := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)

	t.Run("reports every month", func(t *testing.T) {
		recomputer := new(MockRangeRecomputer)
		recomputer.On("RecomputeRange", mock.Anything, jan15, mar3).Return([]appalloc.MonthStatus{
			{Month: "2024-01", Status: appalloc.StatusOK, Rows: 10},
			{Month: "2024-02", Status: appalloc.StatusOK, Rows: 0},
			{Month: "2024-03", Status: appalloc.StatusOK, Rows: 4},
		}, nil)

		w := recalculate(newRecomputeRouter(recomputer), "start_date=2024-01-15&end_date=2024-03-03")

		assert.Equal(t, http.StatusOK, w.Code)
		env := decodeEnvelope(t, w)
		var data dto.RecalculateResponse
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, "ok", data.Status)
		assert.Equal(t, []dto.MonthResult{
			{Month: "2024-01", Status: "ok", Rows: 10},
			{Month: "2024-02", Status: "ok", Rows: 0},
			{Month: "2024-03", Status: "ok", Rows: 4},
		}, data.Months)
		recomputer.AssertExpectations(t)
	})

	t.Run("bad date format is a validation error", func(t *testing.T) {
		recomputer := new(MockRangeRecomputer)

		w := recalculate(newRecomputeRouter(recomputer), "start_date=2024/01/15&end_date=2024-03-03")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		env := decodeEnvelope(t, w)
		require.NotNil(t, env.Error)
		assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
		recomputer.AssertNotCalled(t, "RecomputeRange", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing bound is a validation error", func(t *testing.T) {
		w := recalculate(newRecomputeRouter(new(MockRangeRecomputer)), "start_date=2024-01-15")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "end_date")
	})

	t.Run("inverted period", func(t *testing.T) {
		recomputer := new(MockRangeRecomputer)
		recomputer.On("RecomputeRange", mock.Anything, mar3, jan15).Return(nil, shared.ErrInvalidPeriod)

		w := recalculate(newRecomputeRouter(recomputer), "start_date=2024-03-03&end_date=2024-01-15")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_PERIOD")
	})

	t.Run("slices held by another run return 409", func(t *testing.T) {
		months := []appalloc.MonthStatus{
			{Month: "2024-03", Status: appalloc.StatusFailed, Units: []appalloc.UnitStatus{
				{ExpenseType: "direct", Status: appalloc.StatusFailed, Error: "lock alloc:direct:2024-03 is held by another worker"},
			}},
		}
		recomputer := new(MockRangeRecomputer)
		recomputer.On("RecomputeRange", mock.Anything, mock.Anything, mock.Anything).Return(months,
			shared.NewDomainError(shared.CodeLockNotObtained, "1 of 3 allocation units are locked by another run").WithDetails(months))

		w := recalculate(newRecomputeRouter(recomputer), "start_date=2024-03-01&end_date=2024-03-31")

		assert.Equal(t, http.StatusConflict, w.Code)
		env := decodeEnvelope(t, w)
		require.NotNil(t, env.Error)
		assert.Equal(t, "LOCK_NOT_OBTAINED", env.Error.Code)
		var details []appalloc.MonthStatus
		require.NoError(t, json.Unmarshal(env.Error.Details, &details))
		assert.Equal(t, "direct", details[0].Units[0].ExpenseType)
	})

	t.Run("failed units return 500 with per-month details", func(t *testing.T) {
		months := []appalloc.MonthStatus{
			{Month: "2024-01", Status: appalloc.StatusOK, Rows: 10},
			{Month: "2024-02", Status: appalloc.StatusFailed, Units: []appalloc.UnitStatus{
				{ExpenseType: "direct", Status: appalloc.StatusFailed, Error: "LOCK_NOT_OBTAINED: alloc:direct:2024-02"},
			}},
		}
		recomputer := new(MockRangeRecomputer)
		recomputer.On("RecomputeRange", mock.Anything, mock.Anything, mock.Anything).Return(months,
			shared.NewDomainError(shared.CodeRecomputeFailed, fmt.Sprintf("%d of %d allocation units failed", 1, 6)).WithDetails(months))

		w := recalculate(newRecomputeRouter(recomputer), "start_date=2024-01-01&end_date=2024-02-29")

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		env := decodeEnvelope(t, w)
		require.NotNil(t, env.Error)
		assert.Equal(t, "RECOMPUTE_FAILED", env.Error.Code)

		var details []appalloc.MonthStatus
		require.NoError(t, json.Unmarshal(env.Error.Details, &details))
		require.Len(t, details, 2)
		assert.Equal(t, appalloc.StatusFailed, details[1].Status)
		assert.Equal(t, "direct", details[1].Units[0].ExpenseType)
	})
}

func TestRecomputeHandler_RecalculateAsync(t *testing.T) {
	jan15 := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	mar3 := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)

	newRouter := func(queue RangeQueue) (*gin.Engine, *MockRangeRecomputer) {
		middleware.SetupValidator()
		recomputer := new(MockRangeRecomputer)
		h := NewRecomputeHandler(recomputer, zap.NewNop())
		if queue != nil {
			h.SetQueue(queue)
		}
		router := gin.New()
		router.POST("/api/v1/costs/recalculate", h.Recalculate)
		return router, recomputer
	}

	t.Run("queues the range and returns 202", func(t *testing.T) {
		job := scheduler.NewRangeJob(jan15, mar3, 3)
		queue := new(MockRangeQueue)
		queue.On("SubmitRange", jan15, mar3).Return(job, nil)
		router, recomputer := newRouter(queue)

		w := recalculate(router, "start_date=2024-01-15&end_date=2024-03-03&async=true")

		assert.Equal(t, http.StatusAccepted, w.Code)
		env := decodeEnvelope(t, w)
		var data dto.RecalculateJobResponse
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, job.ID.String(), data.JobID)
		assert.Equal(t, "queued", data.Status)
		assert.Equal(t, "2024-01-15", data.PeriodStart)
		queue.AssertExpectations(t)
		recomputer.AssertNotCalled(t, "RecomputeRange", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("duplicate range is a conflict", func(t *testing.T) {
		queue := new(MockRangeQueue)
		queue.On("SubmitRange", jan15, mar3).Return(nil, scheduler.ErrJobAlreadyQueued)
		router, _ := newRouter(queue)

		w := recalculate(router, "start_date=2024-01-15&end_date=2024-03-03&async=true")

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), dto.ErrCodeAlreadyQueued)
	})

	t.Run("full queue is unavailable", func(t *testing.T) {
		queue := new(MockRangeQueue)
		queue.On("SubmitRange", jan15, mar3).Return(nil, scheduler.ErrJobQueueFull)
		router, _ := newRouter(queue)

		w := recalculate(router, "start_date=2024-01-15&end_date=2024-03-03&async=true")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("inverted period is rejected before queueing", func(t *testing.T) {
		queue := new(MockRangeQueue)
		router, _ := newRouter(queue)

		w := recalculate(router, "start_date=2024-03-03&end_date=2024-01-15&async=true")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_PERIOD")
		queue.AssertNotCalled(t, "SubmitRange", mock.Anything, mock.Anything)
	})

	t.Run("without a scheduler async is unavailable", func(t *testing.T) {
		router, _ := newRouter(nil)

		w := recalculate(router, "start_date=2024-01-15&end_date=2024-03-03&async=true")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), dto.ErrCodeUnavailable)
	})
}
