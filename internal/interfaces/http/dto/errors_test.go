package dto

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeMetadataNotRegistered, http.StatusBadRequest},
		{ErrCodeDataFormat, http.StatusBadRequest},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeInvalidPeriod, http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeLockNotObtained, http.StatusConflict},
		{ErrCodePayloadTooLarge, http.StatusRequestEntityTooLarge},
		{ErrCodeTransactionFailure, http.StatusInternalServerError},
		{ErrCodeRecomputeFailed, http.StatusInternalServerError},
		// Unknown code should return 500
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestNewDetailedErrorResponse(t *testing.T) {
	resp := NewDetailedErrorResponse(ErrCodeValidation, "bad row", "req-1", map[string]any{"row": 3})

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, false, decoded["success"])
	assert.NotContains(t, decoded, "data")

	errInfo := decoded["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_ERROR", errInfo["code"])
	assert.Equal(t, "req-1", errInfo["request_id"])
	assert.Equal(t, map[string]any{"row": float64(3)}, errInfo["details"])
}

func TestNewErrorResponse_OmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(NewErrorResponse(ErrCodeInternal, "boom"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":{"code":"INTERNAL_ERROR","message":"boom"}}`, string(data))
}

func TestRecalculateRequest_Period(t *testing.T) {
	t.Run("parses UTC dates", func(t *testing.T) {
		start, end, err := RecalculateRequest{StartDate: "2024-01-15", EndDate: "2024-03-03"}.Period()
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), end)
	})

	t.Run("rejects other layouts", func(t *testing.T) {
		_, _, err := RecalculateRequest{StartDate: "15.01.2024", EndDate: "2024-03-03"}.Period()
		assert.Error(t, err)
	})
}
