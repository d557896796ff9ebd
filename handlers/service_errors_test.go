package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/roster-checkin/services"
	"github.com/upb/roster-checkin/utils"
	"go.uber.org/zap"
)

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name            string
		err             error
		expectedStatus  int
		expectedError   string
		expectedMessage string
	}{
		{
			name:            "format error",
			err:             services.NewFormatError("missing required columns", nil),
			expectedStatus:  http.StatusBadRequest,
			expectedError:   "bad_request",
			expectedMessage: "missing required columns",
		},
		{
			name:            "not found error",
			err:             services.NewNotFoundError("Z9"),
			expectedStatus:  http.StatusNotFound,
			expectedError:   "not_found",
			expectedMessage: "participant not found",
		},
		{
			name:            "conflict error",
			err:             services.NewConflictError("already checked in"),
			expectedStatus:  http.StatusConflict,
			expectedError:   "conflict",
			expectedMessage: "already checked in",
		},
		{
			name:            "storage error hides its cause",
			err:             services.NewStorageError("failed to import participants", errors.New("pq: password authentication failed")),
			expectedStatus:  http.StatusInternalServerError,
			expectedError:   "internal_error",
			expectedMessage: "failed to import participants",
		},
		{
			name:            "unknown error",
			err:             errors.New("boom"),
			expectedStatus:  http.StatusInternalServerError,
			expectedError:   "internal_error",
			expectedMessage: "An unexpected error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var response utils.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedError, response.Error)
			assert.Equal(t, tt.expectedMessage, response.Message)
			assert.NotContains(t, response.Message, "password")
		})
	}
}

func TestHandleServiceErrorWithDetails(t *testing.T) {
	err := services.NewFormatError("invalid row", nil).WithDetail("line", 3)

	w := httptest.NewRecorder()
	HandleServiceError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, float64(3), response.Details["line"])
}

func TestHandleServiceErrorNil(t *testing.T) {
	w := httptest.NewRecorder()
	HandleServiceError(w, nil, zap.NewNop())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}
