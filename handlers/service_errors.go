package handlers

import (
	"net/http"

	"github.com/upb/roster-checkin/services"
	"github.com/upb/roster-checkin/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	message := services.GetErrorMessage(err)

	switch {
	case services.IsFormatError(err):
		if err := utils.WriteBadRequest(w, message, details); err != nil {
			logger.Error("failed to write bad request response", zap.Error(err))
		}

	case services.IsNotFoundError(err):
		if err := utils.WriteNotFound(w, message, details); err != nil {
			logger.Error("failed to write not found response", zap.Error(err))
		}

	case services.IsConflictError(err):
		if err := utils.WriteConflict(w, message, details); err != nil {
			logger.Error("failed to write conflict response", zap.Error(err))
		}

	case services.IsStorageError(err):
		// Storage failures keep their cause out of the response
		logger.Error("storage error", zap.Error(err), zap.Any("details", details))
		if err := utils.WriteInternalServerError(w, message, details); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		if err := utils.WriteInternalServerError(w, "An unexpected error occurred", nil); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
	}
}
