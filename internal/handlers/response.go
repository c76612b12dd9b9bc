// Package handlers provides the HTTP handlers of the credit API
package handlers

import (
	"errors"
	"net/http"

	apperrors "credit-backend/internal/errors"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondWithError unified error response function
func respondWithError(c *gin.Context, statusCode int, code, message string, details interface{}) {
	response := gin.H{
		"success": false,
		"code":    code,
		"message": message,
	}
	if details != nil {
		response["details"] = details
	}
	c.JSON(statusCode, response)
}

// respondWithServiceError maps domain errors to 4xx and everything else to a generic 500
func respondWithServiceError(c *gin.Context, logger *logrus.Logger, err error) {
	status, code := classify(err)
	if status < http.StatusInternalServerError {
		var de *apperrors.DomainError
		if errors.As(err, &de) {
			respondWithError(c, status, code, de.Error(), de.Details)
			return
		}
		respondWithError(c, status, code, err.Error(), nil)
		return
	}

	logger.WithFields(logrus.Fields{
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
	}).WithError(err).Error("request failed")
	if status == http.StatusGatewayTimeout {
		respondWithError(c, status, code, "The transaction was submitted but is not confirmed yet. Check its status later.", nil)
		return
	}
	respondWithError(c, status, code, "Something went wrong, please try again.", nil)
}

func classify(err error) (int, string) {
	code := apperrors.Code(err)
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput), errors.Is(err, apperrors.ErrInvalidAddress):
		if code == "" {
			code = "VALIDATION_ERROR"
		}
		return http.StatusBadRequest, code
	case errors.Is(err, apperrors.ErrInsufficientPoints):
		return http.StatusConflict, "INSUFFICIENT_POINTS"
	case errors.Is(err, apperrors.ErrWithdrawalPending):
		return http.StatusConflict, "WITHDRAWAL_PENDING"
	case errors.Is(err, apperrors.ErrAccountNotFound):
		return http.StatusNotFound, "ACCOUNT_NOT_FOUND"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, apperrors.ErrConfirmationTimeout):
		return http.StatusGatewayTimeout, "CONFIRMATION_TIMEOUT"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}
