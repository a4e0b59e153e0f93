package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/justsurfingit/applicant-timeline/internal/services"
	"github.com/justsurfingit/applicant-timeline/internal/session"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrSubmissionInFlight):
		return http.StatusConflict
	case errors.Is(err, services.ErrFetchFailed), errors.Is(err, services.ErrUpdateFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	msg := services.UserMessage(err)
	if errors.Is(err, session.ErrNoSession) {
		msg = "Please log in first."
	}
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{"error": msg})
}
