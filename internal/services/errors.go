package services

import (
	"errors"
	"strings"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrSubmissionInFlight = errors.New("a stage change for this applicant is already in progress")
	ErrFetchFailed        = errors.New("could not load the application")
	ErrUpdateFailed       = errors.New("could not update the application stage")
	ErrNotFound           = errors.New("application not found")
)

// ValidationError names the field that failed a local precondition.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// UserMessage turns an error into a short sentence safe to show to users.
func UserMessage(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		msg := verr.Message
		if msg == "" {
			return "Invalid request."
		}
		return strings.ToUpper(msg[:1]) + msg[1:] + "."
	case errors.Is(err, ErrNotFound):
		return "Application not found."
	case errors.Is(err, ErrSubmissionInFlight):
		return "A stage change for this applicant is already in progress."
	case errors.Is(err, ErrFetchFailed):
		return "Could not load the application. Please try again later."
	case errors.Is(err, ErrUpdateFailed):
		return "Could not update the application stage. Please try again."
	default:
		return "Something went wrong."
	}
}
