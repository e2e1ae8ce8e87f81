package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"quiz-battle-service/internal/domain"
)

// Error codes for standardized API error responses
const (
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeUnauthenticated     = "UNAUTHENTICATED"
	ErrCodeNotHost             = "NOT_HOST"
	ErrCodeNotParticipant      = "NOT_PARTICIPANT"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeSourceNotFound      = "SOURCE_NOT_FOUND"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeQuestionClosed      = "QUESTION_CLOSED"
	ErrCodeAlreadyAnswered     = "ALREADY_ANSWERED"
	ErrCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrCodeInvalidSource       = "INVALID_SOURCE"
	ErrCodeInvalidMode         = "INVALID_MODE"
	ErrCodeEmptyQuestionSet    = "EMPTY_QUESTION_SET"
	ErrCodeMalformedQuestion   = "MALFORMED_QUESTION"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInternalServer      = "INTERNAL_SERVER_ERROR"
)

// APIError represents an error with an HTTP status code and error code
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return e.Message
}

// NewAPIError creates a new API error with custom message and code
func NewAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// BadRequest creates a 400 error with custom message
func BadRequest(message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: ErrCodeBadRequest, Message: message}
}

var errorMappings = []struct {
	target error
	status int
	code   string
}{
	{domain.ErrSessionNotFound, http.StatusNotFound, ErrCodeNotFound},
	{domain.ErrSourceNotFound, http.StatusNotFound, ErrCodeSourceNotFound},
	{domain.ErrUnauthorized, http.StatusForbidden, ErrCodeNotHost},
	{domain.ErrNotParticipant, http.StatusForbidden, ErrCodeNotParticipant},
	{domain.ErrInvalidTransition, http.StatusConflict, ErrCodeInvalidTransition},
	{domain.ErrQuestionClosed, http.StatusConflict, ErrCodeQuestionClosed},
	{domain.ErrAlreadyAnswered, http.StatusConflict, ErrCodeAlreadyAnswered},
	{domain.ErrInsufficientBalance, http.StatusPaymentRequired, ErrCodeInsufficientBalance},
	{domain.ErrInvalidSource, http.StatusBadRequest, ErrCodeInvalidSource},
	{domain.ErrInvalidMode, http.StatusBadRequest, ErrCodeInvalidMode},
	{domain.ErrEmptyQuestionSet, http.StatusUnprocessableEntity, ErrCodeEmptyQuestionSet},
	{domain.ErrMalformedQuestion, http.StatusUnprocessableEntity, ErrCodeMalformedQuestion},
}

// ToAPIError converts domain errors to API errors; unknown errors are logged and hidden.
func ToAPIError(logger *slog.Logger, err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return &APIError{Status: m.status, Code: m.code, Message: err.Error()}
		}
	}
	logger.Error("internal error", "error", err)
	return &APIError{Status: http.StatusInternalServerError, Code: ErrCodeInternalServer, Message: "Internal server error"}
}

// respondJSON writes a JSON response with the given status code
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	apiErr := ToAPIError(logger, err)
	respondJSON(w, apiErr.Status, apiErr)
}

// decodeJSON decodes JSON from request body into the target
func decodeJSON(r *http.Request, target interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return BadRequest("Request body is empty")
		}
		return BadRequest("Invalid JSON: " + err.Error())
	}
	return nil
}
