package errors

import (
	"net/http"

	"github.com/go-chi/render"
)

// APIError is the structured error body returned by the licensed web
// surface. It implements render.Renderer so handlers can respond with
// render.Render(w, r, err).
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render.
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// Error codes surfaced by the licensed web server.
const (
	CodeLicenseNotFound   = "LICENSE_NOT_FOUND"
	CodeLicenseMalformed  = "LICENSE_MALFORMED"
	CodeSignatureMismatch = "SIGNATURE_MISMATCH"
	CodeLicenseExpired    = "LICENSE_EXPIRED"
	CodeMachineMismatch   = "MACHINE_MISMATCH"
	CodeClockRollback     = "CLOCK_ROLLBACK"
	CodeRateLimited       = "RATE_LIMITED"
	CodeInternal          = "INTERNAL_ERROR"
)

// Predefined responses for license-gated requests.
var (
	ErrRespLicenseNotFound = &APIError{
		StatusCode: http.StatusPreconditionRequired,
		ErrorCode:  CodeLicenseNotFound,
		Message:    "No license file found. Place a valid .lic file and restart",
	}

	ErrRespSignatureMismatch = &APIError{
		StatusCode: http.StatusForbidden,
		ErrorCode:  CodeSignatureMismatch,
		Message:    "License signature does not verify. The file was altered or signed by a different key",
	}

	ErrRespLicenseExpired = &APIError{
		StatusCode: http.StatusForbidden,
		ErrorCode:  CodeLicenseExpired,
		Message:    "License has expired. Request a renewed license",
	}

	ErrRespMachineMismatch = &APIError{
		StatusCode: http.StatusForbidden,
		ErrorCode:  CodeMachineMismatch,
		Message:    "License is bound to a different machine",
	}

	ErrRespClockRollback = &APIError{
		StatusCode: http.StatusForbidden,
		ErrorCode:  CodeClockRollback,
		Message:    "System clock is behind the last recorded validation time",
	}

	ErrRespRateLimited = &APIError{
		StatusCode: http.StatusTooManyRequests,
		ErrorCode:  CodeRateLimited,
		Message:    "Too many requests. Try again later",
	}
)

// NewAPIError builds a custom response.
func NewAPIError(status int, code, message string) *APIError {
	return &APIError{StatusCode: status, ErrorCode: code, Message: message}
}

// MalformedResponse builds a response carrying the decode failure detail.
func MalformedResponse(err error) *APIError {
	return &APIError{
		StatusCode: http.StatusForbidden,
		ErrorCode:  CodeLicenseMalformed,
		Message:    "License file could not be decoded",
		Details:    err.Error(),
	}
}

// InternalResponse builds a 500 response carrying the failure detail.
func InternalResponse(err error) *APIError {
	return &APIError{
		StatusCode: http.StatusInternalServerError,
		ErrorCode:  CodeInternal,
		Message:    "Internal server error",
		Details:    err.Error(),
	}
}
