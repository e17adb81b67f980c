// Package errors provides standardized error handling for the phigital bridge service.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the phigital bridge service.
type ErrorCode string

const (
	// Verification failures, reported inside verification results
	PHG_INVALID_FORMAT     ErrorCode = "PHG_INVALID_FORMAT"     // Payload cannot be parsed or lacks required fields
	PHG_HASH_MISMATCH      ErrorCode = "PHG_HASH_MISMATCH"      // Recomputed verification hash disagrees
	PHG_DECRYPTION_FAILURE ErrorCode = "PHG_DECRYPTION_FAILURE" // Wrong key, tampered ciphertext or bad payload
	PHG_NOT_FOUND          ErrorCode = "PHG_NOT_FOUND"          // Tag unknown or token rejected by the chain oracle

	// Validation errors
	PHG_VALIDATION  ErrorCode = "PHG_VALIDATION"  // Malformed input to a generation or submission call
	PHG_BAD_REQUEST ErrorCode = "PHG_BAD_REQUEST" // Bad request

	// Authentication/Authorization errors
	PHG_AUTHN ErrorCode = "PHG_AUTHN" // Authentication failed
	PHG_AUTHZ ErrorCode = "PHG_AUTHZ" // Authorization failed

	PHG_CONFLICT ErrorCode = "PHG_CONFLICT" // Resource conflict

	// Server errors
	PHG_INTERNAL    ErrorCode = "PHG_INTERNAL"    // Internal server error
	PHG_UNAVAILABLE ErrorCode = "PHG_UNAVAILABLE" // Chain oracle or dependency unavailable
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Details:       details,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// Validation is shorthand for a PHG_VALIDATION error without correlation.
func Validation(format string, args ...interface{}) *Error {
	return New(PHG_VALIDATION, fmt.Sprintf(format, args...), "")
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports a match on code so callers can compare against a bare *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf extracts the ErrorCode from err, or PHG_INTERNAL when err is not coded.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return PHG_INTERNAL
}

// As unwraps err into *Error, wrapping unknown errors as PHG_INTERNAL.
func As(err error, correlationID string) *Error {
	var e *Error
	if stderrors.As(err, &e) {
		out := *e
		out.CorrelationID = correlationID
		return &out
	}
	return New(PHG_INTERNAL, "internal error", correlationID)
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case PHG_VALIDATION, PHG_BAD_REQUEST, PHG_INVALID_FORMAT:
		return http.StatusBadRequest
	case PHG_HASH_MISMATCH, PHG_DECRYPTION_FAILURE:
		return http.StatusUnprocessableEntity
	case PHG_AUTHZ:
		return http.StatusForbidden
	case PHG_AUTHN:
		return http.StatusUnauthorized
	case PHG_NOT_FOUND:
		return http.StatusNotFound
	case PHG_CONFLICT:
		return http.StatusConflict
	case PHG_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
