// Package response writes the API's JSON envelope. Every body carries a data
// field on success and an error field on failure, never both.
package response

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/agentstation/ratify/pkg/errors"
)

// Response is the envelope of every API body.
type Response struct {
	Data  any    `json:"data"`
	Error *Error `json:"error"`
}

// Error is the failure half of the envelope. Code is one of the engine's
// error codes or a transport code such as RATE_LIMITED.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ConflictDetails lists the proposals blocking an apply.
type ConflictDetails struct {
	ConflictingProposalIDs []string `json:"conflicting_proposal_ids"`
}

// StaleDetails carries why a proposal went stale.
type StaleDetails struct {
	Reason string `json:"reason"`
}

// ValidationDetails names the rejected field.
type ValidationDetails struct {
	Field string `json:"field,omitempty"`
}

// Success wraps data.
func Success(data any) Response {
	return Response{Data: data}
}

// Fail builds a failure envelope.
func Fail(code, message string, details any) Response {
	return Response{Error: &Error{Code: code, Message: message, Details: details}}
}

// JSON writes resp with the given status.
func JSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent, so an encoding error has nowhere to go.
	_ = json.NewEncoder(w).Encode(resp)
}

// OK writes a 200.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, Success(data))
}

// Created writes a 201.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, Success(data))
}

// BadRequest writes a 400 for malformed requests that never reached the engine.
func BadRequest(w http.ResponseWriter, message string) {
	JSON(w, http.StatusBadRequest, Fail("BAD_REQUEST", message, nil))
}

// Unauthorized writes a 401.
func Unauthorized(w http.ResponseWriter, message string) {
	JSON(w, http.StatusUnauthorized, Fail("UNAUTHORIZED", message, nil))
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, message string) {
	JSON(w, http.StatusNotFound, Fail(string(errors.CodeNotFound), message, nil))
}

// MethodNotAllowed writes a 405.
func MethodNotAllowed(w http.ResponseWriter, method string) {
	JSON(w, http.StatusMethodNotAllowed, Fail("METHOD_NOT_ALLOWED",
		"method "+method+" is not supported for this endpoint", nil))
}

// RateLimited writes a 429.
func RateLimited(w http.ResponseWriter) {
	JSON(w, http.StatusTooManyRequests, Fail("RATE_LIMITED", "rate limit exceeded", nil))
}

// InternalError writes a 500 without exposing err to the client.
func InternalError(w http.ResponseWriter) {
	JSON(w, http.StatusInternalServerError, Fail(string(errors.CodeInternal), "internal server error", nil))
}

// Status returns the HTTP status for an engine error code.
func Status(code errors.Code) int {
	switch code {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeValidationFailed:
		return http.StatusBadRequest
	case errors.CodeInvalidState, errors.CodeStale, errors.CodeConflict:
		return http.StatusConflict
	case errors.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case errors.CodeCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorFrom writes the response for an engine error, with state-specific
// details where the error carries them.
func ErrorFrom(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	if code == errors.CodeInternal {
		InternalError(w)
		return
	}
	JSON(w, Status(code), Fail(string(code), err.Error(), details(err)))
}

func details(err error) any {
	var (
		ce *errors.ConflictError
		se *errors.StaleError
		ve *errors.ValidationError
	)
	switch {
	case stderrors.As(err, &ce):
		return ConflictDetails{ConflictingProposalIDs: ce.ConflictingIDs}
	case stderrors.As(err, &se):
		return StaleDetails{Reason: se.Reason}
	case stderrors.As(err, &ve):
		if ve.Field == "" {
			return nil
		}
		return ValidationDetails{Field: ve.Field}
	}
	return nil
}
