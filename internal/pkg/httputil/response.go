package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/ignite/dispatch/internal/pkg/logger"
)

// Error codes carried in the API error envelope. Clients branch on these
// instead of parsing messages, so they are part of the wire contract.
const (
	CodeValidation        = "VALIDATION"
	CodeSuppressed        = "SUPPRESSED"
	CodeQuotaDenied       = "QUOTA_DENIED"
	CodeDomainNotVerified = "DOMAIN_NOT_VERIFIED"
)

// ErrorResponse is the error envelope every API endpoint returns. Code is
// one of the Code constants above when the failure maps to the send
// taxonomy; Details carries structured context such as the failing field.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSON writes data as a JSON response with the given status. Encode
// failures happen after the header is committed, so they can only be
// logged.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("encode response", "error", err.Error())
	}
}

// OK writes a 200 response with the given data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 response with the given data.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// NoContent writes a 204 response with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes an error envelope with no taxonomy code. Use for plain
// client errors where the status alone tells the caller what happened.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// ErrorCode writes an error envelope carrying a taxonomy code and
// optional structured details.
func ErrorCode(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// BadRequest writes a 400 error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// NotFound writes a 404 error.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message)
}

// InternalError writes a 500 with a generic message. The real error is
// logged server-side and never leaks to the caller.
func InternalError(w http.ResponseWriter, err error) {
	logger.Error("handler failure", "error", err.Error())
	Error(w, http.StatusInternalServerError, "internal server error")
}

// Decode parses the request body as JSON into dst, answering a 400 and
// returning false when the payload does not parse.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
