package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every JSON error. Code may be empty.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Machine-readable codes, shared with SSE error frames
const (
	CodeValidation          = "validation_error"
	CodeUnauthorized        = "unauthorized"
	CodeForbidden           = "forbidden"
	CodeNotFound            = "not_found"
	CodeConflict            = "conflict"
	CodeInsufficientCredits = "insufficient_credits"
	CodeRateLimited         = "rate_limited"
	CodeGenerationFailed    = "generation_failed"
	CodeSaveFailed          = "save_failed"
	CodeInternal            = "internal_error"
)

func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteErrorCode writes {"error": message, "code": code} with status
func WriteErrorCode(w http.ResponseWriter, status int, code, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// WriteErrorMessage writes an error body without a code
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteErrorCode(w, status, "", message)
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

func WriteValidationError(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusBadRequest, CodeValidation, message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// WritePaymentRequired reports an empty credit pool
func WritePaymentRequired(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusPaymentRequired, CodeInsufficientCredits, message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusForbidden, CodeForbidden, message)
}

func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusNotFound, CodeNotFound, message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusConflict, CodeConflict, message)
}

func WriteUnprocessable(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusUnprocessableEntity, CodeValidation, message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

// WriteInternalError writes a generic 500; err stays server-side
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteErrorCode(w, http.StatusInternalServerError, CodeInternal, "internal server error")
}
