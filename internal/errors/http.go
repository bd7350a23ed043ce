// Package errors defines the JSON error envelope returned by the HTTP apps.
package errors

import (
	"encoding/json"
	"net/http"
)

// HTTPError is the inner error object of an HTTPErrorResponse.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the wire shape of every non-2xx response.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// Well-known error codes.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeBadEnvelope      = "BAD_ENVELOPE"
	CodeInternal         = "INTERNAL_ERROR"
	CodeUpstreamFailed   = "UPSTREAM_FAILED"
)

// WriteError writes the standard error envelope with the given status.
func WriteError(w http.ResponseWriter, status int, code, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error: HTTPError{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	})
}
