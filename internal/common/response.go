package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/noah-isme/backend-billing/internal/errs"
)

// ErrorBody represents a consistent error payload returned by the API.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Data wraps v in the canonical {"data": ...} envelope.
func Data(w http.ResponseWriter, status int, v any) {
	JSON(w, status, map[string]any{"data": v})
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]any{
		"error": ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// WriteAppError renders e; anything that is not an AppError becomes a 500.
func WriteAppError(w http.ResponseWriter, err error) {
	appErr, ok := AsAppError(err)
	if !ok {
		appErr = Internal(err)
	}
	JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
}

// DecodeJSON strictly decodes a single JSON document from r into dst.
// Unknown fields and trailing data are rejected. A ValidationError raised
// while decoding a field is returned unchanged.
func DecodeJSON(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		var verr *errs.ValidationError
		switch {
		case errors.As(err, &maxErr):
			return NewAppError("PAYLOAD_TOO_LARGE", "request body too large", http.StatusRequestEntityTooLarge, err)
		case errors.Is(err, io.EOF):
			return BadRequest("request body is empty", err)
		case errors.As(err, &verr):
			return verr
		default:
			return BadRequest(fmt.Sprintf("invalid JSON body: %v", err), err)
		}
	}
	if dec.More() {
		return BadRequest("request body must contain a single JSON document", nil)
	}
	return nil
}
