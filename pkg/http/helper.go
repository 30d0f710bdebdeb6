package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "turnstile/pkg/errors"
)

// DecodeJSON reads a single JSON object from the request body into v.
// Unknown fields are rejected so that typos in client payloads surface early.
func DecodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.InvalidInput("request body cannot be empty")
		}
		return apperrors.InvalidInput("invalid request body: " + err.Error())
	}
	if decoder.More() {
		return apperrors.InvalidInput("request body must contain a single JSON object")
	}
	return nil
}
