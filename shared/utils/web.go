package utils

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/itchan-dev/itchat/shared/errors"
	"github.com/itchan-dev/itchat/shared/logger"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// WriteErrorAndStatusCode maps the error taxonomy onto HTTP statuses.
func WriteErrorAndStatusCode(w http.ResponseWriter, err error) {
	code := errors.StatusCode(err)
	if code >= http.StatusInternalServerError {
		logger.Log.Error("request failed", "component", "http", "status", code, "error", err)
	}
	http.Error(w, err.Error(), code)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error("failed to encode response", "component", "http", "error", err)
	}
}

func DecodeValidate(r io.Reader, body any) error {
	if err := json.NewDecoder(r).Decode(body); err != nil {
		logger.Log.Debug("invalid json body", "error", err)
		return &errors.ValidationError{Message: "Body is invalid json"}
	}
	return Validate(body)
}

func Validate(body any) error {
	if err := validate.Struct(body); err != nil {
		logger.Log.Debug("validation failed", "error", err)
		return &errors.ValidationError{Message: "Required fields missing or invalid: " + err.Error()}
	}
	return nil
}
