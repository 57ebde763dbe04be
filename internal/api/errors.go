package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/purelink-bridge/internal/purelink"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeInternal       = "internal_error"
	ErrCodeInvalidCommand = "invalid_command"
	ErrCodeUnavailable    = "device_unavailable"
	ErrCodeTimeout        = "device_timeout"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // the client may have gone away
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// deviceErrors maps engine failures to responses, first match wins.
var deviceErrors = []struct {
	targets []error
	status  int
	code    string
}{
	{[]error{purelink.ErrInvalidCommand}, http.StatusUnprocessableEntity, ErrCodeInvalidCommand},
	{[]error{purelink.ErrNotConnected, purelink.ErrPublish}, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{[]error{purelink.ErrTimeout, context.DeadlineExceeded}, http.StatusGatewayTimeout, ErrCodeTimeout},
}

// writeDeviceError reports a bridge failure. Unmapped errors become a 500
// without leaking their text.
func writeDeviceError(w http.ResponseWriter, err error) {
	for _, m := range deviceErrors {
		for _, target := range m.targets {
			if errors.Is(err, target) {
				writeError(w, m.status, m.code, err.Error())
				return
			}
		}
	}
	writeInternalError(w, "device command failed")
}
