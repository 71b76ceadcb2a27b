package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
)

const retryAfterSeconds = "1"

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:           http.StatusBadRequest,
	apperr.KindNotFound:             http.StatusNotFound,
	apperr.KindPermission:           http.StatusForbidden,
	apperr.KindSlotUnavailable:      http.StatusConflict,
	apperr.KindSlotConflict:         http.StatusConflict,
	apperr.KindOutOfRange:           http.StatusUnprocessableEntity,
	apperr.KindConfiguration:        http.StatusInternalServerError,
	apperr.KindTransient:            http.StatusServiceUnavailable,
	apperr.KindUnresolvableConflict: http.StatusConflict,
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(kind apperr.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// errorWriter renders service errors. Wrapped causes are only exposed in dev.
type errorWriter struct {
	logger zerolog.Logger
	dev    bool
}

func (e errorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)

	resp := ErrorResponse{Error: string(kind), Message: apperr.MessageOf(err)}
	if e.dev {
		if cause := errors.Unwrap(err); cause != nil {
			resp.Details = cause.Error()
		} else if kind == apperr.KindInternal {
			resp.Details = err.Error()
		}
	}

	evt := e.logger.Warn()
	if status >= http.StatusInternalServerError {
		evt = e.logger.Error()
	}
	evt.Err(err).
		Str("kind", string(kind)).
		Str("path", r.URL.Path).
		Str("request_id", GetRequestID(r.Context())).
		Msg("request failed")

	if kind == apperr.KindTransient {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, status, resp)
}
