package web

// errors.go turns engine errors into JSON responses.
//
// Every error is logged with its technical detail and request id, then
// mapped through core.MapError to a user-facing message and code. Engine
// errors also carry their kind and location so clients can point at the
// offending sheet, row or field.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/helios/internal/core"
	"github.com/JonMunkholm/helios/internal/logging"
	"github.com/JonMunkholm/helios/internal/workbook"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Table   string `json:"table,omitempty"`
	Sheet   string `json:"sheet,omitempty"`
	Row     int    `json:"row,omitempty"`
	Field   string `json:"field,omitempty"`
	Ref     string `json:"ref,omitempty"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrTooManyIngests):
		return http.StatusServiceUnavailable
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, workbook.ErrInvalidWorkbook):
		return http.StatusBadRequest
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}

	e, ok := core.AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindConstraintViolation:
		switch {
		case errors.Is(err, core.ErrDuplicateKey):
			return http.StatusConflict
		case e.Retryable:
			return http.StatusServiceUnavailable
		}
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

// respondError logs err and writes the mapped JSON error response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	args := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", msg.Code,
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Error("request failed", args...)
	} else {
		logger.Info("request rejected", args...)
	}

	body := ErrorResponse{
		Error:   err.Error(),
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	if status == http.StatusInternalServerError {
		body.Error = msg.Message
	}
	if e, ok := core.AsError(err); ok {
		body.Kind = e.Kind.String()
		body.Table = string(e.Table)
		body.Sheet = e.Sheet
		body.Row = e.Row
		body.Field = e.Field
		body.Ref = e.Ref
	}

	if status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	writeJSON(w, status, body)
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// decodeJSON reads a JSON body of at most limit bytes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return &core.Error{Kind: core.KindInvalidValue, Msg: "invalid json: " + strings.TrimPrefix(err.Error(), "json: ")}
	}
	return nil
}
