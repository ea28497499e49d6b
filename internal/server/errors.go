package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/usenabla-com/nabla-runners/internal/foundation"
)

// HTTPErrorAdapter maps classified errors onto HTTP status codes and a
// canonical JSON error payload.
type HTTPErrorAdapter struct {
	logger *slog.Logger
}

// NewHTTPErrorAdapter creates an adapter. A nil logger falls back to
// the default package logger.
func NewHTTPErrorAdapter(logger *slog.Logger) *HTTPErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPErrorAdapter{logger: logger}
}

// HTTPErrorResponse is the standard JSON error payload.
type HTTPErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// StatusCodeFor determines the HTTP status code for an error based on
// its classification. Unknown errors map to 500.
func (a *HTTPErrorAdapter) StatusCodeFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var ce *foundation.ClassifiedError
	if !errors.As(err, &ce) {
		return http.StatusInternalServerError
	}
	switch ce.Code {
	case foundation.ErrorCodeValidation, foundation.ErrorCodeConfiguration:
		return http.StatusBadRequest
	case foundation.ErrorCodeNotFound:
		return http.StatusNotFound
	case foundation.ErrorCodeUnsupported:
		return http.StatusUnprocessableEntity
	case foundation.ErrorCodeToolInvocation, foundation.ErrorCodeArtifactNotFound, foundation.ErrorCodeStrategy:
		return http.StatusUnprocessableEntity
	case foundation.ErrorCodeTimeout:
		return http.StatusGatewayTimeout
	case foundation.ErrorCodeCanceled:
		return http.StatusConflict
	case foundation.ErrorCodeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse writes a JSON error response and logs it.
func (a *HTTPErrorAdapter) WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	status := a.StatusCodeFor(err)
	payload := a.FormatErrorResponse(err)

	b, jerr := json.Marshal(payload)
	if jerr != nil {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"internal error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)

	var ce *foundation.ClassifiedError
	if errors.As(err, &ce) {
		a.logger.Log(r.Context(), levelFromSeverity(ce.Severity), ce.Error())
		return
	}
	a.logger.Error(err.Error())
}

// FormatErrorResponse converts known errors into the canonical payload.
func (a *HTTPErrorAdapter) FormatErrorResponse(err error) HTTPErrorResponse {
	if err == nil {
		return HTTPErrorResponse{}
	}
	var ce *foundation.ClassifiedError
	if errors.As(err, &ce) {
		resp := HTTPErrorResponse{Error: ce.Message, Code: string(ce.Code), Retryable: ce.Retryable}
		if len(ce.Context) > 0 {
			resp.Details = map[string]any(ce.Context)
		}
		return resp
	}
	return HTTPErrorResponse{Error: err.Error()}
}

func levelFromSeverity(s foundation.Severity) slog.Level {
	switch s {
	case foundation.SeverityInfo:
		return slog.LevelInfo
	case foundation.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
