package httpserver

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/callanalyzer/tenantconfig/internal/tenantcfg"
)

// ErrorBody is the error envelope returned by every endpoint.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// requestError marks a malformed request body or parameter.
type requestError struct{ msg string }

func (e requestError) Error() string { return e.msg }

func badRequest(msg string) error { return requestError{msg: msg} }

var errUnauthorized = errors.New("unauthorized")

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.respondJSON(w, status, body)
}

// classify maps an error onto a status and a client-safe body. Driver text
// never reaches the client.
func classify(err error) (int, ErrorBody) {
	var (
		dup     *tenantcfg.DuplicateKeyError
		missing *tenantcfg.MissingParentError
		inv     *tenantcfg.InvalidConfigError
		reqErr  requestError
	)
	switch {
	case errors.As(err, &dup):
		return http.StatusConflict, ErrorBody{ErrorDetail{
			Code:    "duplicate_key",
			Message: dup.Error(),
			Details: map[string]any{"table": dup.Table, "key": dup.Key()},
		}}
	case errors.As(err, &missing):
		return http.StatusNotFound, ErrorBody{ErrorDetail{
			Code:    "missing_parent",
			Message: missing.Error(),
			Details: map[string]any{"user_id": missing.UserID},
		}}
	case errors.Is(err, tenantcfg.ErrScheduleNotFound):
		return http.StatusNotFound, ErrorBody{ErrorDetail{Code: "not_found", Message: err.Error()}}
	case errors.As(err, &inv):
		return http.StatusUnprocessableEntity, ErrorBody{ErrorDetail{
			Code:    "invalid_config",
			Message: inv.Error(),
			Details: map[string]any{"field": inv.Field},
		}}
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, ErrorBody{ErrorDetail{Code: "bad_request", Message: reqErr.msg}}
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, ErrorBody{ErrorDetail{Code: "unauthorized", Message: "authentication required"}}
	}
	return http.StatusInternalServerError, ErrorBody{ErrorDetail{Code: "internal", Message: "internal error"}}
}
