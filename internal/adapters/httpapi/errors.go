package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"applyflow/internal/applications"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
}

var errorCodes = []struct {
	sentinel error
	status   int
	code     string
}{
	{applications.ErrAlreadyApplied, http.StatusConflict, "ALREADY_APPLIED"},
	{applications.ErrInvalidFile, http.StatusBadRequest, "INVALID_FILE"},
	{applications.ErrJobNotFound, http.StatusNotFound, "JOB_NOT_FOUND"},
	{applications.ErrApplicationNotFound, http.StatusNotFound, "APPLICATION_NOT_FOUND"},
	{applications.ErrStorageFailure, http.StatusBadGateway, "STORAGE_FAILURE"},
	{applications.ErrPersistenceFailure, http.StatusInternalServerError, "PERSISTENCE_FAILURE"},
	{applications.ErrInvalidTransition, http.StatusUnprocessableEntity, "INVALID_TRANSITION"},
	{applications.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
}

// statusFor maps a taxonomy error to its HTTP status, code and public message.
// Server-side failures expose only the taxonomy message.
func statusFor(err error) (int, string, string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.sentinel) {
			if e.status >= http.StatusInternalServerError {
				return e.status, e.code, e.sentinel.Error()
			}
			return e.status, e.code, err.Error()
		}
	}
	return http.StatusInternalServerError, "INTERNAL", "internal error"
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code, msg := statusFor(err)
	body := errorBody{Error: code, Message: msg}
	if step, ok := applications.FailedStep(err); ok {
		body.Step = string(step)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("code", code), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func writeProblem(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
