package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	apperrors "github.com/louisbranch/dialog/internal/platform/errors"
)

const maxRequestBytes = 1 << 20

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code     apperrors.Code    `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

// writeError maps domain errors to their HTTP status. Errors without a code
// are logged and reported as internal.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errorDetail{
			Code:    apperrors.CodeUnknown,
			Message: "internal error",
		}})
		return
	}
	status := domainErr.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logger.WarnContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", string(domainErr.Code)),
			slog.Any("error", err),
		)
	}
	writeJSON(w, status, errorResponse{Error: errorDetail{
		Code:     domainErr.Code,
		Message:  domainErr.Error(),
		Metadata: domainErr.Metadata,
	}})
}

func badRequest(format string, args ...any) error {
	return apperrors.New(apperrors.CodeValidationFailed, fmt.Sprintf(format, args...))
}

// decodeJSON reads an optional JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperrors.Wrap(apperrors.CodeValidationFailed, fmt.Sprintf("invalid request body: %v", err), err)
	}
	return nil
}
