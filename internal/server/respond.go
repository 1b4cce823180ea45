package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Alias1177/Correlator/internal/agent"
	"github.com/Alias1177/Correlator/internal/analysis/series"
	"github.com/Alias1177/Correlator/internal/auth"
	"github.com/Alias1177/Correlator/internal/coordinator"
	"github.com/Alias1177/Correlator/internal/database"
	"github.com/Alias1177/Correlator/internal/insight"
	"github.com/Alias1177/Correlator/internal/payment"
	"github.com/Alias1177/Correlator/internal/portfolio"
	"github.com/Alias1177/Correlator/internal/report"
	"github.com/Alias1177/Correlator/internal/scheduler"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("invalid request")

// envelope is the body of every JSON response
type envelope struct {
	Status    string `json:"status"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		body, _ = json.Marshal(envelope{
			Status:    "error",
			Error:     fmt.Sprintf("encoding response: %v", err),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func (s *Server) respond(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{
		Status:    "success",
		Data:      data,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) ok(w http.ResponseWriter, data any) {
	s.respond(w, http.StatusOK, data, "")
}

// writeError reports err with an explicit status
func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, envelope{
		Status:    "error",
		Error:     err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// fail maps err to its status code and logs server side failures
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("request_id", RequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	s.writeError(w, status, err)
}

func statusFor(err error) int {
	var verr validator.ValidationErrors
	switch {
	case errors.Is(err, errBadRequest), errors.As(err, &verr),
		errors.Is(err, coordinator.ErrUnknownWorkflow), errors.Is(err, report.ErrUnknownType),
		errors.Is(err, agent.ErrNoHandler):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidKey), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, database.ErrNotFound), errors.Is(err, scheduler.ErrJobNotFound),
		errors.Is(err, coordinator.ErrWorkflowNotFound), errors.Is(err, agent.ErrTaskNotFound),
		errors.Is(err, agent.ErrAgentNotFound), errors.Is(err, portfolio.ErrNoHistory):
		return http.StatusNotFound
	case errors.Is(err, series.ErrInsufficientData), errors.Is(err, portfolio.ErrEmptyPortfolio):
		return http.StatusUnprocessableEntity
	case errors.Is(err, insight.ErrUnavailable), errors.Is(err, payment.ErrDisabled),
		errors.Is(err, agent.ErrQueueFull), errors.Is(err, agent.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// decode reads an optional JSON body into dst and validates it
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return s.validate.Struct(dst)
}

func queryInt(r *http.Request, key string, def, max int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", errBadRequest, key)
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

// queryTime parses an RFC 3339 timestamp or a YYYY-MM-DD date
func queryTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be a date (YYYY-MM-DD)", errBadRequest, key)
	}
	return t, nil
}
