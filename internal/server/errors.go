package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/voyagen/popcorngate/internal/subscribers"
)

var (
	errAlreadyLoggedIn = errors.New("already logged in")
	errUnknownMethod   = errors.New("unknown method")
	errSessionMismatch = errors.New("connection is bound to another subscriber")
	errInternal        = errors.New("internal error")
)

// statusTable maps domain errors onto HTTP statuses. Order matters only
// for errors that wrap more than one entry.
var statusTable = []struct {
	err    error
	status int
}{
	{subscribers.ErrNotConnected, http.StatusServiceUnavailable},

	{subscribers.ErrInvalidInput, http.StatusBadRequest},
	{subscribers.ErrInvalidUserID, http.StatusBadRequest},
	{subscribers.ErrInvalidStreamID, http.StatusBadRequest},
	{errAlreadyLoggedIn, http.StatusBadRequest},
	{errUnknownMethod, http.StatusBadRequest},

	{subscribers.ErrInvalidClaim, http.StatusForbidden},
	{subscribers.ErrNotLoggedIn, http.StatusForbidden},
	{subscribers.ErrUserNotActive, http.StatusForbidden},
	{subscribers.ErrUserRemoved, http.StatusForbidden},
	{subscribers.ErrInvalidPassword, http.StatusForbidden},
	{subscribers.ErrAccountExpired, http.StatusForbidden},
	{subscribers.ErrNoDevices, http.StatusForbidden},
	{subscribers.ErrDeviceBanned, http.StatusForbidden},
	{subscribers.ErrDeviceLimitReached, http.StatusForbidden},
	{errSessionMismatch, http.StatusForbidden},

	{subscribers.ErrUserNotFound, http.StatusNotFound},
	{subscribers.ErrStreamNotFound, http.StatusNotFound},
	{subscribers.ErrServerNotFound, http.StatusNotFound},
	{subscribers.ErrDeviceNotFound, http.StatusNotFound},
	{subscribers.ErrAssociationNotFound, http.StatusNotFound},
	{subscribers.ErrUnsupportedStreamType, http.StatusNotFound},
	{subscribers.ErrNoMatchingOutput, http.StatusNotFound},

	{subscribers.ErrInvalidStreamRecord, http.StatusInternalServerError},
}

// classify returns the HTTP status for err and the error that is safe to
// show to clients. Unknown errors become errInternal with status 500.
func classify(err error) (int, error) {
	for _, e := range statusTable {
		if errors.Is(err, e.err) {
			return e.status, e.err
		}
	}
	return http.StatusInternalServerError, errInternal
}

// APIError is the standard error envelope for all error responses.
type APIError struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("writeJSON")
	}
}

func (s *Server) writeErr(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.log.WithError(err).WithField("status", status).Error("request failed")
	}
	s.writeJSON(w, status, APIError{
		Status: status,
		Error:  http.StatusText(status),
		Detail: err.Error(),
	})
}

// writeDomainErr writes a manager error with its mapped status. Internal
// details are logged, not returned.
func (s *Server) writeDomainErr(w http.ResponseWriter, err error) {
	status, public := classify(err)
	if status >= 500 {
		s.log.WithError(err).WithField("status", status).Error("request failed")
	}
	s.writeJSON(w, status, APIError{
		Status: status,
		Error:  http.StatusText(status),
		Detail: public.Error(),
	})
}
