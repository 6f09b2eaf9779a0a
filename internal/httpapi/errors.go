package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"edufund/internal/domain"
)

// Boundary error codes that have no domain counterpart.
const (
	codeInvalidRequest   = "INVALID_REQUEST"
	codeRequestTooLarge  = "REQUEST_TOO_LARGE"
	codeRateLimited      = "RATE_LIMITED"
	codeRouteNotFound    = "ROUTE_NOT_FOUND"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	codeUpstream         = "UPSTREAM_ERROR"
	codeInternal         = "INTERNAL"
)

// requestError is a decoding or boundary validation failure.
type requestError struct {
	status int
	code   string
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, code: codeInvalidRequest, msg: fmt.Sprintf(format, args...)}
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var re *requestError
	if errors.As(err, &re) {
		return re.status
	}

	switch domain.Code(err) {
	case domain.ErrNotOwner.Code:
		return http.StatusForbidden
	case domain.ErrVoterRequired.Code, domain.ErrWalletRequired.Code:
		return http.StatusUnauthorized
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorDetailFor builds the error payload. Unclassified errors are not
// echoed to the client.
func errorDetailFor(err error) errorDetail {
	var re *requestError
	if errors.As(err, &re) {
		return errorDetail{Code: re.code, Message: re.msg}
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return errorDetail{Code: de.Code, Message: de.Message}
	}
	if errors.Is(err, domain.ErrUpstream) {
		return errorDetail{Code: codeUpstream, Message: err.Error()}
	}
	return errorDetail{Code: codeInternal, Message: "internal error"}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

// writeError writes err with its mapped status. 5xx errors are logged with
// the request fields.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	writeJSON(w, status, errorBody{Error: errorDetailFor(err)})
}

// decodeJSON strictly decodes the request body into dst. An empty body is
// accepted only when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF) && allowEmpty:
			return nil
		case errors.Is(err, io.EOF):
			return badRequest("request body is required")
		case errors.As(err, &tooLarge):
			return &requestError{
				status: http.StatusRequestEntityTooLarge,
				code:   codeRequestTooLarge,
				msg:    fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			}
		default:
			return badRequest("invalid json: %v", err)
		}
	}
	if dec.More() {
		return badRequest("request body must contain a single json object")
	}
	return nil
}
