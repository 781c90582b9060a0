package squaresync

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorClass is the closed failure taxonomy the orchestrator consumes. Retry
// eligibility and user-facing messaging are decided here and nowhere else; no
// other component pattern-matches on raw status codes.
type ErrorClass string

const (
	ClassAuth               ErrorClass = "AUTH"
	ClassRateLimit          ErrorClass = "RATE_LIMIT"
	ClassNotFound           ErrorClass = "NOT_FOUND"
	ClassValidation         ErrorClass = "VALIDATION"
	ClassAPI                ErrorClass = "API"
	ClassUnknown            ErrorClass = "UNKNOWN"
	ClassTokenUnavailable   ErrorClass = "TOKEN_UNAVAILABLE"
	ClassLocationUnselected ErrorClass = "LOCATION_UNSELECTED"
)

var (
	// ErrTokenUnavailable means no credentials exist for the tenant or the
	// stored refresh token was rejected; the tenant must reconnect.
	ErrTokenUnavailable = errors.New("token unavailable")

	// ErrLocationUnselected means credentials exist but the tenant never
	// picked a location to sync.
	ErrLocationUnselected = errors.New("location not selected")
)

// ErrorDetail is one provider-supplied error entry.
type ErrorDetail struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
	Field    string `json:"field"`
}

// APIError is any non-2xx response from the provider.
type APIError struct {
	Status  int
	Code    string
	Detail  string
	Errors  []ErrorDetail
	RawBody string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("square api error %d %s: %s", e.Status, e.Code, e.Detail)
	}
	if e.RawBody != "" {
		return fmt.Sprintf("square api error %d: %s", e.Status, strings.TrimSpace(e.RawBody))
	}
	return fmt.Sprintf("square api error %d", e.Status)
}

// Classify maps a failure into the taxonomy.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	if errors.Is(err, ErrTokenUnavailable) {
		return ClassTokenUnavailable
	}
	if errors.Is(err, ErrLocationUnselected) {
		return ClassLocationUnselected
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusUnauthorized:
			return ClassAuth
		case http.StatusTooManyRequests:
			return ClassRateLimit
		case http.StatusNotFound:
			return ClassNotFound
		case http.StatusBadRequest:
			return ClassValidation
		}
		if apiErr.Code != "" || len(apiErr.Errors) > 0 {
			return ClassAPI
		}
	}
	return ClassUnknown
}

// Retryable reports whether the API client may transparently retry the
// failure. Only rate limiting is expected steady-state behavior; retrying an
// auth or validation failure cannot succeed without external intervention.
func Retryable(err error) bool {
	return Classify(err) == ClassRateLimit
}
