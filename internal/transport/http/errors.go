package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	"licensecli/internal/auth"
	"licensecli/internal/infrastructure"
	"licensecli/internal/protocol"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
}

func (e *APIError) Error() string { return e.Message }

// Render implements render.Renderer.
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	if e.TraceID == "" {
		e.TraceID = infrastructure.GetTraceID(r.Context())
	}
	render.Status(r, e.StatusCode)
	return nil
}

// NewAPIError creates an APIError without details.
func NewAPIError(status int, code, message string) *APIError {
	return &APIError{StatusCode: status, ErrorCode: code, Message: message}
}

// FieldError describes one failed request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// CooldownDetails is attached to RESET_COOLDOWN errors.
type CooldownDetails struct {
	RemainingSeconds int64 `json:"remaining_seconds"`
}

// GateDetails is attached to GATE_BUSY errors.
type GateDetails struct {
	Status string `json:"status"`
}

// Error codes.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeValidation       = "VALIDATION_FAILED"
	CodeInvalidKey       = "INVALID_LICENSE_KEY"
	CodeLicenseRejected  = "LICENSE_REJECTED"
	CodeSessionInvalid   = "SESSION_INVALID"
	CodeNoStoredSession  = "NO_STORED_SESSION"
	CodeNoSession        = "NO_SESSION"
	CodeHwidMismatch     = "HWID_MISMATCH"
	CodeTokenBanned      = "TOKEN_BANNED"
	CodeInvalidDevice    = "INVALID_DEVICE"
	CodeResetCooldown    = "RESET_COOLDOWN"
	CodeInitFailed       = "INIT_FAILED"
	CodeNetwork          = "NETWORK_ERROR"
	CodeTimeout          = "TIMEOUT"
	CodeGateBusy         = "GATE_BUSY"
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeInternal         = "INTERNAL_SERVER_ERROR"
)

// MapError translates an authenticator error into an APIError. The checks
// run from the most specific wrapper outwards: init failures wrap protocol
// errors and saved-key failures wrap everything.
func MapError(err error) *APIError {
	var (
		cooldown   *auth.CooldownError
		invalid    *auth.SessionInvalidError
		rejected   *protocol.ProtocolError
		networkErr *protocol.NetworkError
	)
	msg := err.Error()

	switch {
	case errors.Is(err, auth.ErrInvalidLicenseKey):
		return NewAPIError(http.StatusBadRequest, CodeInvalidKey, msg)
	case errors.Is(err, auth.ErrHwidMismatch):
		return NewAPIError(http.StatusForbidden, CodeHwidMismatch, msg)
	case errors.Is(err, auth.ErrBannedToken):
		return NewAPIError(http.StatusForbidden, CodeTokenBanned, msg)
	case errors.Is(err, auth.ErrInvalidDeviceID):
		return NewAPIError(http.StatusUnprocessableEntity, CodeInvalidDevice, msg)
	case errors.As(err, &cooldown):
		return &APIError{
			StatusCode: http.StatusTooManyRequests,
			ErrorCode:  CodeResetCooldown,
			Message:    msg,
			Details:    CooldownDetails{RemainingSeconds: cooldown.RemainingSeconds()},
		}
	case errors.Is(err, auth.ErrNoStoredSession):
		return NewAPIError(http.StatusNotFound, CodeNoStoredSession, msg)
	case errors.As(err, &invalid):
		return NewAPIError(http.StatusUnauthorized, CodeSessionInvalid, msg)
	case errors.Is(err, auth.ErrInitFailed):
		return NewAPIError(http.StatusBadGateway, CodeInitFailed, msg)
	case errors.Is(err, protocol.ErrNoSession):
		return NewAPIError(http.StatusBadGateway, CodeNoSession, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return NewAPIError(http.StatusGatewayTimeout, CodeTimeout, msg)
	case errors.As(err, &networkErr):
		return NewAPIError(http.StatusServiceUnavailable, CodeNetwork, msg)
	case errors.As(err, &rejected):
		return NewAPIError(http.StatusUnauthorized, CodeLicenseRejected, msg)
	default:
		return NewAPIError(http.StatusInternalServerError, CodeInternal, "Internal server error")
	}
}

// writeError renders err, adding Retry-After for cooldowns.
func writeError(w http.ResponseWriter, r *http.Request, apiErr *APIError) {
	if d, ok := apiErr.Details.(CooldownDetails); ok {
		w.Header().Set("Retry-After", strconv.FormatInt(d.RemainingSeconds, 10))
	}
	_ = render.Render(w, r, apiErr)
}
