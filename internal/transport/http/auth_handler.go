package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"licensecli/internal/auth"
	"licensecli/internal/infrastructure"
	"licensecli/internal/store"
)

// AuthService is the part of the authenticator the control API drives.
type AuthService interface {
	VerifyLicense(ctx context.Context, key string) (auth.Result, error)
	AutoLogin(ctx context.Context) (auth.Result, error)
	QuickCheck(ctx context.Context) (bool, error)
	Status(ctx context.Context) auth.Status
	ClearStoredAuth(ctx context.Context) error
	ResetDeviceFingerprint(ctx context.Context) error
	Preferences(ctx context.Context) store.Preferences
	SetRememberKey(ctx context.Context, v bool) error
	SetAutoLoginEnabled(ctx context.Context, v bool) error
	SetSavedLicenseKey(ctx context.Context, key string) error
}

// AuthHandler serves /api/auth.
type AuthHandler struct {
	service AuthService
	logger  *slog.Logger
	timeout time.Duration
}

// NewAuthHandler creates an auth handler. Calls that reach the license
// server are bounded by timeout.
func NewAuthHandler(service AuthService, timeout time.Duration, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  infrastructure.WithComponent(logger, "auth_handler"),
		timeout: timeout,
	}
}

// VerifyRequest is the body of POST /verify. Key length is enforced by the
// authenticator so that it maps to INVALID_LICENSE_KEY.
type VerifyRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	Remember   *bool  `json:"remember,omitempty"`
}

// AuthResponse is returned by verify and autologin.
type AuthResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Expiration string `json:"expiration,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	HasStoredAuth   bool       `json:"has_stored_auth"`
	Authenticated   bool       `json:"authenticated"`
	State           string     `json:"state"`
	Expiration      string     `json:"expiration,omitempty"`
	SessionID       string     `json:"session_id,omitempty"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
	ServerValid     *bool      `json:"server_valid,omitempty"`
}

// PreferencesRequest is the body of PUT /preferences. Absent fields are
// left unchanged; an empty saved_license_key removes the saved key.
type PreferencesRequest struct {
	RememberKey     *bool   `json:"remember_key,omitempty"`
	AutoLogin       *bool   `json:"auto_login,omitempty"`
	SavedLicenseKey *string `json:"saved_license_key,omitempty"`
}

// PreferencesResponse never echoes the saved key itself.
type PreferencesResponse struct {
	RememberKey bool `json:"remember_key"`
	AutoLogin   bool `json:"auto_login"`
	HasSavedKey bool `json:"has_saved_key"`
}

// Routes returns the /api/auth router.
func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/verify", h.Verify)
	r.Post("/autologin", h.AutoLogin)
	r.Get("/status", h.Status)
	r.Post("/logout", h.Logout)
	r.Post("/device/reset", h.ResetDevice)
	r.Get("/preferences", h.GetPreferences)
	r.Put("/preferences", h.UpdatePreferences)
	return r
}

// Verify handles POST /api/auth/verify.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if apiErr := decode(w, r, &req); apiErr != nil {
		writeError(w, r, apiErr)
		return
	}
	ctx := r.Context()

	if req.Remember != nil {
		if err := h.service.SetRememberKey(ctx, *req.Remember); err != nil {
			h.logger.WarnContext(ctx, "Failed to store remember preference",
				slog.String("error", err.Error()))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	res, err := h.service.VerifyLicense(ctx, req.LicenseKey)
	if err != nil {
		h.fail(w, r, "verify", err)
		return
	}
	render.JSON(w, r, AuthResponse{
		Success:    true,
		Message:    res.Message,
		Expiration: res.Expiry,
		SessionID:  res.SessionID,
	})
}

// AutoLogin handles POST /api/auth/autologin.
func (h *AuthHandler) AutoLogin(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.service.AutoLogin(ctx)
	if err != nil {
		h.fail(w, r, "autologin", err)
		return
	}
	render.JSON(w, r, AuthResponse{
		Success:    true,
		Message:    res.Message,
		Expiration: res.Expiry,
		SessionID:  res.SessionID,
	})
}

// Status handles GET /api/auth/status. With ?check=true the stored
// session is also confirmed with the license server.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := h.service.Status(ctx)

	resp := StatusResponse{
		HasStoredAuth: st.HasStoredAuth,
		Authenticated: st.Authenticated,
		State:         st.State.String(),
		Expiration:    st.Expiry,
		SessionID:     st.SessionID,
	}
	if !st.LastValidatedAt.IsZero() {
		t := st.LastValidatedAt
		resp.LastValidatedAt = &t
	}

	if r.URL.Query().Get("check") == "true" && st.HasStoredAuth {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		valid, err := h.service.QuickCheck(checkCtx)
		if err != nil {
			h.logger.WarnContext(ctx, "Server check failed", slog.String("error", err.Error()))
		} else {
			resp.ServerValid = &valid
		}
	}

	render.JSON(w, r, resp)
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearStoredAuth(r.Context()); err != nil {
		h.fail(w, r, "logout", err)
		return
	}
	render.JSON(w, r, AuthResponse{Success: true, Message: "Logged out"})
}

// ResetDevice handles POST /api/auth/device/reset.
func (h *AuthHandler) ResetDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResetDeviceFingerprint(r.Context()); err != nil {
		h.fail(w, r, "device_reset", err)
		return
	}
	render.JSON(w, r, AuthResponse{Success: true, Message: "Device fingerprint reset"})
}

// GetPreferences handles GET /api/auth/preferences.
func (h *AuthHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, toPreferencesResponse(h.service.Preferences(r.Context())))
}

// UpdatePreferences handles PUT /api/auth/preferences.
func (h *AuthHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req PreferencesRequest
	if apiErr := decode(w, r, &req); apiErr != nil {
		writeError(w, r, apiErr)
		return
	}
	ctx := r.Context()

	if req.RememberKey != nil {
		if err := h.service.SetRememberKey(ctx, *req.RememberKey); err != nil {
			h.fail(w, r, "preferences", err)
			return
		}
	}
	if req.AutoLogin != nil {
		if err := h.service.SetAutoLoginEnabled(ctx, *req.AutoLogin); err != nil {
			h.fail(w, r, "preferences", err)
			return
		}
	}
	if req.SavedLicenseKey != nil {
		if err := h.service.SetSavedLicenseKey(ctx, *req.SavedLicenseKey); err != nil {
			h.fail(w, r, "preferences", err)
			return
		}
	}

	render.JSON(w, r, toPreferencesResponse(h.service.Preferences(ctx)))
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	apiErr := MapError(err)
	level := slog.LevelWarn
	if apiErr.StatusCode >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "Auth request failed",
		slog.String("operation", op),
		slog.String("error_code", apiErr.ErrorCode),
		slog.Int("status", apiErr.StatusCode),
		slog.String("error", err.Error()))
	writeError(w, r, apiErr)
}

func toPreferencesResponse(p store.Preferences) PreferencesResponse {
	return PreferencesResponse{
		RememberKey: p.RememberKey,
		AutoLogin:   p.AutoLoginEnabled,
		HasSavedKey: p.SavedLicenseKey != "",
	}
}
