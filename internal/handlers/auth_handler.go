package handlers

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/prospector/internal/services/auth"
)

// CredentialCapturer stores cookies captured by the browser extension
type CredentialCapturer interface {
	Capture(ctx context.Context, payload *auth.CapturePayload) (string, error)
	HasStoredCredential(ctx context.Context, domain string) bool
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	authService CredentialCapturer
	validate    *validator.Validate
	logger      arbor.ILogger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService CredentialCapturer, logger arbor.ILogger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		validate:    validator.New(),
		logger:      logger,
	}
}

// CaptureAuthHandler handles POST requests from the cookie-capture extension
func (h *AuthHandler) CaptureAuthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var payload auth.CapturePayload
	if err := DecodeJSON(w, r, &payload); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to parse auth data")
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&payload); err != nil {
		message, _ := ValidationMessage(err)
		WriteError(w, http.StatusBadRequest, message)
		return
	}

	h.logger.Info().
		Str("baseUrl", payload.BaseURL).
		Int("cookies", len(payload.Cookies)).
		Msg("Received authentication data from browser extension")

	domain, err := h.authService.Capture(r.Context(), &payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to store authentication")
		WriteError(w, http.StatusInternalServerError, "Failed to store authentication")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": "Authentication captured successfully",
		"domain":  domain,
	})
}

// AuthStatusHandler reports whether a usable session is stored for ?domain=
func (h *AuthHandler) AuthStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	domain := auth.NormalizeDomain(r.URL.Query().Get("domain"))
	if domain == "" {
		WriteError(w, http.StatusBadRequest, "domain is required")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"domain":        domain,
		"authenticated": h.authService.HasStoredCredential(r.Context(), domain),
	})
}
