package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mpesa-billing/internal/config"
)

const msgSettingsSaved = "Settings Saved Successfully"

type SettingsStore interface {
	All(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, values map[string]string) error
}

type SettingsResponse struct {
	Settings   map[string]string `json:"settings"`
	Configured bool              `json:"configured"`
	Missing    []string          `json:"missing,omitempty"`
}

// Handler shows and saves the M-PESA gateway settings kept in tbl_appconfig.
type Handler struct {
	Settings SettingsStore
	Base     config.Mpesa
	Token    string
	logger   *zap.Logger
}

func NewHandler(settings SettingsStore, base config.Mpesa, token string, logger *zap.Logger) *Handler {
	return &Handler{
		Settings: settings,
		Base:     base,
		Token:    token,
		logger:   logger.With(zap.String("component", "AdminHandler")),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/admin/paymentgateway/mpesa", func(r chi.Router) {
		r.Use(h.requireToken)
		r.Get("/", h.HandleShow)
		r.Put("/", h.HandleSave)
	})
}

func (h *Handler) HandleShow(w http.ResponseWriter, r *http.Request) {
	values, err := h.Settings.All(r.Context())
	if err != nil {
		h.logger.Error("Failed to load settings", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load settings"})
		return
	}

	writeJSON(w, http.StatusOK, h.describe(values))
}

func (h *Handler) HandleSave(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	values, err := gatewaySettings(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := h.Settings.Save(r.Context(), values); err != nil {
		h.logger.Error("Failed to save settings", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to save settings"})
		return
	}

	h.logger.Info("Mpesa "+msgSettingsSaved, zap.String("remote_addr", r.RemoteAddr))

	resp := h.describe(values)
	writeJSON(w, http.StatusOK, struct {
		Message string `json:"message"`
		SettingsResponse
	}{msgSettingsSaved, resp})
}

func (h *Handler) describe(values map[string]string) SettingsResponse {
	settings := make(map[string]string, len(config.SettingKeys))
	for _, key := range config.SettingKeys {
		settings[key] = values[key]
	}

	resp := SettingsResponse{Settings: settings, Configured: true}
	var missing *config.MissingSettingsError
	if err := h.Base.WithSettings(values).Validate(); errors.As(err, &missing) {
		resp.Configured = false
		resp.Missing = missing.Fields
	}
	return resp
}

// gatewaySettings keeps every known key, blank when absent, and rejects unknown keys.
func gatewaySettings(body map[string]string) (map[string]string, error) {
	known := make(map[string]bool, len(config.SettingKeys))
	for _, key := range config.SettingKeys {
		known[key] = true
	}

	var unknown []string
	for key := range body {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, errors.New("unknown settings: " + strings.Join(unknown, ", "))
	}

	values := make(map[string]string, len(config.SettingKeys))
	for _, key := range config.SettingKeys {
		values[key] = strings.TrimSpace(body[key])
	}
	return values, nil
}

func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.Token == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.Token)) != 1 {
			h.logger.Warn("Unauthorized admin request", zap.String("remote_addr", r.RemoteAddr))
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
