package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mpesa-billing/internal/models"
	"mpesa-billing/internal/store"
	"mpesa-billing/internal/utils"
)

// Provider callbacks are small; anything larger is not an STK callback.
const maxCallbackBytes = 1 << 20

type Handler struct {
	Service        *Service
	Transactions   TransactionStore
	Customers      CustomerStore
	// AllowedCIDRs restricts callback sources. Empty accepts any source.
	AllowedCIDRs   []string
	// TrustedProxies may set X-Forwarded-For / X-Real-IP for the callback source check.
	TrustedProxies []string
	logger         *zap.Logger
}

func NewHandler(service *Service, transactions TransactionStore, customers CustomerStore, allowedCIDRs, trustedProxies []string, logger *zap.Logger) *Handler {
	return &Handler{
		Service:        service,
		Transactions:   transactions,
		Customers:      customers,
		AllowedCIDRs:   allowedCIDRs,
		TrustedProxies: trustedProxies,
		logger:         logger.With(zap.String("component", "PaymentHandler")),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(h.allowMpesaSources).Post("/callback/mpesa", h.HandleWebhook)
	r.Route("/api/orders/{id}/mpesa", func(r chi.Router) {
		r.Post("/", h.HandleInitiate)
		r.Get("/status", h.HandleStatus)
	})
}

func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
	if err != nil {
		h.logger.Warn("Failed to read callback body", zap.Error(err))
		body = nil
	}

	writeJSON(w, http.StatusOK, h.Service.PaymentNotification(r.Context(), body))
}

func (h *Handler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	trx, customer, ok := h.loadOrder(w, r)
	if !ok {
		return
	}

	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	writeJSON(w, http.StatusOK, h.Service.CreateTransaction(r.Context(), trx, customer, req.Phone))
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	trx, customer, ok := h.loadOrder(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, h.Service.GetStatus(r.Context(), trx, customer))
}

func (h *Handler) loadOrder(w http.ResponseWriter, r *http.Request) (*models.Transaction, *models.Customer, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction id")
		return nil, nil, false
	}

	trx, err := h.Transactions.FindByID(r.Context(), uint(id))
	if err != nil {
		h.lookupFailed(w, "Transaction not found", err)
		return nil, nil, false
	}

	customer, err := h.Customers.FindByUsername(r.Context(), trx.Username)
	if err != nil {
		h.lookupFailed(w, "User not found", err)
		return nil, nil, false
	}

	return trx, customer, true
}

func (h *Handler) lookupFailed(w http.ResponseWriter, notFoundMsg string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	h.logger.Error("Order lookup failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func (h *Handler) allowMpesaSources(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.AllowedCIDRs) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := utils.ClientIP(r.RemoteAddr, r.Header, h.TrustedProxies)
		if !utils.IsAllowedIP(ip, h.AllowedCIDRs) {
			h.logger.Warn("Callback from disallowed source", zap.String("ip", ip))
			writeError(w, http.StatusForbidden, "Forbidden")
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

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
