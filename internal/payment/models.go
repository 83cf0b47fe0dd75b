package payment

import (
	"encoding/json"

	"mpesa-billing/internal/mpesa"
)

const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"

	WebhookSuccess = "success"
	WebhookError   = "error"

	// PaymentMethod is stored as both method and channel of completed transactions.
	PaymentMethod = "MPESA"

	SourcePoll    = "poll"
	SourceWebhook = "webhook"
)

type InitiateRequest struct {
	Phone string `json:"phone"`
}

type InitiateResponse struct {
	Success       bool   `json:"success"`
	TransactionID uint   `json:"transaction_id"`
	Message       string `json:"message"`
	Debug         string `json:"debug,omitempty"`
}

type StatusResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result,omitempty"`
	Debug   string          `json:"debug,omitempty"`
	Error   bool            `json:"error,omitempty"`
}

type WebhookResponse struct {
	Status     string           `json:"status"`
	Message    string           `json:"message"`
	ResultCode mpesa.ResultCode `json:"ResultCode,omitempty"`
}
