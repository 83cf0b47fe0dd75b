package events

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"mpesa-billing/internal/models"
)

const (
	TypePaymentCompleted = "payment.completed"
	TypePaymentFailed    = "payment.failed"
)

// Event announces an applied terminal transition of a payment transaction.
type Event struct {
	ID                uuid.UUID `json:"id"`
	Type              string    `json:"type"`
	TransactionID     uint      `json:"transaction_id"`
	Username          string    `json:"username"`
	PlanID            uint      `json:"plan_id"`
	Price             string    `json:"price"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	Source            string    `json:"source"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (e Event) Key() string {
	return strconv.FormatUint(uint64(e.TransactionID), 10)
}

func NewTransactionEvent(trx *models.Transaction, source string, at time.Time) Event {
	eventType := TypePaymentFailed
	if trx.Status == models.StatusCompleted {
		eventType = TypePaymentCompleted
	}
	return Event{
		ID:                uuid.New(),
		Type:              eventType,
		TransactionID:     trx.ID,
		Username:          trx.Username,
		PlanID:            trx.PlanID,
		Price:             trx.Price.StringFixed(2),
		CheckoutRequestID: trx.GatewayTrxID,
		Source:            source,
		OccurredAt:        at,
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
