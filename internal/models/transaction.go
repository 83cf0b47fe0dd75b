package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TransactionStatus int

const (
	StatusPending   TransactionStatus = 1
	StatusCompleted TransactionStatus = 2
	StatusFailed    TransactionStatus = 3
)

func (s TransactionStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Transaction is one payment attempt. The purchase context is written by the
// order flow; the gateway columns are filled in during push and reconciliation.
type Transaction struct {
	ID             uint              `gorm:"primaryKey"`
	Username       string            `gorm:"size:64;not null;index:idx_pg_username_status"`
	UserID         uint              `gorm:"index"`
	Gateway        string            `gorm:"size:32;not null"`
	GatewayTrxID   string            `gorm:"column:gateway_trx_id;size:128;index"`
	PlanID         uint              `gorm:"not null"`
	PlanName       string            `gorm:"size:64"`
	RoutersID      uint              `gorm:"column:routers_id"`
	Routers        string            `gorm:"size:64"`
	Price          decimal.Decimal   `gorm:"type:numeric(12,2);not null"`
	PaymentMethod  string            `gorm:"size:32"`
	PaymentChannel string            `gorm:"size:32"`
	PgRequest      datatypes.JSON    `gorm:"column:pg_request"`
	PgPaidResponse datatypes.JSON    `gorm:"column:pg_paid_response"`
	ExpiredDate    *time.Time        `gorm:"column:expired_date"`
	CreatedDate    time.Time         `gorm:"column:created_date;autoCreateTime"`
	PaidDate       *time.Time        `gorm:"column:paid_date"`
	Status         TransactionStatus `gorm:"not null;default:1;index:idx_pg_username_status"`
}

func (Transaction) TableName() string {
	return "tbl_payment_gateway"
}

func (t *Transaction) IsExpired(now time.Time) bool {
	return t.ExpiredDate != nil && t.ExpiredDate.Before(now)
}
