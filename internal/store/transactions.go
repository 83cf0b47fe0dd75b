package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mpesa-billing/internal/models"
)

// Resolution is the terminal state a resolve callback decided on.
type Resolution struct {
	Status   models.TransactionStatus
	Response []byte
	PaidDate time.Time
	Method   string
}

// ResolveFunc runs while the row is locked and still pending. Returning a nil
// Resolution or an error leaves the record untouched.
type ResolveFunc func(trx *models.Transaction) (*Resolution, error)

type Transactions struct {
	DB *gorm.DB
}

func NewTransactions(db *gorm.DB) *Transactions {
	return &Transactions{DB: db}
}

func (s *Transactions) Create(ctx context.Context, trx *models.Transaction) error {
	if err := s.DB.WithContext(ctx).Create(trx).Error; err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (s *Transactions) FindByID(ctx context.Context, id uint) (*models.Transaction, error) {
	var trx models.Transaction
	if err := s.DB.WithContext(ctx).First(&trx, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &trx, nil
}

// FindActiveForUser returns transaction id when it still belongs to username
// and is pending. Any other record of the user is never substituted.
func (s *Transactions) FindActiveForUser(ctx context.Context, username string, id uint) (*models.Transaction, error) {
	var trx models.Transaction
	err := s.DB.WithContext(ctx).
		Where("id = ? AND username = ? AND status = ?", id, username, models.StatusPending).
		First(&trx).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &trx, nil
}

func (s *Transactions) FindByCheckoutID(ctx context.Context, checkoutID string) (*models.Transaction, error) {
	if checkoutID == "" {
		return nil, ErrNotFound
	}

	var trx models.Transaction
	if err := s.DB.WithContext(ctx).Where("gateway_trx_id = ?", checkoutID).First(&trx).Error; err != nil {
		return nil, notFound(err)
	}
	return &trx, nil
}

// AttachCheckout records the provider's checkout id and push response on a pending transaction.
func (s *Transactions) AttachCheckout(ctx context.Context, id uint, checkoutID string, raw []byte, expiresAt time.Time) error {
	result := s.DB.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(map[string]interface{}{
			"gateway_trx_id": checkoutID,
			"pg_request":     datatypes.JSON(raw),
			"expired_date":   expiresAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to attach checkout: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Resolve moves a pending transaction to a terminal state at most once. The
// row is locked for the duration of fn, and the update is guarded on the
// pending status. The returned bool reports whether this call applied the
// transition; when it did not, the current record is returned.
func (s *Transactions) Resolve(ctx context.Context, id uint, fn ResolveFunc) (*models.Transaction, bool, error) {
	var (
		trx     models.Transaction
		applied bool
	)

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&trx, id).Error; err != nil {
			return notFound(err)
		}
		if trx.Status != models.StatusPending {
			return nil
		}

		res, err := fn(&trx)
		if err != nil || res == nil {
			return err
		}

		updates := map[string]interface{}{
			"status":           res.Status,
			"pg_paid_response": datatypes.JSON(res.Response),
		}
		if res.Status == models.StatusCompleted {
			updates["paid_date"] = res.PaidDate
			updates["payment_method"] = res.Method
			updates["payment_channel"] = res.Method
		}

		result := tx.Model(&models.Transaction{}).
			Where("id = ? AND status = ?", id, models.StatusPending).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to update transaction: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}

		applied = true
		trx.Status = res.Status
		trx.PgPaidResponse = datatypes.JSON(res.Response)
		if res.Status == models.StatusCompleted {
			paid := res.PaidDate
			trx.PaidDate = &paid
			trx.PaymentMethod = res.Method
			trx.PaymentChannel = res.Method
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return &trx, applied, nil
}
