package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mpesa-billing/internal/events"
	"mpesa-billing/internal/metrics"
	"mpesa-billing/internal/models"
	"mpesa-billing/internal/mpesa"
	"mpesa-billing/internal/recharge"
	"mpesa-billing/internal/store"
)

// How long a pushed payment prompt stays payable.
const pushTTL = time.Hour

type TransactionStore interface {
	FindByID(ctx context.Context, id uint) (*models.Transaction, error)
	FindActiveForUser(ctx context.Context, username string, id uint) (*models.Transaction, error)
	FindByCheckoutID(ctx context.Context, checkoutID string) (*models.Transaction, error)
	AttachCheckout(ctx context.Context, id uint, checkoutID string, raw []byte, expiresAt time.Time) error
	Resolve(ctx context.Context, id uint, fn store.ResolveFunc) (*models.Transaction, bool, error)
}

type CustomerStore interface {
	FindByUsername(ctx context.Context, username string) (*models.Customer, error)
}

// Activator turns a paid transaction into an active plan.
type Activator interface {
	Recharge(ctx context.Context, req recharge.RechargeRequest) error
}

type Notifier interface {
	Notify(ctx context.Context, text string)
}

type Publisher interface {
	Publish(ctx context.Context, event events.Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string) {}

// Service reconciles M-PESA payments with stored transactions. Initiation,
// client polling and provider callbacks all funnel terminal transitions
// through TransactionStore.Resolve.
type Service struct {
	transactions TransactionStore
	customers    CustomerStore
	gateway      GatewayFactory
	activator    Activator
	notifier     Notifier
	publisher    Publisher
	logger       *zap.Logger
	now          func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(transactions TransactionStore, customers CustomerStore, gateway GatewayFactory, activator Activator, opts ...Option) *Service {
	s := &Service{
		transactions: transactions,
		customers:    customers,
		gateway:      gateway,
		activator:    activator,
		notifier:     nopNotifier{},
		publisher:    events.Nop{},
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "PaymentService"))
	return s
}

// CreateTransaction sends an STK push for trx and records the checkout id on
// it. Only a pending transaction owned by customer is pushed, and the checkout
// is never attached to any other record.
func (s *Service) CreateTransaction(ctx context.Context, trx *models.Transaction, customer *models.Customer, phone string) InitiateResponse {
	log := s.logger.With(zap.Uint("transaction_id", trx.ID), zap.String("username", customer.Username))

	if trx.Status != models.StatusPending {
		log.Warn("Initiate requested for a transaction that is not pending", zap.Int("status", int(trx.Status)))
		return InitiateResponse{TransactionID: trx.ID, Message: msgNotPending}
	}

	fail := func(err error) InitiateResponse {
		log.Error("Payment initiation failed", zap.Error(err))
		s.alert(ctx, "Mpesa initiate ERROR: %s", err.Error())
		return InitiateResponse{
			TransactionID: trx.ID,
			Message:       initiateMessage(err),
			Debug:         err.Error(),
		}
	}

	normalized, err := mpesa.NormalizePhone(phone)
	if err != nil {
		return fail(err)
	}

	gw, err := s.gateway(ctx)
	if err != nil {
		return fail(err)
	}
	cfg := gw.Config()

	result, err := gw.SendStkPush(ctx, mpesa.StkPushRequest{
		Amount:        trx.Price.IntPart(),
		PhoneNumber:   normalized,
		TransactionID: strconv.FormatUint(uint64(trx.ID), 10),
		CallbackURL:   cfg.CallbackURL,
		Description:   cfg.Description,
	})
	if err != nil {
		return fail(err)
	}

	if result.CheckoutRequestID == "" {
		msg := result.ErrorMessage
		if msg == "" {
			msg = msgInitiateFailed
		}
		log.Warn("STK push response has no CheckoutRequestID", zap.ByteString("response", result.Raw))
		s.alert(ctx, "Mpesa initiate FAILED: \n\n%s", pretty(result.Raw))
		return InitiateResponse{TransactionID: trx.ID, Message: msg}
	}

	noActive := func() InitiateResponse {
		log.Warn("No active transaction for user", zap.String("checkout_request_id", result.CheckoutRequestID))
		s.alert(ctx, "Mpesa initiate ERROR: No active transaction for user %s", customer.Username)
		return InitiateResponse{TransactionID: trx.ID, Message: msgNoActive}
	}

	active, err := s.transactions.FindActiveForUser(ctx, customer.Username, trx.ID)
	if errors.Is(err, store.ErrNotFound) {
		return noActive()
	}
	if err != nil {
		return fail(err)
	}

	expires := s.now().Add(pushTTL)
	err = s.transactions.AttachCheckout(ctx, active.ID, result.CheckoutRequestID, result.Raw, expires)
	if errors.Is(err, store.ErrNotFound) {
		return noActive()
	}
	if err != nil {
		return fail(err)
	}

	log.Info("STK push sent", zap.String("checkout_request_id", result.CheckoutRequestID))

	return InitiateResponse{
		Success:       true,
		TransactionID: trx.ID,
		Message:       msgCheckPhone,
	}
}

// GetStatus asks the provider about a pending transaction and applies the
// outcome. Terminal transactions are answered from the store.
func (s *Service) GetStatus(ctx context.Context, trx *models.Transaction, customer *models.Customer) StatusResponse {
	switch trx.Status {
	case models.StatusCompleted:
		return StatusResponse{Status: StatusCompleted, Message: msgPaymentSuccessful}
	case models.StatusFailed:
		return StatusResponse{Status: StatusFailed, Message: msgExpired}
	}
	if trx.GatewayTrxID == "" {
		return StatusResponse{Status: StatusFailed, Message: msgNotInitiated}
	}

	log := s.logger.With(zap.Uint("transaction_id", trx.ID), zap.String("checkout_request_id", trx.GatewayTrxID))

	fail := func(err error) StatusResponse {
		log.Error("Payment status check failed", zap.Error(err))
		s.alert(ctx, "Mpesa status ERROR: %s", err.Error())
		return StatusResponse{
			Status:  StatusFailed,
			Message: statusMessage(err),
			Debug:   err.Error(),
		}
	}

	gw, err := s.gateway(ctx)
	if err != nil {
		return fail(err)
	}

	result, err := gw.CheckTransactionStatus(ctx, trx.GatewayTrxID)
	if err != nil {
		return fail(err)
	}

	if !result.HasResultCode() {
		msg := result.ErrorMessage
		if msg == "" {
			msg = msgStatusUnavailable
		}
		log.Warn("Status response has no ResultCode", zap.ByteString("response", result.Raw))
		s.alert(ctx, "Mpesa status FAILED: \n\n%s", pretty(result.Raw))
		return StatusResponse{Status: StatusFailed, Message: msg}
	}

	if result.ResultCode == mpesa.ResultSuccess {
		current, _, err := s.complete(ctx, trx.ID, customer, result.Raw, SourcePoll)
		if err != nil {
			if mpesa.KindOf(err) == mpesa.KindActivation {
				log.Error("Activation failed", zap.Error(err))
				s.alert(ctx, "Mpesa status: Activation FAILED: \n\n%s", pretty(result.Raw))
				return StatusResponse{Status: StatusFailed, Message: msgActivationFailed, Error: true}
			}
			return fail(err)
		}
		if current.Status == models.StatusFailed {
			return StatusResponse{Status: StatusFailed, Message: msgExpired}
		}
		return StatusResponse{Status: StatusCompleted, Message: msgPaymentSuccessful}
	}

	now := s.now()
	if trx.IsExpired(now) {
		current, applied, err := s.transactions.Resolve(ctx, trx.ID, func(locked *models.Transaction) (*store.Resolution, error) {
			if !locked.IsExpired(now) {
				return nil, nil
			}
			return &store.Resolution{Status: models.StatusFailed, Response: result.Raw}, nil
		})
		if err != nil {
			return fail(err)
		}
		if applied {
			s.transitioned(ctx, current, SourcePoll)
		}
		if current.Status == models.StatusCompleted {
			return StatusResponse{Status: StatusCompleted, Message: msgPaymentSuccessful}
		}
		return StatusResponse{
			Status:  StatusFailed,
			Message: orDefault(result.ResultDesc, msgExpired),
			Result:  result.Raw,
		}
	}

	return StatusResponse{
		Status:  StatusFailed,
		Message: orDefault(result.ResultDesc, msgPaymentFailed),
		Result:  result.Raw,
	}
}

// PaymentNotification applies an STK callback delivered by the provider.
// The returned envelope is always sent with HTTP 200.
func (s *Service) PaymentNotification(ctx context.Context, body []byte) WebhookResponse {
	if len(bytes.TrimSpace(body)) == 0 {
		return s.webhookError(ctx, msgNoCallbackData, "Mpesa callback ERROR: "+msgNoCallbackData)
	}

	var envelope mpesa.CallbackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Body.StkCallback.CheckoutRequestID == "" {
		return s.webhookError(ctx, msgMissingCheckout, "Mpesa callback ERROR: \n\n"+pretty(body))
	}
	callback := envelope.Body.StkCallback

	log := s.logger.With(zap.String("checkout_request_id", callback.CheckoutRequestID))

	trx, err := s.transactions.FindByCheckoutID(ctx, callback.CheckoutRequestID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error("Transaction lookup failed", zap.Error(err))
		}
		msg := msgTransactionNotFound + callback.CheckoutRequestID
		return s.webhookError(ctx, msg, "Mpesa callback ERROR: "+msg)
	}
	log = log.With(zap.Uint("transaction_id", trx.ID))

	customer, err := s.customers.FindByUsername(ctx, trx.Username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error("Customer lookup failed", zap.Error(err))
		}
		msg := msgUserNotFound + trx.Username
		return s.webhookError(ctx, msg, "Mpesa callback ERROR: "+msg)
	}

	if callback.ResultCode != mpesa.ResultSuccess {
		log.Info("Payment not successful",
			zap.String("result_code", string(callback.ResultCode)),
			zap.String("result_desc", callback.ResultDesc),
		)
		s.alert(ctx, "Mpesa callback: Payment failed: \n\n%s", pretty(body))
		return s.webhookSuccess(orDefault(callback.ResultDesc, msgNotSuccessful), callback.ResultCode)
	}

	current, applied, err := s.complete(ctx, trx.ID, customer, body, SourceWebhook)
	switch {
	case mpesa.KindOf(err) == mpesa.KindActivation:
		log.Error("Activation failed", zap.Error(err))
		s.alert(ctx, "Mpesa callback: Activation FAILED: \n\n%s", pretty(body))
		return s.webhookSuccess(msgWebhookActivation, callback.ResultCode)
	case err != nil:
		log.Error("Failed to resolve transaction", zap.Error(err))
		return s.webhookError(ctx, msgUpdateFailed, "Mpesa callback ERROR: "+err.Error())
	case applied || current.Status == models.StatusCompleted:
		if !applied {
			log.Info("Duplicate callback for completed transaction")
		}
		return s.webhookSuccess(msgProcessed, callback.ResultCode)
	default:
		log.Warn("Payment received for closed transaction", zap.String("status", current.Status.String()))
		s.alert(ctx, "Mpesa callback: Payment received for closed transaction %d: \n\n%s", trx.ID, pretty(body))
		return s.webhookSuccess(msgTransactionClosed, callback.ResultCode)
	}
}

// complete activates the plan and marks the transaction COMPLETED, unless
// another trigger already resolved it. Activation is not rolled back when the
// update that follows it fails; the row stays PENDING and an operator is
// alerted, since a later trigger would activate the plan again.
func (s *Service) complete(ctx context.Context, id uint, customer *models.Customer, raw []byte, source string) (*models.Transaction, bool, error) {
	activated := false
	current, applied, err := s.transactions.Resolve(ctx, id, func(locked *models.Transaction) (*store.Resolution, error) {
		if err := s.activate(ctx, locked, customer); err != nil {
			return nil, err
		}
		activated = true
		return &store.Resolution{
			Status:   models.StatusCompleted,
			Response: raw,
			PaidDate: s.now(),
			Method:   PaymentMethod,
		}, nil
	})
	if err != nil {
		if activated {
			s.logger.Error("Plan activated but transaction was not marked completed",
				zap.Uint("transaction_id", id),
				zap.String("source", source),
				zap.Error(err),
			)
			s.alert(ctx, "Mpesa %s CRITICAL: plan activated for transaction %d but it is still PENDING, check before it is activated again: %s",
				source, id, err.Error())
		}
		return nil, false, err
	}
	if applied {
		s.transitioned(ctx, current, source)
	}
	return current, applied, nil
}

func (s *Service) activate(ctx context.Context, trx *models.Transaction, customer *models.Customer) error {
	err := s.activator.Recharge(ctx, recharge.RechargeRequest{
		UserID:  customer.ID,
		Routers: trx.Routers,
		PlanID:  trx.PlanID,
		Gateway: trx.Gateway,
		Method:  PaymentMethod,
	})
	metrics.Activations.WithLabelValues(recharge.Outcome(err)).Inc()
	if err != nil {
		return mpesa.NewError(mpesa.KindActivation, "activation failed: "+err.Error(), err)
	}
	return nil
}

func (s *Service) transitioned(ctx context.Context, trx *models.Transaction, source string) {
	metrics.Transitions.WithLabelValues(trx.Status.String(), source).Inc()
	s.logger.Info("Transaction resolved",
		zap.Uint("transaction_id", trx.ID),
		zap.String("status", trx.Status.String()),
		zap.String("source", source),
	)
	s.publisher.Publish(ctx, events.NewTransactionEvent(trx, source, s.now()))
}

func (s *Service) webhookError(ctx context.Context, msg, alert string) WebhookResponse {
	s.logger.Warn("Callback rejected", zap.String("reason", msg))
	s.notifier.Notify(ctx, alert)
	metrics.Callbacks.WithLabelValues(WebhookError).Inc()
	return WebhookResponse{Status: WebhookError, Message: msg}
}

func (s *Service) webhookSuccess(msg string, code mpesa.ResultCode) WebhookResponse {
	metrics.Callbacks.WithLabelValues(WebhookSuccess).Inc()
	return WebhookResponse{Status: WebhookSuccess, Message: msg, ResultCode: code}
}

func (s *Service) alert(ctx context.Context, format string, args ...any) {
	s.notifier.Notify(ctx, fmt.Sprintf(format, args...))
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// pretty indents a JSON payload for operator alerts; anything else is returned as-is.
func pretty(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "    "); err != nil {
		return string(raw)
	}
	return buf.String()
}
