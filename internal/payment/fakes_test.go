package payment

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/datatypes"

	"mpesa-billing/internal/config"
	"mpesa-billing/internal/events"
	"mpesa-billing/internal/models"
	"mpesa-billing/internal/mpesa"
	"mpesa-billing/internal/recharge"
	"mpesa-billing/internal/store"
)

// memTransactions is an in-memory TransactionStore. Resolve holds a store-wide
// lock around the callback the way the database holds the row lock.
type memTransactions struct {
	mu        sync.Mutex
	resolveMu sync.Mutex
	rows      map[uint]*models.Transaction
	// updateErr fails the write that follows a successful resolve callback.
	updateErr error
}

func newMemTransactions(rows ...models.Transaction) *memTransactions {
	m := &memTransactions{rows: make(map[uint]*models.Transaction)}
	for i := range rows {
		row := rows[i]
		m.rows[row.ID] = &row
	}
	return m
}

func (m *memTransactions) get(id uint) models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

func (m *memTransactions) FindByID(_ context.Context, id uint) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *memTransactions) FindActiveForUser(_ context.Context, username string, id uint) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Username != username || row.Status != models.StatusPending {
		return nil, store.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *memTransactions) FindByCheckoutID(_ context.Context, checkoutID string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if checkoutID != "" && row.GatewayTrxID == checkoutID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memTransactions) AttachCheckout(_ context.Context, id uint, checkoutID string, raw []byte, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != models.StatusPending {
		return store.ErrNotFound
	}
	row.GatewayTrxID = checkoutID
	row.PgRequest = datatypes.JSON(raw)
	row.ExpiredDate = &expiresAt
	return nil
}

func (m *memTransactions) Resolve(_ context.Context, id uint, fn store.ResolveFunc) (*models.Transaction, bool, error) {
	m.resolveMu.Lock()
	defer m.resolveMu.Unlock()

	locked, err := m.FindByID(context.Background(), id)
	if err != nil {
		return nil, false, err
	}
	if locked.Status != models.StatusPending {
		return locked, false, nil
	}

	res, err := fn(locked)
	if err != nil {
		return nil, false, err
	}
	if res == nil {
		return locked, false, nil
	}
	if m.updateErr != nil {
		return nil, false, m.updateErr
	}

	m.mu.Lock()
	row := m.rows[id]
	row.Status = res.Status
	row.PgPaidResponse = datatypes.JSON(res.Response)
	if res.Status == models.StatusCompleted {
		paid := res.PaidDate
		row.PaidDate = &paid
		row.PaymentMethod = res.Method
		row.PaymentChannel = res.Method
	}
	cp := *row
	m.mu.Unlock()

	return &cp, true, nil
}

type memCustomers map[string]*models.Customer

func (m memCustomers) FindByUsername(_ context.Context, username string) (*models.Customer, error) {
	if c, ok := m[username]; ok {
		return c, nil
	}
	return nil, store.ErrNotFound
}

type fakeActivator struct {
	calls atomic.Int32
	err   error
	delay time.Duration
	last  recharge.RechargeRequest
	mu    sync.Mutex
}

func (a *fakeActivator) Recharge(_ context.Context, req recharge.RechargeRequest) error {
	a.calls.Add(1)
	time.Sleep(a.delay)
	a.mu.Lock()
	a.last = req
	a.mu.Unlock()
	return a.err
}

type fakeGateway struct {
	cfg         config.Mpesa
	pushResult  *mpesa.StkPushResult
	pushErr     error
	status      *mpesa.StatusResult
	statusErr   error
	pushCalls   atomic.Int32
	statusCalls atomic.Int32
	lastPush    mpesa.StkPushRequest
}

func (g *fakeGateway) Config() config.Mpesa { return g.cfg }

func (g *fakeGateway) SendStkPush(_ context.Context, req mpesa.StkPushRequest) (*mpesa.StkPushResult, error) {
	g.pushCalls.Add(1)
	g.lastPush = req
	return g.pushResult, g.pushErr
}

func (g *fakeGateway) CheckTransactionStatus(context.Context, string) (*mpesa.StatusResult, error) {
	g.statusCalls.Add(1)
	return g.status, g.statusErr
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) all() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}
