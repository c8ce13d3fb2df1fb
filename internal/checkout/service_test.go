package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/storefront/internal/coupons"
	"github.com/commercekit/storefront/internal/domain"
	"github.com/commercekit/storefront/internal/inventory"
	"github.com/commercekit/storefront/internal/orders"
	"github.com/commercekit/storefront/internal/payments"
)

type fakeCatalog struct {
	products map[string]*domain.Product
}

func (f *fakeCatalog) GetByID(_ context.Context, id string) (*domain.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s not found", id)
	}
	return p, nil
}

type fakeCoupons struct {
	coupons   map[string]*domain.Coupon
	redeemed  []string
	redeemErr error
}

func (f *fakeCoupons) GetByCode(_ context.Context, code string) (*domain.Coupon, error) {
	c, ok := f.coupons[code]
	if !ok {
		return nil, coupons.ErrNotFound
	}
	return c, nil
}

func (f *fakeCoupons) Redeem(_ context.Context, code string) (*domain.Coupon, error) {
	if f.redeemErr != nil {
		return nil, f.redeemErr
	}
	f.redeemed = append(f.redeemed, code)
	return f.coupons[code], nil
}

type fakeOrders struct {
	mu        sync.Mutex
	bySession map[string]*domain.Order
	created   int
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{bySession: make(map[string]*domain.Order)}
}

func (f *fakeOrders) Create(_ context.Context, order *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.bySession[order.PaymentSessionID]; exists {
		return orders.ErrDuplicatePaymentSession
	}
	order.ID = fmt.Sprintf("order-%d", f.created+1)
	f.bySession[order.PaymentSessionID] = order
	f.created++
	return nil
}

func (f *fakeOrders) GetByPaymentSession(_ context.Context, sessionID string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bySession[sessionID], nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, id string, to domain.OrderStatus, actor, reason string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, order := range f.bySession {
		if order.ID != id {
			continue
		}
		if err := orders.ValidateTransition(order.Status, to); err != nil {
			return nil, err
		}
		order.StatusHistory = append(order.StatusHistory, domain.StatusChange{
			From: order.Status, To: to, Actor: actor, Reason: reason,
		})
		order.Status = to
		return order, nil
	}
	return nil, orders.ErrNotFound
}

type fakeInventory struct {
	stock       map[string]int
	adjustments []inventory.AdjustmentRequest
}

func stockKey(productID string, variantID *string) string {
	if variantID != nil {
		return productID + "/" + *variantID
	}
	return productID
}

func (f *fakeInventory) CheckAvailability(_ context.Context, productID string, variantID *string, quantity int) (bool, error) {
	return f.stock[stockKey(productID, variantID)] >= quantity, nil
}

func (f *fakeInventory) Adjust(_ context.Context, req inventory.AdjustmentRequest) (*domain.InventoryHistoryEntry, error) {
	key := stockKey(req.ProductID, req.VariantID)
	next := f.stock[key] + req.Delta
	if next < 0 {
		return nil, inventory.ErrInsufficientStock
	}
	f.stock[key] = next
	f.adjustments = append(f.adjustments, req)
	return &domain.InventoryHistoryEntry{
		ProductID:   req.ProductID,
		VariantID:   req.VariantID,
		Adjustment:  req.Delta,
		NewQuantity: next,
		Reason:      req.Reason,
	}, nil
}

type fakeSnapshots struct {
	snaps map[string]*Snapshot
}

func (f *fakeSnapshots) Save(_ context.Context, snap *Snapshot) error {
	f.snaps[snap.SessionID] = snap
	return nil
}

func (f *fakeSnapshots) Get(_ context.Context, sessionID string) (*Snapshot, error) {
	return f.snaps[sessionID], nil
}

type fakeProvider struct {
	requests []payments.SessionRequest
	err      error
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req payments.SessionRequest) (*payments.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &payments.Session{
		ID:          fmt.Sprintf("cs_test_%d", len(f.requests)),
		IntentID:    "pi_pending",
		RedirectURL: "https://checkout.example.com/pay",
	}, nil
}

type fakePublisher struct {
	events []any
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, event any) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type fixture struct {
	service   *Service
	catalog   *fakeCatalog
	coupons   *fakeCoupons
	orders    *fakeOrders
	inventory *fakeInventory
	snapshots *fakeSnapshots
	provider  *fakeProvider
	publisher *fakePublisher
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		catalog: &fakeCatalog{products: map[string]*domain.Product{
			"prod-1": {ID: "prod-1", Name: "Field Notebook", Price: 1500},
			"prod-2": {ID: "prod-2", Name: "Pen Set", Price: 900},
		}},
		coupons:   &fakeCoupons{coupons: make(map[string]*domain.Coupon)},
		orders:    newFakeOrders(),
		inventory: &fakeInventory{stock: map[string]int{"prod-1": 10, "prod-2": 4}},
		snapshots: &fakeSnapshots{snaps: make(map[string]*Snapshot)},
		provider:  &fakeProvider{},
		publisher: &fakePublisher{},
		now:       now,
	}

	svc, err := NewService(Deps{
		Catalog:   f.catalog,
		Coupons:   f.coupons,
		Orders:    f.orders,
		Inventory: f.inventory,
		Snapshots: f.snapshots,
		Provider:  f.provider,
		Publisher: f.publisher,
		Clock:     func() time.Time { return now },
	})
	require.NoError(t, err)
	f.service = svc
	return f
}

func (f *fixture) createSession(t *testing.T, req CreateSessionRequest) *SessionResponse {
	t.Helper()
	if req.SuccessURL == "" {
		req.SuccessURL = "https://shop.example.com/success"
	}
	if req.CancelURL == "" {
		req.CancelURL = "https://shop.example.com/cancel"
	}
	resp, err := f.service.CreateSession(context.Background(), req)
	require.NoError(t, err)
	return resp
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)
	f.coupons.coupons["SAVE20"] = &domain.Coupon{
		Code:            "SAVE20",
		DiscountPercent: 20,
		ExpiresAt:       f.now.Add(24 * time.Hour),
		Active:          true,
	}

	resp := f.createSession(t, CreateSessionRequest{
		UserID: "user-1",
		Lines: []domain.CartLine{
			{ProductID: "prod-1", Quantity: 2},
			{ProductID: "prod-2", Quantity: 1},
		},
		CouponCode: "SAVE20",
	})

	// 2*1500 + 900 = 3900; 20% off = 780.
	assert.Equal(t, int64(3900), resp.Totals.Subtotal)
	assert.Equal(t, int64(780), resp.Totals.Discount)
	assert.Equal(t, int64(3120), resp.Totals.Total)
	assert.Equal(t, "https://checkout.example.com/pay", resp.RedirectURL)

	require.Len(t, f.provider.requests, 1)
	sent := f.provider.requests[0]
	assert.NotEmpty(t, sent.IdempotencyKey)
	assert.Equal(t, "user-1", sent.Metadata["user_id"])
	assert.Equal(t, "SAVE20", sent.Metadata["coupon_code"])
	require.Len(t, sent.Items, 2)
	assert.Equal(t, int64(1500), sent.Items[0].UnitAmount)

	snap := f.snapshots.snaps[resp.SessionID]
	require.NotNil(t, snap)
	assert.Equal(t, int64(3120), snap.Total)
	require.NotNil(t, snap.CouponCode)
	assert.Equal(t, "SAVE20", *snap.CouponCode)

	// Session creation holds no reservation.
	assert.Equal(t, 10, f.inventory.stock["prod-1"])
}

func TestCreateSession_InsufficientStock(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateSession(context.Background(), CreateSessionRequest{
		UserID:     "user-1",
		Lines:      []domain.CartLine{{ProductID: "prod-2", Quantity: 5}},
		SuccessURL: "https://shop.example.com/success",
		CancelURL:  "https://shop.example.com/cancel",
	})

	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Empty(t, f.provider.requests)
}

func TestCreateSession_CouponRejected(t *testing.T) {
	f := newFixture(t)
	f.coupons.coupons["OLD"] = &domain.Coupon{
		Code:            "OLD",
		DiscountPercent: 10,
		ExpiresAt:       f.now.Add(-time.Hour),
		Active:          true,
	}

	lines := []domain.CartLine{{ProductID: "prod-1", Quantity: 1}}

	t.Run("expired", func(t *testing.T) {
		_, err := f.service.CreateSession(context.Background(), CreateSessionRequest{
			UserID:     "user-1",
			Lines:      lines,
			CouponCode: "OLD",
			SuccessURL: "https://shop.example.com/success",
			CancelURL:  "https://shop.example.com/cancel",
		})
		require.ErrorIs(t, err, ErrCouponRejected)
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := f.service.CreateSession(context.Background(), CreateSessionRequest{
			UserID:     "user-1",
			Lines:      lines,
			CouponCode: "NOPE",
			SuccessURL: "https://shop.example.com/success",
			CancelURL:  "https://shop.example.com/cancel",
		})
		require.ErrorIs(t, err, ErrCouponRejected)
	})

	// A named but invalid coupon must never fall back to full price.
	assert.Empty(t, f.provider.requests)
}

func TestConfirmPayment(t *testing.T) {
	f := newFixture(t)
	f.coupons.coupons["SAVE20"] = &domain.Coupon{
		Code:            "SAVE20",
		DiscountPercent: 20,
		ExpiresAt:       f.now.Add(24 * time.Hour),
		Active:          true,
	}

	resp := f.createSession(t, CreateSessionRequest{
		UserID:     "user-1",
		Lines:      []domain.CartLine{{ProductID: "prod-1", Quantity: 3}},
		CouponCode: "SAVE20",
	})

	result, err := f.service.ConfirmPayment(context.Background(), resp.SessionID, "pi_123")
	require.NoError(t, err)
	require.NotNil(t, result.Order)
	assert.False(t, result.AlreadyProcessed)

	order := result.Order
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.Equal(t, resp.SessionID, order.PaymentSessionID)
	assert.Equal(t, "pi_123", order.PaymentIntentID)
	assert.Equal(t, int64(3600), order.Total)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.Equal(t, int64(1500), order.Items[0].Price)

	assert.Equal(t, 7, f.inventory.stock["prod-1"])
	require.Len(t, f.inventory.adjustments, 1)
	assert.Equal(t, domain.ReasonSale, f.inventory.adjustments[0].Reason)

	assert.Equal(t, []string{"SAVE20"}, f.coupons.redeemed)

	require.Len(t, f.publisher.events, 1)
	event, ok := f.publisher.events[0].(domain.OrderCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, order.ID, event.OrderID)
	assert.Equal(t, resp.SessionID, event.PaymentSessionID)
}

func TestConfirmPayment_Idempotent(t *testing.T) {
	f := newFixture(t)
	resp := f.createSession(t, CreateSessionRequest{
		UserID: "user-1",
		Lines:  []domain.CartLine{{ProductID: "prod-1", Quantity: 2}},
	})

	first, err := f.service.ConfirmPayment(context.Background(), resp.SessionID, "pi_123")
	require.NoError(t, err)
	second, err := f.service.ConfirmPayment(context.Background(), resp.SessionID, "pi_123")
	require.NoError(t, err)

	assert.False(t, first.AlreadyProcessed)
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.Order.ID, second.Order.ID)

	assert.Equal(t, 1, f.orders.created)
	assert.Len(t, f.inventory.adjustments, 1)
	assert.Equal(t, 8, f.inventory.stock["prod-1"])
	assert.Len(t, f.publisher.events, 1)
}

func TestConfirmPayment_DegradesToPendingInventory(t *testing.T) {
	f := newFixture(t)
	resp := f.createSession(t, CreateSessionRequest{
		UserID: "user-1",
		Lines:  []domain.CartLine{{ProductID: "prod-2", Quantity: 3}},
	})

	// Stock drains between session creation and payment confirmation.
	f.inventory.stock["prod-2"] = 1

	result, err := f.service.ConfirmPayment(context.Background(), resp.SessionID, "pi_123")
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPendingInventory, result.Order.Status)
	assert.Equal(t, 1, f.inventory.stock["prod-2"])
	assert.Equal(t, 1, f.orders.created)
	require.Len(t, f.publisher.events, 1)
	event := f.publisher.events[0].(domain.OrderCompletedEvent)
	assert.Equal(t, domain.OrderStatusPendingInventory, event.Status)
}

func TestConfirmPayment_UnknownSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.ConfirmPayment(context.Background(), "cs_missing", "pi_123")

	require.ErrorIs(t, err, ErrUnknownSession)
	assert.Equal(t, 0, f.orders.created)
}

func TestNewService_RequiresCouponStore(t *testing.T) {
	f := newFixture(t)

	_, err := NewService(Deps{
		Catalog:   f.catalog,
		Orders:    f.orders,
		Inventory: f.inventory,
		Snapshots: f.snapshots,
		Provider:  f.provider,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required dependency")
}

// staleReadOrders hides existing orders from the duplicate check a set
// number of times, simulating a second delivery racing past that check
// before the first delivery's insert lands.
type staleReadOrders struct {
	*fakeOrders
	misses int
}

func (s *staleReadOrders) GetByPaymentSession(ctx context.Context, sessionID string) (*domain.Order, error) {
	if s.misses > 0 {
		s.misses--
		return nil, nil
	}
	return s.fakeOrders.GetByPaymentSession(ctx, sessionID)
}

func TestConfirmPayment_ConcurrentDeliveryDecrementsOnce(t *testing.T) {
	f := newFixture(t)
	racing := &staleReadOrders{fakeOrders: f.orders}

	svc, err := NewService(Deps{
		Catalog:   f.catalog,
		Coupons:   f.coupons,
		Orders:    racing,
		Inventory: f.inventory,
		Snapshots: f.snapshots,
		Provider:  f.provider,
		Publisher: f.publisher,
		Clock:     func() time.Time { return f.now },
	})
	require.NoError(t, err)

	resp, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		UserID:     "user-1",
		Lines:      []domain.CartLine{{ProductID: "prod-1", Quantity: 2}},
		SuccessURL: "https://shop.example.com/success",
		CancelURL:  "https://shop.example.com/cancel",
	})
	require.NoError(t, err)

	first, err := svc.ConfirmPayment(context.Background(), resp.SessionID, "pi_123")
	require.NoError(t, err)
	require.False(t, first.AlreadyProcessed)

	// Second delivery's duplicate check misses the existing order; the unique
	// session claim must still stop it before touching stock.
	racing.misses = 1
	second, err := svc.ConfirmPayment(context.Background(), resp.SessionID, "pi_123")
	require.NoError(t, err)

	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 1, f.orders.created)
	assert.Len(t, f.inventory.adjustments, 1)
	assert.Equal(t, 8, f.inventory.stock["prod-1"])
}

func TestConfirmPayment_CouponRedeemFailureDoesNotBlockOrder(t *testing.T) {
	f := newFixture(t)
	f.coupons.coupons["SAVE20"] = &domain.Coupon{
		Code:            "SAVE20",
		DiscountPercent: 20,
		ExpiresAt:       f.now.Add(24 * time.Hour),
		Active:          true,
	}
	resp := f.createSession(t, CreateSessionRequest{
		UserID:     "user-1",
		Lines:      []domain.CartLine{{ProductID: "prod-1", Quantity: 1}},
		CouponCode: "SAVE20",
	})

	f.coupons.redeemErr = errors.New("coupon store unavailable")

	result, err := f.service.ConfirmPayment(context.Background(), resp.SessionID, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, result.Order.Status)
	assert.Equal(t, 1, f.orders.created)
}
