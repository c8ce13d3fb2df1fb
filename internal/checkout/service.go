// Package checkout orchestrates the two-phase purchase flow: open a
// payment session from a cart snapshot, then reconcile the confirmed
// payment into an order, inventory decrements, and coupon usage.
package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/commercekit/storefront/internal/cart"
	"github.com/commercekit/storefront/internal/coupons"
	"github.com/commercekit/storefront/internal/domain"
	"github.com/commercekit/storefront/internal/inventory"
	"github.com/commercekit/storefront/internal/messaging"
	"github.com/commercekit/storefront/internal/orders"
	"github.com/commercekit/storefront/internal/payments"
	"github.com/commercekit/storefront/internal/telemetry"
)

var (
	ErrInvalidInput = errors.New("checkout: invalid input")
	// ErrInsufficientStock rejects session creation when the advisory
	// availability check fails for any line.
	ErrInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCouponRejected means a named coupon failed validation; the
	// wrapped message carries the reason.
	ErrCouponRejected = errors.New("checkout: coupon rejected")
	// ErrUnknownSession means a payment event referenced a session this
	// service never created.
	ErrUnknownSession = errors.New("checkout: unknown payment session")
)

type catalogStore interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
}

type couponStore interface {
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)
	Redeem(ctx context.Context, code string) (*domain.Coupon, error)
}

type orderStore interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByPaymentSession(ctx context.Context, sessionID string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, id string, to domain.OrderStatus, actor, reason string) (*domain.Order, error)
}

type inventoryEngine interface {
	CheckAvailability(ctx context.Context, productID string, variantID *string, quantity int) (bool, error)
	Adjust(ctx context.Context, req inventory.AdjustmentRequest) (*domain.InventoryHistoryEntry, error)
}

type snapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Get(ctx context.Context, sessionID string) (*Snapshot, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Catalog     catalogStore
	Coupons     couponStore
	Orders      orderStore
	Inventory   inventoryEngine
	Snapshots   snapshotStore
	Provider    payments.Provider
	Publisher   eventPublisher
	Instruments *telemetry.Instruments
	Logger      *slog.Logger
	Clock       func() time.Time
}

type Service struct {
	catalog     catalogStore
	coupons     couponStore
	orders      orderStore
	inventory   inventoryEngine
	snapshots   snapshotStore
	provider    payments.Provider
	publisher   eventPublisher
	instruments *telemetry.Instruments
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(deps Deps) (*Service, error) {
	if deps.Catalog == nil || deps.Coupons == nil || deps.Orders == nil ||
		deps.Inventory == nil || deps.Snapshots == nil || deps.Provider == nil {
		return nil, errors.New("checkout service: missing required dependency")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		catalog:     deps.Catalog,
		coupons:     deps.Coupons,
		orders:      deps.Orders,
		inventory:   deps.Inventory,
		snapshots:   deps.Snapshots,
		provider:    deps.Provider,
		publisher:   deps.Publisher,
		instruments: deps.Instruments,
		logger:      logger,
		now:         func() time.Time { return clock().UTC() },
	}, nil
}

// CreateSessionRequest opens phase one of checkout.
type CreateSessionRequest struct {
	UserID     string
	Lines      []domain.CartLine
	CouponCode string
	SuccessURL string
	CancelURL  string
}

type SessionResponse struct {
	SessionID   string      `json:"session_id"`
	RedirectURL string      `json:"redirect_url"`
	Totals      cart.Totals `json:"totals"`
}

// CreateSession validates stock availability for every line (advisory
// only, no reservation is held), prices the cart, opens a Stripe
// session, and persists the snapshot consulted at confirmation time.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*SessionResponse, error) {
	if req.UserID == "" || len(req.Lines) == 0 || req.SuccessURL == "" || req.CancelURL == "" {
		return nil, ErrInvalidInput
	}

	priced := make([]cart.PricedLine, 0, len(req.Lines))
	items := make([]payments.LineItem, 0, len(req.Lines))
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
		}

		product, err := s.catalog.GetByID(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}

		ok, err := s.inventory.CheckAvailability(ctx, line.ProductID, line.VariantID, line.Quantity)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: product %s", ErrInsufficientStock, line.ProductID)
		}

		unitPrice := product.EffectivePrice(line.VariantID)
		priced = append(priced, cart.PricedLine{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			UnitPrice: unitPrice,
		})
		sku := line.ProductID
		if line.VariantID != nil {
			sku = *line.VariantID
		}
		items = append(items, payments.LineItem{
			Name:       product.Name,
			SKU:        sku,
			UnitAmount: unitPrice,
			Quantity:   int64(line.Quantity),
		})
	}

	var coupon *domain.Coupon
	if req.CouponCode != "" {
		var err error
		coupon, err = s.coupons.GetByCode(ctx, req.CouponCode)
		if err != nil {
			if errors.Is(err, coupons.ErrNotFound) {
				return nil, fmt.Errorf("%w: no such coupon", ErrCouponRejected)
			}
			return nil, err
		}
		if result := cart.ValidateCoupon(coupon, req.UserID, s.now()); !result.Valid {
			return nil, fmt.Errorf("%w: %s", ErrCouponRejected, result.Reason)
		}
	}

	totals := cart.ComputeTotals(priced, coupon, req.UserID, s.now())

	metadata := map[string]string{"user_id": req.UserID}
	if coupon != nil {
		metadata["coupon_code"] = coupon.Code
	}

	session, err := s.provider.CreateCheckoutSession(ctx, payments.SessionRequest{
		UserID:         req.UserID,
		Currency:       "usd",
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		IdempotencyKey: snapshotFingerprint(req.UserID, priced, req.CouponCode),
		Metadata:       metadata,
		Items:          items,
	})
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		SessionID: session.ID,
		UserID:    req.UserID,
		Lines:     priced,
		Subtotal:  totals.Subtotal,
		Discount:  totals.Discount,
		Total:     totals.Total,
		CreatedAt: s.now(),
	}
	if coupon != nil {
		snap.CouponCode = &coupon.Code
	}
	if err := s.snapshots.Save(ctx, snap); err != nil {
		return nil, err
	}

	if s.instruments != nil {
		s.instruments.CheckoutSessions.Add(ctx, 1)
	}
	s.logger.Info("checkout session created",
		"session_id", session.ID, "user_id", req.UserID, "total", totals.Total)

	return &SessionResponse{
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		Totals:      totals,
	}, nil
}

// ConfirmResult reports the order produced by a payment event and
// whether this delivery was a replay.
type ConfirmResult struct {
	Order            *domain.Order `json:"order"`
	AlreadyProcessed bool          `json:"already_processed"`
}

// ConfirmPayment reconciles a confirmed payment into an order. Deliveries
// are at-least-once; the payment session id is the idempotency key, and a
// replay returns the previously created order with no further side
// effects. Payment is already captured when this runs, so stock shortfall
// degrades the order to pending_inventory instead of rejecting it.
func (s *Service) ConfirmPayment(ctx context.Context, sessionID, paymentIntentID string) (*ConfirmResult, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}

	existing, err := s.orders.GetByPaymentSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if s.instruments != nil {
			s.instruments.WebhookReplays.Add(ctx, 1)
		}
		s.logger.Info("payment event replayed; returning prior result",
			"session_id", sessionID, "order_id", existing.ID)
		return &ConfirmResult{Order: existing, AlreadyProcessed: true}, nil
	}

	snap, err := s.snapshots.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrUnknownSession
	}

	// The insert claims the session id: the unique constraint on
	// payment_session_id arbitrates between concurrent deliveries, so
	// inventory runs at most once per session. The order starts as
	// pending_inventory and is promoted once every line decremented.
	order := &domain.Order{
		UserID:           snap.UserID,
		Items:            snapshotItems(snap),
		Subtotal:         snap.Subtotal,
		Discount:         snap.Discount,
		Total:            snap.Total,
		CouponCode:       snap.CouponCode,
		PaymentSessionID: sessionID,
		PaymentIntentID:  paymentIntentID,
		Status:           domain.OrderStatusPendingInventory,
		CreatedAt:        s.now(),
	}
	if err := s.orders.Create(ctx, order); err != nil {
		if errors.Is(err, orders.ErrDuplicatePaymentSession) {
			existing, lookupErr := s.orders.GetByPaymentSession(ctx, sessionID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing != nil {
				if s.instruments != nil {
					s.instruments.WebhookReplays.Add(ctx, 1)
				}
				s.logger.Info("payment event lost the session claim; returning prior result",
					"session_id", sessionID, "order_id", existing.ID)
				return &ConfirmResult{Order: existing, AlreadyProcessed: true}, nil
			}
		}
		return nil, fmt.Errorf("create order for session %s: %w", sessionID, err)
	}

	allDecremented := true
	for _, line := range snap.Lines {
		_, err := s.inventory.Adjust(ctx, inventory.AdjustmentRequest{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Delta:     -line.Quantity,
			Reason:    domain.ReasonSale,
			ActorID:   "checkout",
			Metadata:  map[string]string{"payment_session_id": sessionID, "order_id": order.ID},
		})
		if err != nil {
			allDecremented = false
			s.logger.Warn("stock decrement failed at confirmation; order stays pending_inventory",
				"session_id", sessionID, "product_id", line.ProductID, "error", err)
		}
	}

	if allDecremented {
		updated, err := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusCompleted,
			"checkout", "stock decremented")
		if err != nil {
			// The obligation is recorded either way; the order can be
			// promoted manually through the status endpoint.
			s.logger.Error("failed to promote order after decrements",
				"order_id", order.ID, "error", err)
		} else {
			order = updated
		}
	}

	if snap.CouponCode != nil {
		if _, err := s.coupons.Redeem(ctx, *snap.CouponCode); err != nil {
			// The order stands; coupon bookkeeping is recoverable.
			s.logger.Error("failed to redeem coupon after payment",
				"session_id", sessionID, "coupon", *snap.CouponCode, "error", err)
		}
	}

	if s.publisher != nil {
		event := domain.OrderCompletedEvent{
			OrderID:          order.ID,
			UserID:           order.UserID,
			Status:           order.Status,
			Total:            order.Total,
			Items:            order.Items,
			PaymentSessionID: sessionID,
			Timestamp:        order.CreatedAt,
		}
		if err := s.publisher.Publish(ctx, order.ID, event); err != nil {
			s.logger.Error("failed to publish order completed event",
				"order_id", order.ID, "error", err)
		}
	}

	if s.instruments != nil {
		s.instruments.OrdersCreated.Add(ctx, 1)
	}
	s.logger.Info("payment confirmed",
		"session_id", sessionID, "order_id", order.ID, "status", order.Status)

	return &ConfirmResult{Order: order}, nil
}

func snapshotItems(snap *Snapshot) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(snap.Lines))
	for _, line := range snap.Lines {
		items = append(items, domain.OrderItem{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			Price:     line.UnitPrice,
		})
	}
	return items
}

// snapshotFingerprint derives a stable idempotency key from the checkout
// contents so a retried session request does not open a second PSP
// session.
func snapshotFingerprint(userID string, lines []cart.PricedLine, couponCode string) string {
	parts := make([]string, 0, len(lines)+2)
	parts = append(parts, userID, couponCode)
	for _, line := range lines {
		key := line.ProductID
		if line.VariantID != nil {
			key += "/" + *line.VariantID
		}
		parts = append(parts, key+":"+strconv.Itoa(line.Quantity)+":"+strconv.FormatInt(line.UnitPrice, 10))
	}
	sort.Strings(parts[2:])

	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

var _ eventPublisher = (*messaging.Producer)(nil)
