package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NAVEED261/Reusable-shop/internal/inventory"
	"github.com/NAVEED261/Reusable-shop/internal/payments"
)

// PaymentGateway is the slice of the provider client the service needs.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req payments.IntentRequest) (*payments.Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*payments.Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
}

type ServiceConfig struct {
	Producer          string
	Currency          string
	PriceToleranceBPS int64
	ReservationTTL    time.Duration
}

type Service struct {
	store    Store
	catalog  Catalog
	ledger   inventory.Ledger
	gateway  PaymentGateway
	notifier Notifier
	idem     IdempotencyIndex
	logger   *zap.Logger
	tracer   trace.Tracer
	cfg      ServiceConfig
	now      func() time.Time
}

func NewService(store Store, catalog Catalog, ledger inventory.Ledger, gateway PaymentGateway, notifier Notifier, logger *zap.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Currency == "" {
		cfg.Currency = "pkr"
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 30 * time.Minute
	}
	return &Service{
		store:    store,
		catalog:  catalog,
		ledger:   ledger,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer("orders"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// UseIdempotencyIndex installs the optional fast-path key lookup.
func (s *Service) UseIdempotencyIndex(idx IdempotencyIndex) { s.idem = idx }

type CheckoutResult struct {
	Order *Order
	// ClientSecret is only present when this call created the intent; a
	// replayed checkout re-fetches it through EnsureIntent.
	ClientSecret string
	Replayed     bool
}

// CreateOrder turns a checkout request into a durable order: price check,
// idempotent replay detection, all-or-nothing reservation, persistence in
// `created`, then intent creation moving it to `awaiting_payment`.
func (s *Service) CreateOrder(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "orders.CreateOrder")
	defer span.End()

	if in.Currency == "" {
		in.Currency = s.cfg.Currency
	}
	if err := validateCheckout(in); err != nil {
		return nil, err
	}
	fp := in.Fingerprint()

	if s.idem != nil {
		if id, ok := s.idem.OrderIDForKey(ctx, in.IdempotencyKey); ok {
			if existing, err := s.store.OrderByID(ctx, id); err == nil {
				if existing.Fingerprint != fp {
					return nil, ErrIdempotencyConflict
				}
				return &CheckoutResult{Order: existing, Replayed: true}, nil
			}
			// stale hint, fall through to the durable lookup
		}
	}
	if existing, err := s.store.OrderByIdempotencyKey(ctx, in.IdempotencyKey); err == nil {
		if existing.Fingerprint != fp {
			return nil, ErrIdempotencyConflict
		}
		s.rememberKey(ctx, in.IdempotencyKey, existing.ID)
		return &CheckoutResult{Order: existing, Replayed: true}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	items, total, err := s.priceItems(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout rejected")
		return nil, err
	}

	orderID := uuid.NewString()
	lines := make([]inventory.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Qty: it.Qty})
	}
	if err := s.ledger.Reserve(ctx, orderID, lines, s.now().Add(s.cfg.ReservationTTL)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reservation failed")
		return nil, err
	}

	now := s.now().UTC()
	o := &Order{
		ID:              orderID,
		CustomerID:      in.CustomerID,
		Email:           in.Email,
		ShippingAddress: in.ShippingAddress,
		Currency:        in.Currency,
		Status:          StatusCreated,
		TotalCents:      total,
		Items:           items,
		IdempotencyKey:  in.IdempotencyKey,
		Fingerprint:     fp,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	note, err := CreatedRow(ctx, s.cfg.Producer, o)
	if err != nil {
		s.release(ctx, orderID)
		return nil, err
	}
	stored, created, err := s.store.CreateOrder(ctx, o, note)
	if err != nil {
		s.release(ctx, orderID)
		return nil, err
	}
	if !created {
		// Lost a same-key race; the winner's reservation stands, drop ours.
		s.release(ctx, orderID)
		if stored.Fingerprint != fp {
			return nil, ErrIdempotencyConflict
		}
		return &CheckoutResult{Order: stored, Replayed: true}, nil
	}
	s.rememberKey(ctx, in.IdempotencyKey, orderID)

	intent, updated, err := s.attachIntent(ctx, o, in.Email)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{Order: updated, ClientSecret: intent.ClientSecret}, nil
}

func (s *Service) rememberKey(ctx context.Context, key, orderID string) {
	if s.idem != nil {
		s.idem.RememberKey(ctx, key, orderID)
	}
}

func validateCheckout(in CheckoutInput) error {
	if in.IdempotencyKey == "" {
		return validationf("idempotency key required")
	}
	if in.CustomerID == "" {
		return validationf("customer_id required")
	}
	if in.ShippingAddress == "" {
		return validationf("shipping_address required")
	}
	if len(in.Items) == 0 {
		return validationf("at least one item required")
	}
	seen := make(map[string]bool, len(in.Items))
	for _, it := range in.Items {
		if it.ProductID == "" {
			return validationf("item product_id required")
		}
		if it.Qty <= 0 {
			return validationf("invalid qty %d for product %s", it.Qty, it.ProductID)
		}
		if it.UnitPriceCents <= 0 {
			return validationf("invalid unit price for product %s", it.ProductID)
		}
		if seen[it.ProductID] {
			return validationf("duplicate line for product %s", it.ProductID)
		}
		seen[it.ProductID] = true
	}
	return nil
}

// priceItems validates every quoted price against the catalog. Any deviation
// beyond the tolerance fails the whole checkout with the current prices
// attached so the caller can re-confirm.
func (s *Service) priceItems(ctx context.Context, in CheckoutInput) ([]LineItem, int64, error) {
	ids := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.catalog.ProductsByID(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("load products: %w", err)
	}

	var stale []PriceDeviation
	items := make([]LineItem, 0, len(in.Items))
	var total int64
	for _, it := range in.Items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, 0, validationf("unknown product %s", it.ProductID)
		}
		if priceDiverged(it.UnitPriceCents, p.PriceCents, s.cfg.PriceToleranceBPS) {
			stale = append(stale, PriceDeviation{
				ProductID:    it.ProductID,
				QuotedCents:  it.UnitPriceCents,
				CurrentCents: p.PriceCents,
			})
			continue
		}
		items = append(items, LineItem{ProductID: it.ProductID, Qty: it.Qty, UnitPriceCents: it.UnitPriceCents})
		total += it.UnitPriceCents * it.Qty
	}
	if len(stale) > 0 {
		return nil, 0, &PriceStaleError{Items: stale}
	}
	return items, total, nil
}

func priceDiverged(quoted, current, toleranceBPS int64) bool {
	diff := quoted - current
	if diff < 0 {
		diff = -diff
	}
	// tolerance is in basis points of the current price
	return diff*10_000 > current*toleranceBPS
}

// attachIntent creates the provider intent and flips created→awaiting_payment
// with the intent id in one conditional update. A provider failure fails the
// order and releases its hold: the customer is never left awaiting payment
// with nothing to pay against.
func (s *Service) attachIntent(ctx context.Context, o *Order, email string) (*payments.Intent, *Order, error) {
	intent, err := s.gateway.CreateIntent(ctx, payments.IntentRequest{
		AmountCents:  o.TotalCents,
		Currency:     o.Currency,
		OrderID:      o.ID,
		ReceiptEmail: email,
	})
	if err != nil {
		s.failOrder(ctx, o, failureReasonFor(err))
		return nil, nil, err
	}

	note, err := StatusRow(ctx, s.cfg.Producer, o.ID, StatusCreated, StatusAwaitingPayment, o.Version+1, "")
	if err != nil {
		return nil, nil, err
	}
	updated, err := s.store.AttachIntent(ctx, o.ID, intent.ID, o.Version, note)
	if err != nil {
		// The order moved under us (sweep or concurrent attach); the fresh
		// intent is unreferenced, cancel it best-effort.
		if cancelErr := s.gateway.CancelIntent(ctx, intent.ID); cancelErr != nil {
			s.logger.Warn("cancel dangling intent failed",
				zap.String("order_id", o.ID), zap.String("intent_id", intent.ID), zap.Error(cancelErr))
		}
		return nil, nil, err
	}
	s.notify(ctx, updated)
	return intent, updated, nil
}

func failureReasonFor(err error) string {
	var reqErr *payments.RequestError
	if errors.As(err, &reqErr) {
		return "payment request rejected"
	}
	return "payment provider unavailable"
}

func (s *Service) failOrder(ctx context.Context, o *Order, reason string) {
	if _, err := s.TransitionState(ctx, o.ID, StatusFailed, o.Version, reason); err != nil {
		s.logger.Error("fail order after provider error",
			zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	s.release(ctx, o.ID)
}

func (s *Service) release(ctx context.Context, orderID string) {
	if err := s.ledger.Release(ctx, orderID); err != nil {
		// The orphaned-hold sweep picks this up later.
		s.logger.Error("release reservation failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

// TransitionState applies one legal edge under an optimistic version check.
func (s *Service) TransitionState(ctx context.Context, orderID string, target Status, expectedVersion int64, reason string) (*Order, error) {
	o, err := s.store.OrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Version != expectedVersion {
		return nil, fmt.Errorf("%w: version %d, expected %d", ErrConflict, o.Version, expectedVersion)
	}
	if !CanTransition(o.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrConflict, o.Status, target)
	}

	note, err := StatusRow(ctx, s.cfg.Producer, orderID, o.Status, target, expectedVersion+1, reason)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.Transition(ctx, orderID, o.Status, target, expectedVersion, reason, note)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, updated)
	return updated, nil
}

// EnsureIntent returns a payable intent for the order: creating and attaching
// one if checkout crashed before the attach, or re-fetching the existing one.
func (s *Service) EnsureIntent(ctx context.Context, orderID, email string) (*payments.Intent, *Order, error) {
	o, err := s.store.OrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	switch o.Status {
	case StatusCreated:
		return s.attachIntent(ctx, o, email)
	case StatusAwaitingPayment:
		intent, err := s.gateway.RetrieveIntent(ctx, o.PaymentIntentID)
		if err != nil {
			return nil, nil, err
		}
		return intent, o, nil
	default:
		return nil, nil, fmt.Errorf("%w: no intent for order in %s", ErrConflict, o.Status)
	}
}

// Cancel is the explicit customer cancel: awaiting_payment→cancelled, release
// the hold, and void the provider intent best-effort (the webhook remains the
// source of truth if the void fails).
func (s *Service) Cancel(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.store.OrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusAwaitingPayment {
		return nil, fmt.Errorf("%w: cancel from %s", ErrConflict, o.Status)
	}
	updated, err := s.TransitionState(ctx, orderID, StatusCancelled, o.Version, "customer cancelled")
	if err != nil {
		return nil, err
	}
	s.release(ctx, orderID)
	if o.PaymentIntentID != "" {
		if err := s.gateway.CancelIntent(ctx, o.PaymentIntentID); err != nil {
			s.logger.Warn("provider intent cancel failed",
				zap.String("order_id", orderID), zap.String("intent_id", o.PaymentIntentID), zap.Error(err))
		}
	}
	return updated, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return s.store.OrderByID(ctx, orderID)
}

func (s *Service) ListOrders(ctx context.Context, customerID string, limit int) ([]*Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.store.OrdersByCustomer(ctx, customerID, limit)
}

// IntentStatus resolves an intent id to our order plus the provider's view.
func (s *Service) IntentStatus(ctx context.Context, intentID string) (*payments.Intent, *Order, error) {
	o, err := s.store.OrderByIntent(ctx, intentID)
	if err != nil {
		return nil, nil, err
	}
	intent, err := s.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		return nil, nil, err
	}
	return intent, o, nil
}

func (s *Service) Products(ctx context.Context) ([]Product, error) {
	return s.catalog.ListProducts(ctx)
}

func (s *Service) notify(ctx context.Context, o *Order) {
	if s.notifier != nil {
		s.notifier.OrderChanged(ctx, o)
	}
}
