package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/fish-market/internal/core/domain"
	"github.com/rl1809/fish-market/internal/metrics"
	"github.com/rl1809/fish-market/internal/port"
)

const (
	DefaultMaxSlipBytes        = 5 << 20
	defaultCompensationTimeout = 10 * time.Second
	defaultPublishTimeout      = time.Second
)

var allowedSlipTypes = map[string][]string{
	"image/jpeg": {".jpg", ".jpeg"},
	"image/png":  {".png"},
}

type CheckoutRequest struct {
	CustomerID     string
	IdempotencyKey string
	Slip           *domain.SlipUpload
}

type CheckoutDeps struct {
	Catalog  port.CatalogRepository
	Carts    port.CartRepository
	Payments port.PaymentRepository
	Slips    port.SlipStorage

	// optional
	Idempotency port.IdempotencyStore
	Events      port.EventPublisher
	Cache       port.CartCache
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// CheckoutService converts a cart into a pending payment, decrements stock
// and clears the cart. Either all three effects are kept or none.
type CheckoutService struct {
	catalog      port.CatalogRepository
	carts        port.CartRepository
	payments     port.PaymentRepository
	slips        port.SlipStorage
	idem         port.IdempotencyStore
	events       port.EventPublisher
	cache        port.CartCache
	metrics      *metrics.Metrics
	logger       *zap.Logger
	maxSlipBytes int64
	undoTimeout  time.Duration
	pubTimeout   time.Duration
	now          func() time.Time
}

func NewCheckoutService(deps CheckoutDeps, maxSlipBytes int64) *CheckoutService {
	if maxSlipBytes <= 0 {
		maxSlipBytes = DefaultMaxSlipBytes
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutService{
		catalog:      deps.Catalog,
		carts:        deps.Carts,
		payments:     deps.Payments,
		slips:        deps.Slips,
		idem:         deps.Idempotency,
		events:       deps.Events,
		cache:        deps.Cache,
		metrics:      deps.Metrics,
		logger:       logger,
		maxSlipBytes: maxSlipBytes,
		undoTimeout:  defaultCompensationTimeout,
		pubTimeout:   defaultPublishTimeout,
		now:          time.Now,
	}
}

func (s *CheckoutService) MaxSlipBytes() int64 {
	return s.maxSlipBytes
}

type checkoutLine struct {
	item     *domain.CatalogItem
	quantity int
}

// checkoutPlan is what validation observed. The cart version pins the cart
// that was priced so a later write is never cleared unseen.
type checkoutPlan struct {
	cartVersion int
	lines       []checkoutLine
	total       decimal.Decimal
}

func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*domain.PaymentRecord, error) {
	if req.CustomerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrInvalidArgument)
	}
	log := s.logger.With(zap.String("customer_id", req.CustomerID))

	if req.IdempotencyKey != "" && s.idem != nil {
		key := fmt.Sprintf("checkout:%s:%s", req.CustomerID, req.IdempotencyKey)
		ok, err := s.idem.SetIdempotency(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: idempotency check failed: %v", domain.ErrCheckoutFailed, err)
		}
		if !ok {
			s.metrics.ObserveCheckout(domain.CheckoutStateRejected.String())
			return nil, domain.ErrDuplicateRequest
		}
		payment, state, err := s.run(ctx, req, log)
		if err != nil {
			// only a completed checkout keeps its key
			s.releaseKey(key, log)
		}
		s.metrics.ObserveCheckout(state.String())
		return payment, err
	}

	payment, state, err := s.run(ctx, req, log)
	s.metrics.ObserveCheckout(state.String())
	return payment, err
}

func (s *CheckoutService) run(ctx context.Context, req CheckoutRequest, log *zap.Logger) (*domain.PaymentRecord, domain.CheckoutState, error) {
	state := domain.CheckoutStateIdle
	transition := func(next domain.CheckoutState) {
		log.Debug("checkout state", zap.Stringer("from", state), zap.Stringer("to", next), zap.Bool("terminal", next.IsTerminal()))
		state = next
	}

	transition(domain.CheckoutStateValidating)
	plan, err := s.validate(ctx, req)
	if err != nil {
		transition(domain.CheckoutStateRejected)
		return nil, state, err
	}

	transition(domain.CheckoutStateCommitting)
	var undo compensationLog
	payment, err := s.commit(ctx, req, plan, &undo, log)
	if err != nil {
		if undo.len() == 0 {
			transition(domain.CheckoutStateRejected)
			return nil, state, err
		}
		if !undo.rollback(ctx, s.undoTimeout, log, s.metrics) {
			log.Error("CRITICAL checkout compensation incomplete", zap.Error(err))
		}
		transition(domain.CheckoutStateCompensated)
		return nil, state, err
	}

	transition(domain.CheckoutStateCompleted)
	log.Info("checkout completed",
		zap.String("payment_id", payment.ID),
		zap.String("total", payment.Total.StringFixed(2)))
	return payment, state, nil
}

// validate performs every read-only check. Nothing is mutated when it fails.
func (s *CheckoutService) validate(ctx context.Context, req CheckoutRequest) (*checkoutPlan, error) {
	cart, err := s.carts.GetCart(ctx, req.CustomerID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return nil, domain.ErrEmptyCart
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load cart: %v", domain.ErrCheckoutFailed, err)
	}
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	if err := s.checkSlip(req.Slip); err != nil {
		return nil, err
	}

	plan := &checkoutPlan{
		cartVersion: cart.Version,
		lines:       make([]checkoutLine, 0, len(cart.Items)),
		total:       decimal.Zero,
	}
	for _, line := range cart.Items {
		// always a fresh read, the cart may be stale
		item, err := s.catalog.GetItem(ctx, line.ProductID)
		if errors.Is(err, domain.ErrProductNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, line.ProductID)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: get product %s: %v", domain.ErrCheckoutFailed, line.ProductID, err)
		}
		if item.Stock < line.Quantity {
			return nil, &domain.StockError{
				ProductID:   item.ID,
				ProductName: item.Name,
				Requested:   line.Quantity,
				Available:   item.Stock,
				Err:         domain.ErrInsufficientStock,
			}
		}
		plan.lines = append(plan.lines, checkoutLine{item: item, quantity: line.Quantity})
		plan.total = plan.total.Add(item.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	return plan, nil
}

func (s *CheckoutService) checkSlip(slip *domain.SlipUpload) error {
	if slip == nil || slip.Body == nil {
		return domain.ErrMissingPaymentSlip
	}
	mediaType, _, err := mime.ParseMediaType(slip.ContentType)
	if err != nil {
		return domain.ErrUnsupportedFileType
	}
	exts, ok := allowedSlipTypes[mediaType]
	if !ok {
		return domain.ErrUnsupportedFileType
	}
	ext := strings.ToLower(filepath.Ext(slip.Filename))
	matched := false
	for _, e := range exts {
		if e == ext {
			matched = true
			break
		}
	}
	if !matched {
		return domain.ErrUnsupportedFileType
	}
	if slip.Size > s.maxSlipBytes {
		return domain.ErrSlipTooLarge
	}
	return nil
}

func (s *CheckoutService) commit(ctx context.Context, req CheckoutRequest, plan *checkoutPlan, undo *compensationLog, log *zap.Logger) (*domain.PaymentRecord, error) {
	ref, err := s.slips.Save(ctx, req.CustomerID, *req.Slip)
	if err != nil {
		return nil, fmt.Errorf("%w: store payment slip: %v", domain.ErrCheckoutFailed, err)
	}
	undo.add("delete slip", func(ctx context.Context) error {
		return s.slips.Delete(ctx, ref)
	})

	now := s.now().UTC()
	payment := domain.PaymentRecord{
		ID:          uuid.NewString(),
		CustomerID:  req.CustomerID,
		Items:       make([]domain.PaymentLine, 0, len(plan.lines)),
		Total:       plan.total,
		PaymentSlip: ref,
		Status:      domain.PaymentStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, l := range plan.lines {
		payment.Items = append(payment.Items, domain.PaymentLine{
			ProductID:   l.item.ID,
			ProductName: l.item.Name,
			Quantity:    l.quantity,
			UnitPrice:   l.item.Price,
		})
	}

	// registered first: a create that errors after writing must still be undone
	undo.add("delete payment", func(ctx context.Context) error {
		_, err := s.payments.DeletePayment(ctx, payment.ID)
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return nil
		}
		return err
	})
	if err := s.payments.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("%w: create payment: %v", domain.ErrCheckoutFailed, err)
	}

	for _, l := range plan.lines {
		id, qty := l.item.ID, l.quantity
		ok, err := s.catalog.DecrementStock(ctx, id, qty)
		if err != nil {
			return nil, fmt.Errorf("%w: decrement stock %s: %v", domain.ErrCheckoutFailed, id, err)
		}
		if !ok {
			s.metrics.ObserveStockConflict()
			return nil, s.lostRace(ctx, l, log)
		}
		undo.add("restore stock "+id, func(ctx context.Context) error {
			return s.catalog.IncrementStock(ctx, id, qty)
		})
	}

	err = s.carts.ClearCartIfVersion(ctx, req.CustomerID, plan.cartVersion)
	if errors.Is(err, domain.ErrCartConflict) {
		log.Info("cart changed during checkout", zap.Int("version", plan.cartVersion))
		return nil, fmt.Errorf("%w: cart changed during checkout", domain.ErrCartConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: clear cart: %v", domain.ErrCheckoutFailed, err)
	}
	invalidateCart(s.cache, s.logger, req.CustomerID)

	s.publish(ctx, &payment, log)
	return &payment, nil
}

// lostRace builds the error for a conditional decrement that found too
// little stock because a concurrent checkout got there first.
func (s *CheckoutService) lostRace(ctx context.Context, l checkoutLine, log *zap.Logger) error {
	available := 0
	if item, err := s.catalog.GetItem(ctx, l.item.ID); err == nil {
		available = item.Stock
	}
	log.Info("stock decrement lost to concurrent checkout",
		zap.String("product_id", l.item.ID),
		zap.Int("requested", l.quantity),
		zap.Int("available", available))
	return &domain.StockError{
		ProductID:   l.item.ID,
		ProductName: l.item.Name,
		Requested:   l.quantity,
		Available:   available,
		Err:         domain.ErrInsufficientStock,
	}
}

func (s *CheckoutService) publish(ctx context.Context, payment *domain.PaymentRecord, log *zap.Logger) {
	if s.events == nil {
		return
	}
	event := domain.Event{
		ID:         uuid.NewString(),
		Type:       domain.EventPaymentCreated,
		PaymentID:  payment.ID,
		CustomerID: payment.CustomerID,
		Status:     payment.Status,
		Payment:    payment,
		OccurredAt: s.now().UTC(),
	}
	publishEvent(ctx, s.events, event, s.pubTimeout, log)
}

// publishEvent runs after the payment is committed, so it outlives a
// cancelled request but never holds the response longer than timeout.
func publishEvent(ctx context.Context, events port.EventPublisher, event domain.Event, timeout time.Duration, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := events.Publish(ctx, event); err != nil {
		log.Warn("publish event error",
			zap.String("event_type", event.Type),
			zap.String("payment_id", event.PaymentID),
			zap.Error(err))
	}
}

func (s *CheckoutService) releaseKey(key string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.idem.ReleaseIdempotency(ctx, key); err != nil {
		log.Warn("release idempotency key error", zap.String("key", key), zap.Error(err))
	}
}
