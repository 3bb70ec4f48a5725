package shipping

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/apperr"
	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/cache"
	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/storage"
	"github.com/BearBump/ShipBox/internal/telemetry"
	"github.com/google/uuid"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type Store interface {
	CreateOrder(ctx context.Context, o *models.ShippingOrder) (*models.ShippingOrder, error)
	GetOrder(ctx context.Context, orderID string) (*models.ShippingOrder, error)
	ListOrders(ctx context.Context, f models.OrderFilter) ([]*models.ShippingOrder, error)
	ListTrackingEvents(ctx context.Context, orderID string) ([]*models.TrackingEvent, error)
	InTx(ctx context.Context, fn storage.TxFunc) error
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Engine owns the shipping status lifecycle: order CRUD, carrier hand-off and
// reconciliation of carrier tracking updates. It keeps no state between calls.
type Engine struct {
	store    Store
	gateway  carrier.Gateway
	carriers *carrier.Registry

	cache *cache.OrderCache

	locker  cache.Locker
	lockTTL time.Duration

	pub         Publisher
	statusTopic string

	metrics *telemetry.Metrics

	gatewayTimeout  time.Duration
	firstCheckDelay time.Duration

	now   func() time.Time
	newID func() string
}

func New(store Store, gateway carrier.Gateway, carriers *carrier.Registry) *Engine {
	if carriers == nil {
		carriers = carrier.NewRegistry()
	}
	return &Engine{
		store:           store,
		gateway:         gateway,
		carriers:        carriers,
		locker:          cache.NewLocalLocker(),
		lockTTL:         30 * time.Second,
		gatewayTimeout:  10 * time.Second,
		firstCheckDelay: time.Minute,
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
	}
}

func (e *Engine) WithCache(c cache.VersionedCache, ttl time.Duration) *Engine {
	if c != nil && ttl > 0 {
		e.cache = cache.NewOrderCache(c, ttl)
	}
	return e
}

func (e *Engine) WithLocker(l cache.Locker, ttl time.Duration) *Engine {
	if l != nil {
		e.locker = l
	}
	if ttl > 0 {
		e.lockTTL = ttl
	}
	return e
}

func (e *Engine) WithPublisher(p Publisher, statusTopic string) *Engine {
	e.pub, e.statusTopic = p, statusTopic
	return e
}

func (e *Engine) WithMetrics(m *telemetry.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithGatewayTimeout sets the default bound for carrier calls and the delay before the first carrier poll.
func (e *Engine) WithGatewayTimeout(timeout, firstCheckDelay time.Duration) *Engine {
	if timeout > 0 {
		e.gatewayTimeout = timeout
	}
	if firstCheckDelay > 0 {
		e.firstCheckDelay = firstCheckDelay
	}
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Carriers() []models.ShippingCarrier {
	return e.carriers.All()
}

func (e *Engine) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.ShippingOrder, error) {
	in.OrderID = strings.TrimSpace(in.OrderID)
	in.Address = strings.TrimSpace(in.Address)
	in.ShippingMethod = strings.TrimSpace(in.ShippingMethod)

	if in.Address == "" {
		return nil, apperr.Validation("address is required")
	}
	if in.ShippingMethod == "" {
		return nil, apperr.Validation("shipping_method is required")
	}
	if in.Status != "" {
		st, err := models.ParseShippingStatus(in.Status)
		if err != nil {
			return nil, apperr.Validation("%v", err)
		}
		if st != models.StatusPending {
			return nil, apperr.Validation("new orders start in %s, got %s", models.StatusPending, st)
		}
	}
	if in.OrderID == "" {
		in.OrderID = e.newID()
	}

	o, err := e.store.CreateOrder(ctx, &models.ShippingOrder{
		OrderID:        in.OrderID,
		Address:        in.Address,
		ShippingMethod: in.ShippingMethod,
		PackageDetails: in.PackageDetails,
		Status:         models.StatusPending,
	})
	if err != nil {
		return nil, apperr.FromStore(err, "create order")
	}

	slog.Info("order created", "order_id", o.OrderID, "status", o.Status)
	return o, nil
}

// GetOrder serves from the read cache when possible. Cache failures fall back to the store.
// The poller's scheduling fields are left out either way.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (*models.ShippingOrder, error) {
	if orderID == "" {
		return nil, apperr.Validation("order id is required")
	}

	if e.cache != nil {
		if o, ok, err := e.cache.Get(ctx, orderID); err == nil && ok {
			return o, nil
		}
	}

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, apperr.FromStore(err, "get order")
	}

	if e.cache != nil {
		// loses to any version committed since the read
		if _, err := e.cache.Put(ctx, o); err != nil {
			slog.Debug("fill order cache", "order_id", orderID, "error", err.Error())
		}
	}
	return cache.WithoutPollState(o), nil
}

func (e *Engine) ListOrders(ctx context.Context, f models.OrderFilter) ([]*models.ShippingOrder, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	out, err := e.store.ListOrders(ctx, f)
	if err != nil {
		return nil, apperr.FromStore(err, "list orders")
	}
	return out, nil
}

// UpdateOrder edits descriptive fields of a PENDING order. Status is not editable here.
func (e *Engine) UpdateOrder(ctx context.Context, orderID string, in models.OrderUpdateInput) (*models.ShippingOrder, error) {
	if orderID == "" {
		return nil, apperr.Validation("order id is required")
	}
	if in.Address != nil {
		a := strings.TrimSpace(*in.Address)
		if a == "" {
			return nil, apperr.Validation("address must not be empty")
		}
		in.Address = &a
	}
	if in.ShippingMethod != nil {
		m := strings.TrimSpace(*in.ShippingMethod)
		if m == "" {
			return nil, apperr.Validation("shipping_method must not be empty")
		}
		in.ShippingMethod = &m
	}
	var wantStatus models.ShippingStatus
	if in.Status != nil {
		st, err := models.ParseShippingStatus(*in.Status)
		if err != nil {
			return nil, apperr.Validation("%v", err)
		}
		wantStatus = st
	}

	var updated *models.ShippingOrder
	err := e.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		cur, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if wantStatus != "" && wantStatus != cur.Status {
			return apperr.Validation("status changes only through carrier integration or tracking updates")
		}
		if cur.Status != models.StatusPending {
			return apperr.InvalidState("order %s is %s; only %s orders can be edited", orderID, cur.Status, models.StatusPending)
		}
		updated, err = tx.UpdateOrderDetails(ctx, orderID, cur.Version, in)
		return err
	})
	if err != nil {
		return nil, apperr.FromStore(err, "update order")
	}

	e.refresh(ctx, updated)
	return updated, nil
}

// DeleteOrder removes an order without tracking history. Orders with history are kept.
func (e *Engine) DeleteOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return apperr.Validation("order id is required")
	}

	err := e.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetOrderForUpdate(ctx, orderID); err != nil {
			return err
		}
		n, err := tx.CountTrackingEvents(ctx, orderID)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.InvalidState("order %s has %d tracking events and cannot be deleted", orderID, n)
		}
		return tx.DeleteOrder(ctx, orderID)
	})
	if err != nil {
		return apperr.FromStore(err, "delete order")
	}

	if e.cache != nil {
		e.cache.Forget(ctx, orderID)
	}
	slog.Info("order deleted", "order_id", orderID)
	return nil
}

// GetTracking returns the order's events ordered by event time.
func (e *Engine) GetTracking(ctx context.Context, orderID string) ([]*models.TrackingEvent, error) {
	if orderID == "" {
		return nil, apperr.Validation("order id is required")
	}
	if _, err := e.store.GetOrder(ctx, orderID); err != nil {
		return nil, apperr.FromStore(err, "get order")
	}
	evs, err := e.store.ListTrackingEvents(ctx, orderID)
	if err != nil {
		return nil, apperr.FromStore(err, "list tracking events")
	}
	return evs, nil
}

// lockOrder takes the per-order lock for ttl. A canceled context is returned as is;
// any other backend error only degrades to the store's row lock.
func (e *Engine) lockOrder(ctx context.Context, orderID string, ttl time.Duration) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}
	key := lockKey(orderID)
	token, ok, err := e.locker.Acquire(ctx, key, ttl)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// the row lock in the store transaction still guards the write
		slog.Warn("order lock unavailable", "order_id", orderID, "error", err.Error())
		return func() {}, nil
	}
	if !ok {
		return nil, apperr.Conflict("order %s is being updated by another request", orderID)
	}
	return func() {
		if err := e.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			slog.Warn("release order lock", "order_id", orderID, "error", err.Error())
		}
	}, nil
}

func (e *Engine) refresh(ctx context.Context, o *models.ShippingOrder) {
	if e.cache != nil {
		e.cache.Refresh(ctx, o)
	}
}

// afterTransition runs the post-commit side effects of a status change. None of them can undo the commit.
func (e *Engine) afterTransition(ctx context.Context, o *models.ShippingOrder, from models.ShippingStatus) {
	e.refresh(ctx, o)
	e.metrics.RecordTransition(string(from), string(o.Status))
	slog.Info("order status changed",
		"order_id", o.OrderID, "from", from, "status", o.Status,
		"carrier", o.CarrierCode, "tracking_number", o.TrackingNumber)

	if e.pub == nil || e.statusTopic == "" {
		return
	}
	b, err := json.Marshal(messages.OrderStatusChanged{
		MessageID:      e.newID(),
		OrderID:        o.OrderID,
		From:           string(from),
		To:             string(o.Status),
		CarrierCode:    o.CarrierCode,
		TrackingNumber: o.TrackingNumber,
		ChangedAt:      o.UpdatedAt,
	})
	if err != nil {
		slog.Warn("marshal status change", "order_id", o.OrderID, "error", err.Error())
		return
	}
	if err := e.pub.Publish(ctx, e.statusTopic, []byte(o.OrderID), b); err != nil {
		slog.Warn("publish status change", "order_id", o.OrderID, "error", err.Error())
	}
}

func lockKey(orderID string) string {
	return fmt.Sprintf("shipping:order:%s:lock", orderID)
}

// Event times are stored with microsecond precision.
func eventTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
