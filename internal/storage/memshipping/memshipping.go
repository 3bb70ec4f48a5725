// Package memshipping is an in-process order and tracking store.
// Transactions take per-order locks without waiting and stage their writes until commit,
// so it behaves like pgshipping for the lifecycle engine.
package memshipping

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/ShipBox/internal/apperr"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/storage"
)

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	nextOrderID uint64
	nextEventID uint64

	orders map[string]*models.ShippingOrder
	events map[string][]*models.TrackingEvent
	locks  map[string]*tx
}

func New() *Store {
	return &Store{
		now:    func() time.Time { return time.Now().UTC() },
		orders: make(map[string]*models.ShippingOrder),
		events: make(map[string][]*models.TrackingEvent),
		locks:  make(map[string]*tx),
	}
}

func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() {}

func (s *Store) CreateOrder(ctx context.Context, o *models.ShippingOrder) (*models.ShippingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.OrderID]; ok {
		return nil, apperr.Validation("order %s already exists", o.OrderID)
	}

	s.nextOrderID++
	now := s.now()
	c := cloneOrder(o)
	c.ID = s.nextOrderID
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	s.orders[c.OrderID] = c
	return cloneOrder(c), nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.ShippingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	return cloneOrder(o), nil
}

func (s *Store) ListOrders(ctx context.Context, f models.OrderFilter) ([]*models.ShippingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.ShippingOrder, 0, len(s.orders))
	for _, o := range s.orders {
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		if f.ShippingMethod != "" && o.ShippingMethod != f.ShippingMethod {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*models.ShippingOrder{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ListTrackingEvents returns committed events ordered by event time.
func (s *Store) ListTrackingEvents(ctx context.Context, orderID string) ([]*models.TrackingEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evs := make([]*models.TrackingEvent, 0, len(s.events[orderID]))
	for _, e := range s.events[orderID] {
		evs = append(evs, cloneEvent(e))
	}
	sortEvents(evs)
	return evs, nil
}

func (s *Store) InTx(ctx context.Context, fn storage.TxFunc) error {
	t := &tx{
		s:       s,
		held:    make(map[string]bool),
		orders:  make(map[string]*models.ShippingOrder),
		events:  make(map[string][]*models.TrackingEvent),
		deleted: make(map[string]bool),
	}
	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		t.rollback()
		return apperr.Storage(err, "commit tx")
	}
	t.commit()
	return nil
}

// ClaimDueShipments leases due SHIPPED orders for the poller, skipping locked ones.
func (s *Store) ClaimDueShipments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.ShippingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.ShippingOrder
	for id, o := range s.orders {
		if o.Status != models.StatusShipped || o.NextCheckAt == nil || o.NextCheckAt.After(now) {
			continue
		}
		if _, locked := s.locks[id]; locked {
			continue
		}
		due = append(due, o)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextCheckAt.Before(*due[j].NextCheckAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	leaseUntil := now.UTC().Add(lease)
	out := make([]*models.ShippingOrder, 0, len(due))
	for _, o := range due {
		o.NextCheckAt = &leaseUntil
		out = append(out, cloneOrder(o))
	}
	return out, nil
}

func (s *Store) SchedulePoll(ctx context.Context, orderID string, checkedAt, nextCheckAt time.Time, checkErr *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return apperr.NotFound("order %s not found", orderID)
	}
	checked, next := checkedAt.UTC(), nextCheckAt.UTC()
	o.LastCheckedAt = &checked
	if o.Status == models.StatusShipped {
		o.NextCheckAt = &next
	}
	if checkErr != nil {
		msg := *checkErr
		o.CheckFailCount++
		o.LastError = &msg
	} else {
		o.CheckFailCount = 0
		o.LastError = nil
	}
	return nil
}

type tx struct {
	s       *Store
	held    map[string]bool
	orders  map[string]*models.ShippingOrder
	events  map[string][]*models.TrackingEvent
	deleted map[string]bool
}

var _ storage.Tx = (*tx)(nil)

// lock must be called with s.mu held.
func (t *tx) lock(orderID string) error {
	if t.held[orderID] {
		return nil
	}
	if owner, ok := t.s.locks[orderID]; ok && owner != t {
		return apperr.Conflict("order %s is locked by a concurrent update", orderID)
	}
	t.s.locks[orderID] = t
	t.held[orderID] = true
	return nil
}

// current must be called with s.mu held.
func (t *tx) current(orderID string) (*models.ShippingOrder, bool) {
	if t.deleted[orderID] {
		return nil, false
	}
	if o, ok := t.orders[orderID]; ok {
		return o, true
	}
	o, ok := t.s.orders[orderID]
	return o, ok
}

// allEvents must be called with s.mu held.
func (t *tx) allEvents(orderID string) []*models.TrackingEvent {
	out := make([]*models.TrackingEvent, 0, len(t.s.events[orderID])+len(t.events[orderID]))
	out = append(out, t.s.events[orderID]...)
	return append(out, t.events[orderID]...)
}

func (t *tx) GetOrderForUpdate(ctx context.Context, orderID string) (*models.ShippingOrder, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	o, ok := t.current(orderID)
	if !ok {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	if err := t.lock(orderID); err != nil {
		return nil, err
	}
	return cloneOrder(o), nil
}

func (t *tx) LatestTrackingEvent(ctx context.Context, orderID string) (*models.TrackingEvent, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	evs := t.allEvents(orderID)
	if len(evs) == 0 {
		return nil, nil
	}
	sortEvents(evs)
	return cloneEvent(evs[len(evs)-1]), nil
}

func (t *tx) HasTrackingEvent(ctx context.Context, orderID string, status models.ShippingStatus, eventTime time.Time) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	return findEvent(t.allEvents(orderID), status, eventTime) != nil, nil
}

func (t *tx) CountTrackingEvents(ctx context.Context, orderID string) (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	return len(t.allEvents(orderID)), nil
}

func (t *tx) UpdateOrderStatus(ctx context.Context, ch models.StatusChange) (*models.ShippingOrder, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	cur, err := t.lockedCurrent(ch.OrderID, ch.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	if cur.Status != ch.From {
		return nil, apperr.Conflict("order %s status changed concurrently", ch.OrderID)
	}

	o := cloneOrder(cur)
	o.Status = ch.To
	if ch.CarrierCode != nil {
		o.CarrierCode = *ch.CarrierCode
	}
	if ch.TrackingNumber != nil {
		o.TrackingNumber = *ch.TrackingNumber
	}
	if ch.PackageDetails != nil {
		o.PackageDetails = *ch.PackageDetails
	}
	o.NextCheckAt = cloneTime(ch.NextCheckAt)
	o.CheckFailCount = 0
	o.LastError = nil
	o.Version++
	o.UpdatedAt = t.s.now()

	t.orders[o.OrderID] = o
	return cloneOrder(o), nil
}

func (t *tx) UpdateOrderDetails(ctx context.Context, orderID string, expectedVersion int64, in models.OrderUpdateInput) (*models.ShippingOrder, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	cur, err := t.lockedCurrent(orderID, expectedVersion)
	if err != nil {
		return nil, err
	}

	o := cloneOrder(cur)
	if in.Address != nil {
		o.Address = *in.Address
	}
	if in.ShippingMethod != nil {
		o.ShippingMethod = *in.ShippingMethod
	}
	if in.PackageDetails != nil {
		o.PackageDetails = *in.PackageDetails
	}
	o.Version++
	o.UpdatedAt = t.s.now()

	t.orders[o.OrderID] = o
	return cloneOrder(o), nil
}

func (t *tx) lockedCurrent(orderID string, expectedVersion int64) (*models.ShippingOrder, error) {
	cur, ok := t.current(orderID)
	if !ok {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	if err := t.lock(orderID); err != nil {
		return nil, err
	}
	if cur.Version != expectedVersion {
		return nil, apperr.Conflict("order %s was modified concurrently (version %d, expected %d)", orderID, cur.Version, expectedVersion)
	}
	return cur, nil
}

func (t *tx) InsertTrackingEvent(ctx context.Context, ev *models.TrackingEvent) (*models.TrackingEvent, bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if _, ok := t.current(ev.OrderID); !ok {
		return nil, false, apperr.NotFound("order %s not found", ev.OrderID)
	}
	if err := t.lock(ev.OrderID); err != nil {
		return nil, false, err
	}
	if existing := findEvent(t.allEvents(ev.OrderID), ev.Status, ev.EventTime); existing != nil {
		return cloneEvent(existing), false, nil
	}

	t.s.nextEventID++
	e := cloneEvent(ev)
	e.ID = t.s.nextEventID
	e.EventTime = e.EventTime.UTC()
	e.CreatedAt = t.s.now()
	t.events[e.OrderID] = append(t.events[e.OrderID], e)
	return cloneEvent(e), true, nil
}

// DeleteOrder refuses to drop an order that still has tracking history.
func (t *tx) DeleteOrder(ctx context.Context, orderID string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if _, ok := t.current(orderID); !ok {
		return apperr.NotFound("order %s not found", orderID)
	}
	if err := t.lock(orderID); err != nil {
		return err
	}
	if len(t.allEvents(orderID)) > 0 {
		return apperr.InvalidState("order %s has tracking history", orderID)
	}
	delete(t.orders, orderID)
	t.deleted[orderID] = true
	return nil
}

func (t *tx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for id, o := range t.orders {
		t.s.orders[id] = o
	}
	for id, evs := range t.events {
		t.s.events[id] = append(t.s.events[id], evs...)
	}
	for id := range t.deleted {
		delete(t.s.orders, id)
		delete(t.s.events, id)
	}
	t.release()
}

func (t *tx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.release()
}

func (t *tx) release() {
	for id := range t.held {
		if t.s.locks[id] == t {
			delete(t.s.locks, id)
		}
	}
	t.held = map[string]bool{}
}

func findEvent(evs []*models.TrackingEvent, status models.ShippingStatus, at time.Time) *models.TrackingEvent {
	for _, e := range evs {
		if e.Status == status && e.EventTime.Equal(at) {
			return e
		}
	}
	return nil
}

func sortEvents(evs []*models.TrackingEvent) {
	sort.SliceStable(evs, func(i, j int) bool {
		if !evs[i].EventTime.Equal(evs[j].EventTime) {
			return evs[i].EventTime.Before(evs[j].EventTime)
		}
		return evs[i].ID < evs[j].ID
	})
}

func cloneOrder(o *models.ShippingOrder) *models.ShippingOrder {
	c := *o
	c.NextCheckAt = cloneTime(o.NextCheckAt)
	c.LastCheckedAt = cloneTime(o.LastCheckedAt)
	c.LastError = cloneString(o.LastError)
	return &c
}

func cloneEvent(e *models.TrackingEvent) *models.TrackingEvent {
	c := *e
	c.Location = cloneString(e.Location)
	c.TrackingNumber = cloneString(e.TrackingNumber)
	c.EstimatedDelivery = cloneTime(e.EstimatedDelivery)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
