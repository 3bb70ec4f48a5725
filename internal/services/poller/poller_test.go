package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/cache/rediscache"
	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/storage"
	"github.com/BearBump/ShipBox/internal/storage/memshipping"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	mu    sync.Mutex
	topic string
	msgs  []messages.TrackingReported
	keys  []string
	calls int
	err   error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	var m messages.TrackingReported
	if err := json.Unmarshal(value, &m); err != nil {
		return err
	}
	p.topic = topic
	p.msgs = append(p.msgs, m)
	p.keys = append(p.keys, string(key))
	return nil
}

type fakeRL struct {
	allowed bool
	count   int64
	err     error
}

func (r fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	return r.allowed, r.count, r.err
}

type fakeTracker struct {
	mu    sync.Mutex
	res   carrier.TrackingResult
	err   error
	calls int
}

func (c *fakeTracker) GetTracking(ctx context.Context, carrierCode, trackingNumber string) (carrier.TrackingResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.res, c.err
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// shippedOrder creates a SHIPPED order that is due for a check.
func shippedOrder(t *testing.T, store *memshipping.Store, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := store.CreateOrder(ctx, &models.ShippingOrder{OrderID: id, Address: "a", ShippingMethod: "Air", Status: models.StatusPending})
	require.NoError(t, err)

	carrierCode, tracking, due := "X", "T-"+id, testNow.Add(-time.Minute)
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.UpdateOrderStatus(ctx, models.StatusChange{
			OrderID: id, From: models.StatusPending, To: models.StatusShipped, ExpectedVersion: 1,
			CarrierCode: &carrierCode, TrackingNumber: &tracking, NextCheckAt: &due,
		})
		return err
	}))
}

func newTestPoller(store *memshipping.Store, tr carrier.Tracker, fp *fakeProducer, rl RateLimiter) *Poller {
	return New(store, tr, fp, rl, "carrier.tracking_reported").
		WithClock(func() time.Time { return testNow }).
		WithPublishRetry(2, 0)
}

func TestPoller_processOne_publishesEvents(t *testing.T) {
	store := memshipping.New()
	shippedOrder(t, store, "1")
	loc := "Hub"
	tr := &fakeTracker{res: carrier.TrackingResult{
		StatusLabel: "delivered",
		Events: []carrier.TrackingEvent{
			{StatusLabel: "out for delivery", EventTime: testNow.Add(-2 * time.Hour), Location: &loc},
			{StatusLabel: "delivered", EventTime: testNow.Add(-time.Hour)},
		},
	}}
	fp := &fakeProducer{}
	p := newTestPoller(store, tr, fp, fakeRL{allowed: true})

	o, err := store.GetOrder(context.Background(), "1")
	require.NoError(t, err)
	require.NoError(t, p.processOne(context.Background(), o))

	require.Equal(t, "carrier.tracking_reported", fp.topic)
	require.Len(t, fp.msgs, 2)
	require.Equal(t, []string{"1", "1"}, fp.keys)
	require.Equal(t, "out for delivery", fp.msgs[0].Status)
	require.Equal(t, "Hub", *fp.msgs[0].Location)
	require.Equal(t, "T-1", fp.msgs[1].TrackingNumber)
	require.Equal(t, models.SourcePoller, fp.msgs[1].Source)
	require.NotEqual(t, fp.msgs[0].MessageID, fp.msgs[1].MessageID)

	got, err := store.GetOrder(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, testNow, *got.LastCheckedAt)
	require.Equal(t, testNow.Add(365*24*time.Hour), *got.NextCheckAt)
	require.Zero(t, got.CheckFailCount)
}

func TestPoller_processOne_bareStatus(t *testing.T) {
	store := memshipping.New()
	shippedOrder(t, store, "1")
	at := testNow.Add(-time.Hour)
	fp := &fakeProducer{}
	p := newTestPoller(store, &fakeTracker{res: carrier.TrackingResult{StatusLabel: "in transit", StatusAt: &at}}, fp, nil).
		WithPlanner(PlannerConfig{ShippedMinDelay: time.Hour, ShippedMaxDelay: time.Hour})

	o, _ := store.GetOrder(context.Background(), "1")
	require.NoError(t, p.processOne(context.Background(), o))
	require.Len(t, fp.msgs, 1)
	require.Equal(t, at, fp.msgs[0].EventTime)

	got, _ := store.GetOrder(context.Background(), "1")
	require.Equal(t, testNow.Add(time.Hour), *got.NextCheckAt)
}

func TestPoller_processOne_carrierErrorBacksOff(t *testing.T) {
	store := memshipping.New()
	shippedOrder(t, store, "1")
	fp := &fakeProducer{}
	p := newTestPoller(store, &fakeTracker{err: carrier.Transient("X", 503, "down", nil)}, fp, nil)

	o, _ := store.GetOrder(context.Background(), "1")
	require.Error(t, p.processOne(context.Background(), o))
	require.Zero(t, fp.calls)

	got, _ := store.GetOrder(context.Background(), "1")
	require.Equal(t, int32(1), got.CheckFailCount)
	require.NotNil(t, got.LastError)
	require.Equal(t, testNow.Add(5*time.Minute), *got.NextCheckAt)

	// second failure uses the next backoff step
	require.Error(t, p.processOne(context.Background(), got))
	got, _ = store.GetOrder(context.Background(), "1")
	require.Equal(t, int32(2), got.CheckFailCount)
	require.Equal(t, testNow.Add(15*time.Minute), *got.NextCheckAt)
}

func TestPoller_processOne_publishFailureBacksOff(t *testing.T) {
	store := memshipping.New()
	shippedOrder(t, store, "1")
	fp := &fakeProducer{err: errors.New("kafka down")}
	tr := &fakeTracker{res: carrier.TrackingResult{Events: []carrier.TrackingEvent{{StatusLabel: "in transit", EventTime: testNow}}}}
	p := newTestPoller(store, tr, fp, nil)

	o, _ := store.GetOrder(context.Background(), "1")
	require.EqualError(t, p.processOne(context.Background(), o), "kafka down")
	require.Equal(t, 2, fp.calls)

	got, _ := store.GetOrder(context.Background(), "1")
	require.Equal(t, int32(1), got.CheckFailCount)
}

func TestPoller_processOne_rateLimited(t *testing.T) {
	store := memshipping.New()
	shippedOrder(t, store, "1")
	tr := &fakeTracker{}
	p := newTestPoller(store, tr, &fakeProducer{}, fakeRL{allowed: false, count: 121})

	o, _ := store.GetOrder(context.Background(), "1")
	require.NoError(t, p.processOne(context.Background(), o))
	require.Zero(t, tr.calls)

	p = newTestPoller(store, tr, &fakeProducer{}, fakeRL{err: errors.New("redis down")})
	require.Error(t, p.processOne(context.Background(), o))
	require.Zero(t, tr.calls)
}

func TestPoller_carrierRateLimitFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := memshipping.New()
	shippedOrder(t, store, "1")
	tr := &fakeTracker{res: carrier.TrackingResult{StatusLabel: "in transit"}}
	p := newTestPoller(store, tr, &fakeProducer{}, rediscache.NewRateLimiterWithClient(rdb)).
		WithCarrierRateLimits(map[string]int64{"X": 2})

	o, _ := store.GetOrder(context.Background(), "1")
	for i := 0; i < 3; i++ {
		require.NoError(t, p.processOne(context.Background(), o))
	}
	require.Equal(t, 2, tr.calls)
}

func TestPoller_runOnce_claimsDueOnly(t *testing.T) {
	store := memshipping.New().WithClock(func() time.Time { return testNow })
	shippedOrder(t, store, "1")
	shippedOrder(t, store, "2")
	_, err := store.CreateOrder(context.Background(), &models.ShippingOrder{OrderID: "pending", Address: "a", ShippingMethod: "Air", Status: models.StatusPending})
	require.NoError(t, err)

	tr := &fakeTracker{res: carrier.TrackingResult{StatusLabel: "in transit"}}
	p := newTestPoller(store, tr, &fakeProducer{}, nil).WithSettings(time.Second, 10, 2, time.Minute, 0)

	p.runOnce(context.Background())
	st := p.Stats()
	require.Equal(t, int64(2), st.TotalClaimed)
	require.Equal(t, int64(2), st.TotalProcessed)
	require.Zero(t, st.TotalErrors)
	require.Zero(t, st.InFlight)
	require.Equal(t, 2, tr.calls)

	// rescheduled into the future, nothing is due now
	p.runOnce(context.Background())
	require.Equal(t, int64(2), p.Stats().TotalClaimed)
}

func TestPoller_WithSettings(t *testing.T) {
	p := New(nil, &fakeTracker{}, &fakeProducer{}, nil, "t").
		WithSettings(5*time.Second, 7, 9, 11*time.Second, 13).
		WithCarrierRateLimits(map[string]int64{"X": 3, "Y": 0})
	require.Equal(t, 5*time.Second, p.pollInterval)
	require.Equal(t, 7, p.batchSize)
	require.Equal(t, 9, p.concurrency)
	require.Equal(t, 11*time.Second, p.lease)
	require.Equal(t, int64(13), p.rateLimitPerMinute)
	require.Equal(t, map[string]int64{"X": 3}, p.carrierRateLimits)
}

func TestPoller_Run_StopsOnContextCancel(t *testing.T) {
	store := memshipping.New()
	p := New(store, &fakeTracker{}, &fakeProducer{}, nil, "t").WithSettings(5*time.Millisecond, 1, 1, time.Second, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, p.Stats().LastCycleAt)
}

func TestPoller_Trigger(t *testing.T) {
	p := New(memshipping.New(), &fakeTracker{}, &fakeProducer{}, nil, "t").WithSettings(time.Hour, 1, 1, time.Second, 1)
	p.Trigger()
	p.Trigger()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	st := p.Stats()
	require.NotNil(t, st.LastTriggerAt)
	require.NotNil(t, st.LastCycleAt)
}
