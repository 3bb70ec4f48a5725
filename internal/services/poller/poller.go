package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/telemetry"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type Repository interface {
	ClaimDueShipments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.ShippingOrder, error)
	SchedulePoll(ctx context.Context, orderID string, checkedAt, nextCheckAt time.Time, checkErr *string) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Poller asks carriers about SHIPPED orders that are due for a check and
// publishes what they report to the tracking topic. It never writes order
// status itself; the API consumer reconciles the published reports.
type Poller struct {
	repo     Repository
	tracker  carrier.Tracker
	producer Producer
	rl       RateLimiter
	metrics  *telemetry.Metrics

	topic string

	planner *Planner

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	callTimeout        time.Duration
	rateLimitPerMinute int64
	carrierRateLimits  map[string]int64
	publishAttempts    int
	publishBackoff     time.Duration

	now func() time.Time

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalPublished      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, tracker carrier.Tracker, producer Producer, rl RateLimiter, topic string) *Poller {
	return &Poller{
		repo: repo, tracker: tracker, producer: producer, rl: rl, topic: topic,
		planner:            DefaultPlanner(),
		pollInterval:       2 * time.Second,
		batchSize:          100,
		concurrency:        10,
		lease:              120 * time.Second,
		callTimeout:        10 * time.Second,
		rateLimitPerMinute: 120,
		carrierRateLimits:  map[string]int64{},
		publishAttempts:    5,
		publishBackoff:     150 * time.Millisecond,
		now:                func() time.Time { return time.Now().UTC() },
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

func (p *Poller) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if concurrency > 0 {
		p.concurrency = concurrency
	}
	if lease > 0 {
		p.lease = lease
	}
	if rlPerMin > 0 {
		p.rateLimitPerMinute = rlPerMin
	}
	return p
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg, nil)
	return p
}

// WithCarrierRateLimits overrides the per-minute request budget for individual carriers.
func (p *Poller) WithCarrierRateLimits(perMinute map[string]int64) *Poller {
	for name, limit := range perMinute {
		if limit > 0 {
			p.carrierRateLimits[name] = limit
		}
	}
	return p
}

func (p *Poller) WithCallTimeout(d time.Duration) *Poller {
	if d > 0 {
		p.callTimeout = d
	}
	return p
}

func (p *Poller) WithPublishRetry(attempts int, backoff time.Duration) *Poller {
	if attempts > 0 {
		p.publishAttempts = attempts
	}
	if backoff >= 0 {
		p.publishBackoff = backoff
	}
	return p
}

func (p *Poller) WithMetrics(m *telemetry.Metrics) *Poller {
	p.metrics = m
	return p
}

func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalPublished int64      `json:"totalPublished"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalClaimed:   p.totalClaimed.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		TotalPublished: p.totalPublished.Load(),
		TotalErrors:    p.totalErrors.Load(),
		InFlight:       p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	now := p.now()
	p.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())
	p.metrics.RecordPollerCycle()

	items, err := p.repo.ClaimDueShipments(ctx, now, p.batchSize, p.lease)
	if err != nil {
		slog.Error("claim due shipments", "error", err.Error())
		p.setLastError(err)
		return
	}
	p.totalClaimed.Add(int64(len(items)))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, o := range items {
		o := o
		p.inFlight.Add(1)
		g.Go(func() error {
			defer p.inFlight.Add(-1)
			if err := p.processOne(ctx, o); err != nil {
				p.totalErrors.Add(1)
				p.setLastError(err)
				slog.Error("poll shipment", "order_id", o.OrderID, "carrier", o.CarrierCode, "error", err.Error())
			}
			p.totalProcessed.Add(1)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Poller) processOne(ctx context.Context, o *models.ShippingOrder) error {
	now := p.now()

	if allowed, err := p.allow(ctx, o.CarrierCode, now); err != nil {
		return err
	} else if !allowed {
		// the lease runs out and the order is claimed again
		p.metrics.RecordCarrierCall(o.CarrierCode, "get_tracking", "rate_limited", 0)
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	started := time.Now()
	res, err := p.tracker.GetTracking(cctx, o.CarrierCode, o.TrackingNumber)
	cancel()
	elapsed := time.Since(started).Seconds()

	if err != nil {
		kind := carrier.Classify(err)
		p.metrics.RecordCarrierCall(o.CarrierCode, "get_tracking", string(kind), elapsed)
		return p.reschedule(ctx, o, now, err)
	}
	p.metrics.RecordCarrierCall(o.CarrierCode, "get_tracking", "ok", elapsed)

	reports := p.reports(o, res, now)
	for _, r := range reports {
		if err := p.publish(ctx, r); err != nil {
			return p.reschedule(ctx, o, now, err)
		}
	}

	status, err := models.NormalizeReportedStatus(res.StatusLabel)
	if err != nil {
		status = ""
	}
	next := now.Add(p.planner.NextCheckDelay(status))
	if err := p.repo.SchedulePoll(ctx, o.OrderID, now, next, nil); err != nil {
		return errors.Wrap(err, "schedule poll")
	}
	slog.Debug("shipment polled",
		"order_id", o.OrderID, "carrier", o.CarrierCode, "status", res.StatusLabel,
		"reports", len(reports), "next_check_at", next)
	return nil
}

func (p *Poller) allow(ctx context.Context, carrierCode string, now time.Time) (bool, error) {
	if p.rl == nil || p.rateLimitPerMinute <= 0 {
		return true, nil
	}
	limit := p.rateLimitPerMinute
	if l, ok := p.carrierRateLimits[carrierCode]; ok {
		limit = l
	}

	minuteKey := fmt.Sprintf("rl:carrier:%s:%s", carrierCode, now.Format("200601021504"))
	allowed, n, err := p.rl.Allow(ctx, minuteKey, limit, 70*time.Second)
	if err != nil {
		return false, errors.Wrap(err, "rate limiter")
	}
	if !allowed {
		slog.Warn("rate limit exceeded", "carrier", carrierCode, "count", n, "limit", limit)
	}
	return allowed, nil
}

// reports turns a carrier answer into tracking messages. A bare status with no
// event list is reported once, at the carrier's status time.
func (p *Poller) reports(o *models.ShippingOrder, res carrier.TrackingResult, now time.Time) []messages.TrackingReported {
	base := messages.TrackingReported{
		OrderID:        o.OrderID,
		CarrierCode:    o.CarrierCode,
		TrackingNumber: o.TrackingNumber,
		Source:         models.SourcePoller,
		ReportedAt:     now,
	}

	var out []messages.TrackingReported
	for _, e := range res.Events {
		m := base
		m.MessageID = uuid.NewString()
		m.Status = e.StatusLabel
		m.EventTime = e.EventTime
		m.Location = e.Location
		m.EstimatedDelivery = e.EstimatedDelivery
		out = append(out, m)
	}
	if len(out) == 0 && res.StatusLabel != "" && res.StatusAt != nil {
		m := base
		m.MessageID = uuid.NewString()
		m.Status = res.StatusLabel
		m.EventTime = *res.StatusAt
		out = append(out, m)
	}
	return out
}

func (p *Poller) publish(ctx context.Context, m messages.TrackingReported) error {
	b, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}

	// Kafka may not accept writes right after startup.
	var pubErr error
	for i := 0; i < p.publishAttempts; i++ {
		if pubErr = p.producer.Publish(ctx, p.topic, []byte(m.OrderID), b); pubErr == nil {
			p.totalPublished.Add(1)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * p.publishBackoff):
		}
	}
	return pubErr
}

func (p *Poller) reschedule(ctx context.Context, o *models.ShippingOrder, now time.Time, cause error) error {
	msg := cause.Error()
	next := now.Add(p.planner.BackoffDelay(o.CheckFailCount + 1))
	if err := p.repo.SchedulePoll(ctx, o.OrderID, now, next, &msg); err != nil {
		return errors.Wrapf(err, "schedule retry after: %s", msg)
	}
	return cause
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}
