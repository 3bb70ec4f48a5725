package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

type Config struct {
	MaxRequests       uint32
	Interval          time.Duration
	Timeout           time.Duration
	FailureThreshold  uint32
	FailureRatio      float64
	MinRequestsToTrip uint32
}

func DefaultConfig() Config {
	return Config{
		MaxRequests:       1,
		Interval:          time.Minute,
		Timeout:           30 * time.Second,
		FailureThreshold:  5,
		FailureRatio:      0.6,
		MinRequestsToTrip: 10,
	}
}

// Client guards a carrier.Client with one circuit breaker per carrier.
// Rejections do not count as failures: they say nothing about carrier health.
type Client struct {
	next carrier.Client
	cfg  Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func New(next carrier.Client, cfg Config) *Client {
	return &Client{
		next:     next,
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *Client) CreateShipment(ctx context.Context, req carrier.ShipmentRequest) (carrier.ShipmentResult, error) {
	var res carrier.ShipmentResult
	err := c.call(req.Carrier.Name, func() error {
		var err error
		res, err = c.next.CreateShipment(ctx, req)
		return err
	})
	return res, err
}

func (c *Client) GetTracking(ctx context.Context, carrierCode, trackingNumber string) (carrier.TrackingResult, error) {
	var res carrier.TrackingResult
	err := c.call(carrierCode, func() error {
		var err error
		res, err = c.next.GetTracking(ctx, carrierCode, trackingNumber)
		return err
	})
	return res, err
}

// State reports the breaker state for a carrier; carriers never called are closed.
func (c *Client) State(name string) gobreaker.State {
	c.mu.Lock()
	cb, ok := c.breakers[name]
	c.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

func (c *Client) call(name string, fn func() error) error {
	var rejected error
	_, err := c.get(name).Execute(func() (interface{}, error) {
		err := fn()
		if err != nil && carrier.Classify(err) == carrier.FailureRejected {
			rejected = err
			return nil, nil
		}
		return nil, err
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		slog.Warn("carrier circuit open", "carrier", name)
		return carrier.Transient(name, 0, "circuit open", err)
	case err != nil:
		return err
	}
	return rejected
}

func (c *Client) get(name string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[name]; ok {
		return cb
	}

	cfg := c.cfg
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "carrier:" + name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.FailureThreshold {
				return true
			}
			if counts.Requests >= cfg.MinRequestsToTrip {
				return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	c.breakers[name] = cb
	return cb
}
