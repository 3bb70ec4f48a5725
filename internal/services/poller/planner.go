package poller

import (
	"math/rand"
	"sync"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	DeliveredDelay time.Duration // default: 365 days

	ShippedMinDelay time.Duration // default: 30 minutes
	ShippedMaxDelay time.Duration // default: 120 minutes

	UnknownDelay time.Duration // default: 90 minutes

	Backoff1 time.Duration // default: 5 minutes
	Backoff2 time.Duration // default: 15 minutes
	Backoff3 time.Duration // default: 30 minutes
	Backoff4 time.Duration // default: 60 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		DeliveredDelay: 365 * 24 * time.Hour,

		ShippedMinDelay: 30 * time.Minute,
		ShippedMaxDelay: 120 * time.Minute,

		UnknownDelay: 90 * time.Minute,

		Backoff1: 5 * time.Minute,
		Backoff2: 15 * time.Minute,
		Backoff3: 30 * time.Minute,
		Backoff4: 60 * time.Minute,
	}
}

// Planner is shared by the poller's workers; mu guards r, which need not be goroutine-safe.
type Planner struct {
	cfg PlannerConfig

	mu sync.Mutex
	r  Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.DeliveredDelay <= 0 {
		cfg.DeliveredDelay = def.DeliveredDelay
	}
	if cfg.ShippedMinDelay <= 0 {
		cfg.ShippedMinDelay = def.ShippedMinDelay
	}
	if cfg.ShippedMaxDelay <= 0 {
		cfg.ShippedMaxDelay = def.ShippedMaxDelay
	}
	if cfg.ShippedMaxDelay < cfg.ShippedMinDelay {
		cfg.ShippedMaxDelay = cfg.ShippedMinDelay
	}
	if cfg.UnknownDelay <= 0 {
		cfg.UnknownDelay = def.UnknownDelay
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

// NextCheckDelay picks when to ask the carrier again, given the status it just reported.
// SHIPPED checks are spread over [min, max] so a batch of hand-offs does not poll in lockstep.
func (p *Planner) NextCheckDelay(status models.ShippingStatus) time.Duration {
	switch status {
	case models.StatusDelivered:
		return p.cfg.DeliveredDelay
	case models.StatusShipped:
		min := p.cfg.ShippedMinDelay
		max := p.cfg.ShippedMaxDelay
		if max == min {
			return min
		}
		secMin := int(min.Seconds())
		secMax := int(max.Seconds())
		if secMax < secMin {
			secMax = secMin
		}
		return time.Duration(secMin+p.jitter(secMax-secMin+1)) * time.Second
	default:
		return p.cfg.UnknownDelay
	}
}

func (p *Planner) jitter(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.r.Intn(n)
}

func (p *Planner) BackoffDelay(nextFailCount int32) time.Duration {
	switch {
	case nextFailCount <= 1:
		return p.cfg.Backoff1
	case nextFailCount == 2:
		return p.cfg.Backoff2
	case nextFailCount == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
