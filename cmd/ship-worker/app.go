package main

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/ShipBox/config"
	"github.com/BearBump/ShipBox/internal/broker/kafka"
	"github.com/BearBump/ShipBox/internal/cache/rediscache"
	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/integrations/carrier/breaker"
	"github.com/BearBump/ShipBox/internal/integrations/carrier/emulatorv1"
	"github.com/BearBump/ShipBox/internal/integrations/carrier/fake"
	"github.com/BearBump/ShipBox/internal/services/poller"
	"github.com/BearBump/ShipBox/internal/storage/pgshipping"
	"github.com/BearBump/ShipBox/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

type workerFactories struct {
	newStorage     func(cfg *config.Config) (repo poller.Repository, closeFn func(), err error)
	newProducer    func(cfg *config.Config) poller.Producer
	newRateLimiter func(cfg *config.Config) poller.RateLimiter
	newTracker     func(cfg *config.Config) carrier.Tracker
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (poller.Repository, func(), error) {
			if cfg.ShipBox.Storage == "memory" {
				return nil, nil, fmt.Errorf("ship-worker needs shared storage; storage %q is process-local", cfg.ShipBox.Storage)
			}
			st, err := pgshipping.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) poller.Producer {
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
		newRateLimiter: func(cfg *config.Config) poller.RateLimiter {
			if cfg.Redis.Host == "" {
				return nil
			}
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
		newTracker: func(cfg *config.Config) carrier.Tracker {
			var next carrier.Client
			if cfg.ShipBox.CarrierGateway == "emulator" && cfg.ShipBox.CarrierEmulatorBaseURL != "" {
				next = emulatorv1.New(cfg.ShipBox.CarrierEmulatorBaseURL, cfg.ShipBox.CarrierEmulatorAPIKey).
					WithCarriers(carrier.NewRegistry(cfg.ShippingCarriers()...))
			} else {
				next = fake.New()
			}
			bc := breaker.DefaultConfig()
			if cfg.ShipBox.BreakerFailureThreshold > 0 {
				bc.FailureThreshold = uint32(cfg.ShipBox.BreakerFailureThreshold)
			}
			if cfg.ShipBox.BreakerFailureRatio > 0 {
				bc.FailureRatio = cfg.ShipBox.BreakerFailureRatio
			}
			if cfg.ShipBox.BreakerOpenSeconds > 0 {
				bc.Timeout = time.Duration(cfg.ShipBox.BreakerOpenSeconds) * time.Second
			}
			return breaker.New(next, bc)
		},
	}
}

func plannerConfig(cfg *config.Config) poller.PlannerConfig {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return poller.PlannerConfig{
		ShippedMinDelay: sec(cfg.ShipBox.WorkerNextCheckShippedMinSeconds),
		ShippedMaxDelay: sec(cfg.ShipBox.WorkerNextCheckShippedMaxSeconds),
		UnknownDelay:    sec(cfg.ShipBox.WorkerNextCheckUnknownSeconds),
		Backoff1:        sec(cfg.ShipBox.WorkerBackoff1Seconds),
		Backoff2:        sec(cfg.ShipBox.WorkerBackoff2Seconds),
		Backoff3:        sec(cfg.ShipBox.WorkerBackoff3Seconds),
		Backoff4:        sec(cfg.ShipBox.WorkerBackoff4Seconds),
	}
}

func carrierRateLimits(cfg *config.Config) map[string]int64 {
	out := make(map[string]int64, len(cfg.Carriers))
	for _, c := range cfg.Carriers {
		if c.Name != "" && c.RateLimitPerMinute > 0 {
			out[c.Name] = int64(c.RateLimitPerMinute)
		}
	}
	return out
}

func RunShipWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts workerHTTPOpts) error {
	topic := cfg.Kafka.TrackingReportedTopicName
	if topic == "" {
		topic = "carrier.tracking_reported"
	}

	pollInterval := time.Duration(cfg.ShipBox.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	batchSize := cfg.ShipBox.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.ShipBox.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	lease := time.Duration(cfg.ShipBox.WorkerLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}
	rlPerMin := int64(cfg.ShipBox.WorkerRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 120
	}
	callTimeout := time.Duration(cfg.ShipBox.CarrierTimeoutSeconds) * time.Second

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	if c, ok := producer.(interface{ Close() error }); ok {
		defer func() { _ = c.Close() }()
	}

	metrics := telemetry.NewMetrics(nil)
	p := poller.New(repo, f.newTracker(cfg), producer, f.newRateLimiter(cfg), topic).
		WithSettings(pollInterval, batchSize, concurrency, lease, rlPerMin).
		WithCarrierRateLimits(carrierRateLimits(cfg)).
		WithCallTimeout(callTimeout).
		WithPlanner(plannerConfig(cfg)).
		WithMetrics(metrics)

	httpOpts.poller = p
	httpOpts.cfg = cfg
	httpOpts.metrics = metrics.Handler()
	if pinger, ok := repo.(interface{ Ping(context.Context) error }); ok {
		httpOpts.ready = pinger.Ping
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })
	g.Go(func() error { return runWorkerHTTPServer(gctx, httpOpts) })
	return g.Wait()
}
