package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/ShipBox/config"
	"github.com/BearBump/ShipBox/internal/broker/kafka"
	"github.com/BearBump/ShipBox/internal/cache/rediscache"
	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/integrations/carrier/breaker"
	"github.com/BearBump/ShipBox/internal/integrations/carrier/emulatorv1"
	"github.com/BearBump/ShipBox/internal/integrations/carrier/fake"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/shipping"
	"github.com/BearBump/ShipBox/internal/storage/memshipping"
	"github.com/BearBump/ShipBox/internal/storage/pgshipping"
	"github.com/BearBump/ShipBox/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

// shipAPISettings are the config values after defaults.
type shipAPISettings struct {
	httpAddr        string
	consumerGroup   string
	trackingTopic   string
	statusTopic     string
	storage         string
	cacheTTL        time.Duration
	lockTTL         time.Duration
	carrierTimeout  time.Duration
	firstCheckDelay time.Duration
}

func resolveSettings(cfg *config.Config) shipAPISettings {
	s := shipAPISettings{
		httpAddr:        cfg.ShipBox.HTTPAddr,
		consumerGroup:   cfg.ShipBox.KafkaConsumerGroup,
		trackingTopic:   cfg.Kafka.TrackingReportedTopicName,
		statusTopic:     cfg.Kafka.OrderStatusChangedTopicName,
		storage:         cfg.ShipBox.Storage,
		cacheTTL:        time.Duration(cfg.ShipBox.OrderCacheTTLSeconds) * time.Second,
		lockTTL:         time.Duration(cfg.ShipBox.OrderLockTTLSeconds) * time.Second,
		carrierTimeout:  time.Duration(cfg.ShipBox.CarrierTimeoutSeconds) * time.Second,
		firstCheckDelay: time.Duration(cfg.ShipBox.FirstCheckDelaySeconds) * time.Second,
	}
	if s.httpAddr == "" {
		s.httpAddr = ":8080"
	}
	if s.consumerGroup == "" {
		s.consumerGroup = "ship-api"
	}
	if s.trackingTopic == "" {
		s.trackingTopic = "carrier.tracking_reported"
	}
	if s.statusTopic == "" {
		s.statusTopic = "shipping.order_status_changed"
	}
	if s.storage == "" {
		s.storage = "postgres"
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = 10 * time.Minute
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 30 * time.Second
	}
	if s.carrierTimeout <= 0 {
		s.carrierTimeout = 10 * time.Second
	}
	if s.firstCheckDelay <= 0 {
		s.firstCheckDelay = time.Minute
	}
	return s
}

type shipAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     shipAPIOpts
	engine   *shipping.Engine
	consumer *kafka.Consumer
	closers  []func()
}

func mustBootstrapShipAPI() *shipAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		swaggerPath = "api/swagger.json"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse error, %v", err))
	}
	telemetry.SetupLogger(os.Stdout, cfg.ShipBox.LogLevel, "ship-api")
	s := resolveSettings(cfg)

	app := &shipAPIApp{}
	metrics := telemetry.NewMetrics(nil)

	var store shipping.Store
	switch s.storage {
	case "memory":
		slog.Warn("using in-memory storage; data is lost on restart")
		store = memshipping.New()
	case "postgres":
		st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
		app.closers = append(app.closers, st.Close)
		store = st
	default:
		panic(fmt.Sprintf("unknown storage %q", s.storage))
	}

	engine := shipping.New(store, newGateway(cfg), newRegistry(cfg)).
		WithGatewayTimeout(s.carrierTimeout, s.firstCheckDelay).
		WithMetrics(metrics)

	if cfg.Redis.Host != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
		app.closers = append(app.closers, func() { _ = rdb.Close() })
		engine.WithCache(rediscache.NewWithClient(rdb), s.cacheTTL).
			WithLocker(rediscache.NewLockerWithClient(rdb), s.lockTTL)
	} else {
		slog.Warn("redis not configured; order cache disabled, order locks are process-local")
	}

	if cfg.Kafka.Host != "" {
		producer := kafka.NewProducer(cfg.Kafka.Brokers())
		app.closers = append(app.closers, func() { _ = producer.Close() })
		engine.WithPublisher(producer, s.statusTopic)
		app.consumer = kafka.NewConsumer(cfg.Kafka.Brokers(), s.trackingTopic, s.consumerGroup)
	} else {
		slog.Warn("kafka not configured; tracking reports are accepted over HTTP only")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app.ctx, app.cancel = ctx, cancel
	app.engine = engine
	app.opts = shipAPIOpts{
		httpAddr:      s.httpAddr,
		swaggerPath:   swaggerPath,
		topic:         s.trackingTopic,
		consumerGroup: s.consumerGroup,
		consumerPause: 2 * time.Second,
		metrics:       metrics.Handler(),
	}
	return app
}

// newRegistry builds the carrier registry from config. Without configured
// carriers a single "FAKE" carrier is registered so local runs work.
func newRegistry(cfg *config.Config) *carrier.Registry {
	reg := carrier.NewRegistry(cfg.ShippingCarriers()...)
	if reg.Count() == 0 {
		reg.Register(models.ShippingCarrier{Name: "FAKE"})
	}
	return reg
}

// newGateway picks the carrier emulator when configured, else the in-process fake,
// and puts a circuit breaker in front of either.
func newGateway(cfg *config.Config) carrier.Client {
	var next carrier.Client
	if cfg.ShipBox.CarrierGateway == "emulator" && cfg.ShipBox.CarrierEmulatorBaseURL != "" {
		next = emulatorv1.New(cfg.ShipBox.CarrierEmulatorBaseURL, cfg.ShipBox.CarrierEmulatorAPIKey)
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
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgshipping.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgshipping.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *shipAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *shipAPIApp) Run() error {
	var consumer kafkaConsumer
	if a.consumer != nil {
		consumer = a.consumer
	}
	return runShipAPI(a.ctx, a.opts, a.engine, consumer)
}
