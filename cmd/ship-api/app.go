package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	shippingapi "github.com/BearBump/ShipBox/internal/api/shipping_api"
	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type shipAPIOpts struct {
	httpAddr    string
	swaggerPath string
	metrics     http.Handler

	topic         string
	consumerGroup string
	consumerPause time.Duration

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Run(ctx context.Context, handler func(key, value []byte) error, pause time.Duration) error
}

type trackingHandler interface {
	HandleTrackingReported(ctx context.Context, msg messages.TrackingReported) error
}

func runShipAPI(ctx context.Context, opts shipAPIOpts, svc shippingapi.Service, consumer kafkaConsumer) error {
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, newRouter(svc, opts))
	}()

	if h, ok := svc.(trackingHandler); ok && consumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			if err := consumer.Run(ctx, trackingReportedHandler(ctx, h), opts.consumerPause); err != nil && ctx.Err() == nil {
				slog.Error("kafka consumer stopped", "error", err.Error())
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

func newRouter(svc shippingapi.Service, opts shipAPIOpts) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	shippingapi.New(svc).Register(r)

	if opts.metrics != nil {
		r.Handle("/metrics", opts.metrics)
	}
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))
	return r
}

// trackingReportedHandler decodes carrier tracking reports. Malformed payloads are
// skipped; they would fail the same way on every redelivery.
func trackingReportedHandler(ctx context.Context, h trackingHandler) func(key, value []byte) error {
	return func(_ []byte, value []byte) error {
		var m messages.TrackingReported
		if err := json.Unmarshal(value, &m); err != nil {
			slog.Warn("malformed tracking report skipped", "error", err.Error())
			return nil
		}
		return h.HandleTrackingReported(ctx, m)
	}
}

func runHTTPServer(ctx context.Context, lis net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
