package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/commercekit/storefront/internal/cart"
	"github.com/commercekit/storefront/internal/catalog"
	"github.com/commercekit/storefront/internal/checkout"
	"github.com/commercekit/storefront/internal/coupons"
	"github.com/commercekit/storefront/internal/inventory"
	"github.com/commercekit/storefront/internal/messaging"
	"github.com/commercekit/storefront/internal/orders"
	"github.com/commercekit/storefront/internal/payments"
	"github.com/commercekit/storefront/internal/telemetry"
)

const serviceVersion = "0.1.0"

type config struct {
	Port                string `envconfig:"PORT" default:"8080"`
	PostgresURL         string `envconfig:"POSTGRES_URL" required:"true"`
	KafkaBrokers        string `envconfig:"KAFKA_BROKERS"`
	StripeAPIKey        string `envconfig:"STRIPE_API_KEY" required:"true"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
}

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "storefront", serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("storefront", serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	instruments, err := telemetry.NewInstruments()
	if err != nil {
		logger.Error("failed to create instruments", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var producer *messaging.Producer
	if cfg.KafkaBrokers != "" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		producer = messaging.NewProducer(brokers, messaging.TopicOrderCompleted)
		defer func() { _ = producer.Close() }()
	}

	provider, err := payments.NewStripeProvider(cfg.StripeAPIKey, logger)
	if err != nil {
		logger.Error("failed to create payment provider", "error", err)
		os.Exit(1)
	}

	catalogRepo := catalog.NewRepository(db)
	cartRepo := cart.NewRepository(db)
	couponRepo := coupons.NewRepository(db)
	orderRepo := orders.NewRepository(db)
	inventoryRepo := inventory.NewRepository(db)
	inventoryService := inventory.NewService(inventoryRepo, logger)
	inventoryService.InstrumentWith(instruments.InventoryAdjustments)
	snapshotRepo := checkout.NewSnapshotRepository(db)

	checkoutDeps := checkout.Deps{
		Catalog:     catalogRepo,
		Coupons:     couponRepo,
		Orders:      orderRepo,
		Inventory:   inventoryService,
		Snapshots:   snapshotRepo,
		Provider:    provider,
		Instruments: instruments,
		Logger:      logger,
	}
	if producer != nil {
		checkoutDeps.Publisher = producer
	}
	checkoutService, err := checkout.NewService(checkoutDeps)
	if err != nil {
		logger.Error("failed to create checkout service", "error", err)
		os.Exit(1)
	}

	catalogHandler := catalog.NewHandler(catalogRepo, logger)
	cartHandler := cart.NewHandler(cartRepo, logger)
	couponHandler := coupons.NewHandler(couponRepo, logger)
	orderHandler := orders.NewHandler(orderRepo, logger)
	inventoryHandler := inventory.NewHandler(inventoryService, logger)
	checkoutHandler := checkout.NewHandler(checkoutService, cfg.StripeWebhookSecret, logger)

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(h))
	}

	route("POST /products", catalogHandler.HandleCreate)
	route("GET /products", catalogHandler.HandleList)
	route("GET /products/{id}", catalogHandler.HandleGet)

	route("GET /products/{productId}/stock", inventoryHandler.HandleGetStock)
	route("POST /products/{productId}/stock/adjust", inventoryHandler.HandleAdjust)
	route("GET /products/{productId}/stock/history", inventoryHandler.HandleHistory)
	route("GET /products/{productId}/stock/turnover", inventoryHandler.HandleTurnover)
	route("POST /stock/bulk-adjust", inventoryHandler.HandleBulkAdjust)
	route("GET /stock/metrics", inventoryHandler.HandleMetrics)

	route("GET /carts/{userId}", cartHandler.HandleGet)
	route("PUT /carts/{userId}/items", cartHandler.HandleSetLine)
	route("DELETE /carts/{userId}", cartHandler.HandleClear)

	route("POST /coupons", couponHandler.HandleCreate)
	route("GET /coupons/{code}", couponHandler.HandleGet)
	route("DELETE /coupons/{code}", couponHandler.HandleDeactivate)
	route("POST /coupons/{code}/release", couponHandler.HandleRelease)

	route("GET /orders", orderHandler.HandleList)
	route("GET /orders/{id}", orderHandler.HandleGet)
	route("PATCH /orders/{id}/status", orderHandler.HandleUpdateStatus)
	route("POST /orders/transitions/validate", orderHandler.HandleValidateTransitions)

	route("POST /checkout", checkoutHandler.HandleCreateSession)
	route("POST /webhooks/stripe", checkoutHandler.HandleStripeWebhook)

	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(mux, "storefront",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting storefront service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
