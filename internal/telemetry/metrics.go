package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMeterProvider initializes the Prometheus exporter and MeterProvider.
// It returns an http.Handler for the /metrics endpoint and a shutdown function.
func InitMeterProvider(serviceName, serviceVersion string) (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(newResource(serviceName, serviceVersion)),
	)

	otel.SetMeterProvider(mp)

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
		return nil, nil, err
	}

	return promhttp.Handler(), mp.Shutdown, nil
}

// Instruments holds the storefront's domain counters.
type Instruments struct {
	OrdersCreated        metric.Int64Counter
	InventoryAdjustments metric.Int64Counter
	CheckoutSessions     metric.Int64Counter
	WebhookReplays       metric.Int64Counter
}

func NewInstruments() (*Instruments, error) {
	meter := otel.Meter("storefront")

	ordersCreated, err := meter.Int64Counter("storefront.orders.created",
		metric.WithDescription("Orders created from confirmed payments"))
	if err != nil {
		return nil, err
	}

	inventoryAdjustments, err := meter.Int64Counter("storefront.inventory.adjustments",
		metric.WithDescription("Accepted inventory adjustments"))
	if err != nil {
		return nil, err
	}

	checkoutSessions, err := meter.Int64Counter("storefront.checkout.sessions",
		metric.WithDescription("Checkout sessions opened"))
	if err != nil {
		return nil, err
	}

	webhookReplays, err := meter.Int64Counter("storefront.checkout.webhook_replays",
		metric.WithDescription("Payment events that were already processed"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		OrdersCreated:        ordersCreated,
		InventoryAdjustments: inventoryAdjustments,
		CheckoutSessions:     checkoutSessions,
		WebhookReplays:       webhookReplays,
	}, nil
}
