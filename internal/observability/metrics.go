package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/example/authgate/internal/config"
)

const meterName = "authgate"

type AppMetrics struct {
	authLoginCounter    metric.Int64Counter
	authRefreshCounter  metric.Int64Counter
	authLogoutCounter   metric.Int64Counter
	accessVerifyCounter metric.Int64Counter
	storeOpCounter      metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)
	loginCounter, err := meter.Int64Counter("auth.login.attempts")
	if err != nil {
		return nil, err
	}
	refreshCounter, err := meter.Int64Counter("auth.refresh.attempts")
	if err != nil {
		return nil, err
	}
	logoutCounter, err := meter.Int64Counter("auth.logout.attempts")
	if err != nil {
		return nil, err
	}
	verifyCounter, err := meter.Int64Counter("auth.access.validations")
	if err != nil {
		return nil, err
	}
	storeCounter, err := meter.Int64Counter("store.operations")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		authLoginCounter:    loginCounter,
		authRefreshCounter:  refreshCounter,
		authLogoutCounter:   logoutCounter,
		accessVerifyCounter: verifyCounter,
		storeOpCounter:      storeCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(provider, status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLoginCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

func RecordAuthRefresh(status string) {
	m := current()
	if m == nil {
		return
	}
	m.authRefreshCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthLogout(scope, status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLogoutCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("status", status),
		),
	)
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	m := current()
	if m == nil {
		return
	}
	m.accessVerifyCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("source", source),
		),
	)
}

func RecordStoreOperation(ctx context.Context, namespace, op, status string) {
	m := current()
	if m == nil {
		return
	}
	m.storeOpCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("namespace", namespace),
			attribute.String("operation", op),
			attribute.String("status", status),
		),
	)
}
