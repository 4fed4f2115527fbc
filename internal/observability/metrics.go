package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nimbuschat/gatekeeper/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	credentialCounter   metric.Int64Counter
	verificationCounter metric.Int64Counter
	quotaCounter        metric.Int64Counter
	adminSessionCounter metric.Int64Counter
	repositoryCounter   metric.Int64Counter
	rateLimitCounter    metric.Int64Counter
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

	meter := mp.Meter("gatekeeper")
	credentialCounter, err := meter.Int64Counter("credential.resolutions")
	if err != nil {
		return nil, err
	}
	verificationCounter, err := meter.Int64Counter("identity.verifications")
	if err != nil {
		return nil, err
	}
	quotaCounter, err := meter.Int64Counter("usage.quota.decisions")
	if err != nil {
		return nil, err
	}
	adminSessionCounter, err := meter.Int64Counter("admin.session.events")
	if err != nil {
		return nil, err
	}
	repositoryCounter, err := meter.Int64Counter("repository.operations")
	if err != nil {
		return nil, err
	}
	rateLimitCounter, err := meter.Int64Counter("ratelimit.decisions")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		credentialCounter:   credentialCounter,
		verificationCounter: verificationCounter,
		quotaCounter:        quotaCounter,
		adminSessionCounter: adminSessionCounter,
		repositoryCounter:   repositoryCounter,
		rateLimitCounter:    rateLimitCounter,
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

// RecordCredentialResolution counts resolver outcomes by transport source.
func RecordCredentialResolution(ctx context.Context, source string) {
	m := current()
	if m == nil {
		return
	}
	m.credentialCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordIdentityVerification counts verifier outcomes by path (bearer or
// cookie-session) and result.
func RecordIdentityVerification(ctx context.Context, path, result string) {
	m := current()
	if m == nil {
		return
	}
	m.verificationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("result", result),
	))
}

// RecordQuotaDecision counts ledger outcomes: allowed, denied,
// no_subscription, error.
func RecordQuotaDecision(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.quotaCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordAdminSessionEvent(ctx context.Context, action, status string) {
	m := current()
	if m == nil {
		return
	}
	m.adminSessionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", status),
	))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, status string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome, mode string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
		attribute.String("mode", mode),
	))
}
