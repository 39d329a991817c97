package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/cornchan/cornchan/pkg/config"
	"github.com/cornchan/cornchan/pkg/logging"
)

var (
	tracer trace.Tracer
)

// Init initializes OpenTelemetry with Jaeger and Prometheus exporters and
// Sentry error reporting. The returned function flushes and stops all of them.
func Init(cfg *config.TelemetryConfig) (func(), error) {
	var shutdownFuncs []func(context.Context) error

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			return nil, fmt.Errorf("failed to initialize Sentry: %w", err)
		}
		shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
			sentry.Flush(2 * time.Second)
			return nil
		})
		logging.GetLogger().Info("Sentry initialized")
	}

	if !cfg.Enabled {
		logging.GetLogger().Info("Telemetry disabled")
		return shutdownAll(shutdownFuncs), nil
	}

	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if cfg.JaegerURL != "" {
		jaegerExporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
		if err != nil {
			return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(jaegerExporter),
			sdktrace.WithResource(res),
		)

		otel.SetTracerProvider(tp)
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)

		logging.GetLogger().Info("Jaeger exporter initialized", zap.String("url", cfg.JaegerURL))
	}

	if cfg.PrometheusEnabled {
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}

		mp := metric.NewMeterProvider(
			metric.WithReader(exporter),
			metric.WithResource(res),
		)

		otel.SetMeterProvider(mp)
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.PrometheusPort),
			Handler: promhttp.Handler(),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.GetLogger().Error("Metrics server failed", zap.Error(err))
			}
		}()
		shutdownFuncs = append(shutdownFuncs, srv.Shutdown)

		logging.GetLogger().Info("Prometheus exporter initialized", zap.Int("port", cfg.PrometheusPort))
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = otel.Tracer(cfg.ServiceName)

	return shutdownAll(shutdownFuncs), nil
}

func shutdownAll(fns []func(context.Context) error) func() {
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		for _, fn := range fns {
			if err := func() error {
				ctx, cancel := context.WithTimeout(shutdownCtx, 3*time.Second)
				defer cancel()
				return fn(ctx)
			}(); err != nil {
				logging.GetLogger().Error("Error shutting down telemetry", zap.Error(err))
			}
		}
	}
}

// Tracer returns the global tracer
func Tracer() trace.Tracer {
	if tracer == nil {
		return noop.NewTracerProvider().Tracer("cornchan")
	}
	return tracer
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}
