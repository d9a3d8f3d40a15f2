package telemetry

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const defaultMetricExportInterval = 60 * time.Second

// Metric groups selectable with MCP_METRICS_GROUPS
const (
	MetricGroupTool       = "tool"
	MetricGroupSession    = "session"
	MetricGroupConversion = "conversion"
)

var (
	metricsMutex        sync.RWMutex
	globalMeterProvider *sdkmetric.MeterProvider
	metricsEnabled      bool
	enabledMetricGroups map[string]bool

	toolCallsCounter      metric.Int64Counter
	toolDurationHistogram metric.Float64Histogram
	toolErrorsCounter     metric.Int64Counter

	activeSessionsGauge metric.Int64UpDownCounter

	conversionsCounter     metric.Int64Counter
	conversionBytesHist    metric.Int64Histogram
	conversionDurationHist metric.Float64Histogram
)

// InitMetrics sets up OTLP metrics on the same endpoint as tracing. Without an endpoint every
// Record function is a no-op.
func InitMetrics(logger *logrus.Logger) (func() error, error) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	noopShutdown := func() error { return nil }

	enabledMetricGroups = parseToolList(os.Getenv("MCP_METRICS_GROUPS"))
	if len(enabledMetricGroups) == 0 {
		enabledMetricGroups = map[string]bool{
			MetricGroupTool:       true,
			MetricGroupSession:    true,
			MetricGroupConversion: true,
		}
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" || strings.EqualFold(os.Getenv("OTEL_SDK_DISABLED"), "true") {
		logger.Debug("OTEL Metrics: Not configured, metrics disabled")
		metricsEnabled = false
		return noopShutdown, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var exporter sdkmetric.Exporter
	var err error
	switch protocol := getOTLPProtocol(); protocol {
	case "grpc":
		exporter, err = otlpmetricgrpc.New(ctx)
	case "http/protobuf", "http":
		exporter, err = otlpmetrichttp.New(ctx)
	default:
		logger.WithField("protocol", protocol).Warn("OTEL Metrics: Unknown protocol, defaulting to http")
		exporter, err = otlpmetrichttp.New(ctx)
	}
	if err != nil {
		metricsEnabled = false
		return noopShutdown, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(getMetricExportInterval(logger)),
		)),
		sdkmetric.WithResource(newResource(ctx, logger)),
	)
	otel.SetMeterProvider(provider)

	if err := initMetricInstruments(provider.Meter(instrumentationName)); err != nil {
		_ = provider.Shutdown(ctx)
		return noopShutdown, err
	}

	globalMeterProvider = provider
	metricsEnabled = true
	logger.WithField("endpoint", endpoint).Info("OTEL Metrics: Meter initialised")

	return func() error {
		metricsMutex.Lock()
		defer metricsMutex.Unlock()

		if globalMeterProvider == nil {
			return nil
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		err := globalMeterProvider.Shutdown(shutdownCtx)
		globalMeterProvider = nil
		metricsEnabled = false
		return err
	}, nil
}

// initMetricInstruments must be called with metricsMutex held
func initMetricInstruments(meter metric.Meter) error {
	var err error

	if enabledMetricGroups[MetricGroupTool] {
		if toolCallsCounter, err = meter.Int64Counter("mcp.tool.calls",
			metric.WithDescription("Total tool invocations"),
			metric.WithUnit("{call}"),
		); err != nil {
			return err
		}
		if toolDurationHistogram, err = meter.Float64Histogram("mcp.tool.duration",
			metric.WithDescription("Tool execution duration"),
			metric.WithUnit("ms"),
			metric.WithExplicitBucketBoundaries(10, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000),
		); err != nil {
			return err
		}
		if toolErrorsCounter, err = meter.Int64Counter("mcp.tool.errors",
			metric.WithDescription("Tool execution errors by category"),
			metric.WithUnit("{error}"),
		); err != nil {
			return err
		}
	}

	if enabledMetricGroups[MetricGroupSession] {
		if activeSessionsGauge, err = meter.Int64UpDownCounter("mcp.session.active",
			metric.WithDescription("Active MCP sessions"),
			metric.WithUnit("{session}"),
		); err != nil {
			return err
		}
	}

	if enabledMetricGroups[MetricGroupConversion] {
		if conversionsCounter, err = meter.Int64Counter("markdownify.conversions",
			metric.WithDescription("Conversions by operation and result"),
			metric.WithUnit("{conversion}"),
		); err != nil {
			return err
		}
		if conversionBytesHist, err = meter.Int64Histogram("markdownify.output.size",
			metric.WithDescription("Size of the produced Markdown"),
			metric.WithUnit("By"),
			metric.WithExplicitBucketBoundaries(1<<10, 1<<12, 1<<14, 1<<16, 1<<18, 1<<20, 1<<22),
		); err != nil {
			return err
		}
		if conversionDurationHist, err = meter.Float64Histogram("markdownify.conversion.duration",
			metric.WithDescription("Conversion duration excluding the MCP layer"),
			metric.WithUnit("ms"),
			metric.WithExplicitBucketBoundaries(10, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000),
		); err != nil {
			return err
		}
	}

	return nil
}

// IsMetricsEnabled reports whether metrics are exported
func IsMetricsEnabled() bool {
	metricsMutex.RLock()
	defer metricsMutex.RUnlock()
	return metricsEnabled
}

func groupEnabled(group string) bool {
	metricsMutex.RLock()
	defer metricsMutex.RUnlock()
	return metricsEnabled && enabledMetricGroups[group]
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordToolCall counts a tool invocation and its duration
func RecordToolCall(ctx context.Context, toolName, transport string, success bool, durationMs float64) {
	if !groupEnabled(MetricGroupTool) {
		return
	}

	toolCallsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool.name", toolName),
		attribute.String("transport", transport),
		attribute.String("result", resultLabel(success)),
	))
	toolDurationHistogram.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("tool.name", toolName),
		attribute.String("transport", transport),
	))
}

// RecordToolError counts a failed call by category
func RecordToolError(ctx context.Context, toolName, category string) {
	if !groupEnabled(MetricGroupTool) {
		return
	}

	toolErrorsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool.name", toolName),
		attribute.String("error.type", category),
	))
}

// RecordSessionStart increments the active session gauge
func RecordSessionStart(ctx context.Context, transport string) {
	if !groupEnabled(MetricGroupSession) {
		return
	}
	activeSessionsGauge.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}

// RecordSessionEnd decrements the active session gauge
func RecordSessionEnd(ctx context.Context, transport string) {
	if !groupEnabled(MetricGroupSession) {
		return
	}
	activeSessionsGauge.Add(ctx, -1, metric.WithAttributes(attribute.String("transport", transport)))
}

// RecordConversion counts a dispatcher conversion, its duration and, on success, its output size
func RecordConversion(ctx context.Context, operation string, success bool, outputBytes int, duration time.Duration) {
	if !groupEnabled(MetricGroupConversion) {
		return
	}

	opAttr := attribute.String(AttrConversionOperation, operation)
	conversionsCounter.Add(ctx, 1, metric.WithAttributes(opAttr, attribute.String("result", resultLabel(success))))
	conversionDurationHist.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(opAttr))
	if success {
		conversionBytesHist.Record(ctx, int64(outputBytes), metric.WithAttributes(opAttr))
	}
}

func getMetricExportInterval(logger *logrus.Logger) time.Duration {
	intervalStr := os.Getenv("OTEL_METRIC_EXPORT_INTERVAL")
	if intervalStr == "" {
		return defaultMetricExportInterval
	}

	// bare numbers are seconds
	duration, err := time.ParseDuration(intervalStr)
	if err != nil {
		if duration, err = time.ParseDuration(intervalStr + "s"); err != nil {
			logger.WithField("interval", intervalStr).Warn("OTEL Metrics: Invalid export interval, using default")
			return defaultMetricExportInterval
		}
	}
	return duration
}
