package bridge

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// engineMetrics carries the engine's counters and latency histogram.
// Every recording method is nil-safe so a failed instrument setup can
// never affect message processing.
type engineMetrics struct {
	accepted  metric.Int64Counter
	rejected  metric.Int64Counter
	forwarded metric.Int64Counter
	duration  metric.Float64Histogram
}

func newEngineMetrics(logger *slog.Logger) *engineMetrics {
	meter := otel.Meter("openclaw.bridge")
	m := &engineMetrics{}
	var err error

	m.accepted, err = meter.Int64Counter("bridge.messages.accepted",
		metric.WithDescription("Messages that passed the full pipeline"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		logger.Warn("failed to create accepted counter", "error", err)
	}

	m.rejected, err = meter.Int64Counter("bridge.messages.rejected",
		metric.WithDescription("Messages rejected by security or policy checks"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		logger.Warn("failed to create rejected counter", "error", err)
	}

	m.forwarded, err = meter.Int64Counter("bridge.messages.forwarded",
		metric.WithDescription("Outbound fanout sends that succeeded"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		logger.Warn("failed to create forwarded counter", "error", err)
	}

	m.duration, err = meter.Float64Histogram("bridge.pipeline.duration",
		metric.WithDescription("Pipeline run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", "error", err)
	}

	return m
}

func channelAttr(ch string) attribute.KeyValue {
	return attribute.String("bridge.channel", ch)
}

func (m *engineMetrics) recordAccepted(ctx context.Context, channel string) {
	if m.accepted != nil {
		m.accepted.Add(ctx, 1, metric.WithAttributes(channelAttr(channel)))
	}
}

func (m *engineMetrics) recordRejected(ctx context.Context, channel, kind string) {
	if m.rejected != nil {
		m.rejected.Add(ctx, 1, metric.WithAttributes(
			channelAttr(channel),
			attribute.String("bridge.reject.kind", kind),
		))
	}
}

func (m *engineMetrics) recordForwarded(ctx context.Context, target string) {
	if m.forwarded != nil {
		m.forwarded.Add(ctx, 1, metric.WithAttributes(attribute.String("bridge.target", target)))
	}
}

func (m *engineMetrics) recordDuration(ctx context.Context, channel string, d time.Duration) {
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(channelAttr(channel)))
	}
}
