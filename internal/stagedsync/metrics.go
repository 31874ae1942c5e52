package stagedsync

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this package.
	MetricsSubsystem = "stagedsync"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Height of the last committed checkpoint, per stage.
	StageCheckpoint metrics.Gauge
	// Number of execute calls, per stage.
	ExecuteCalls metrics.Counter
	// Number of unwind calls, per stage.
	UnwindCalls metrics.Counter
	// Number of blocks processed by committed execute calls, per stage.
	BlocksProcessed metrics.Counter
	// Number of bad blocks reported, per stage.
	BadBlocks metrics.Counter
	// Number of retried calls, per stage.
	Retries metrics.Counter
	// Duration of stage calls in seconds, per stage and operation.
	StageCallDuration metrics.Histogram
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	stageLabels := append(append([]string{}, labels...), "stage")
	callLabels := append(append([]string{}, stageLabels...), "op")
	return &Metrics{
		StageCheckpoint: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "stage_checkpoint",
			Help:      "Height of the last committed checkpoint.",
		}, stageLabels).With(labelsAndValues...),
		ExecuteCalls: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "execute_calls",
			Help:      "Number of stage execute calls.",
		}, stageLabels).With(labelsAndValues...),
		UnwindCalls: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "unwind_calls",
			Help:      "Number of stage unwind calls.",
		}, stageLabels).With(labelsAndValues...),
		BlocksProcessed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "blocks_processed",
			Help:      "Number of blocks processed by committed execute calls.",
		}, stageLabels).With(labelsAndValues...),
		BadBlocks: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "bad_blocks",
			Help:      "Number of bad blocks reported by stages.",
		}, stageLabels).With(labelsAndValues...),
		Retries: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "retries",
			Help:      "Number of stage calls retried after a transient failure.",
		}, stageLabels).With(labelsAndValues...),
		StageCallDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "stage_call_duration_seconds",
			Help:      "Duration of stage execute and unwind calls.",
			Buckets:   stdprometheus.ExponentialBuckets(0.001, 4, 8),
		}, callLabels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		StageCheckpoint:   discard.NewGauge(),
		ExecuteCalls:      discard.NewCounter(),
		UnwindCalls:       discard.NewCounter(),
		BlocksProcessed:   discard.NewCounter(),
		BadBlocks:         discard.NewCounter(),
		Retries:           discard.NewCounter(),
		StageCallDuration: discard.NewHistogram(),
	}
}
