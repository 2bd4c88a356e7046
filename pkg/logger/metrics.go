package logger

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

var (
	logsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "membership",
			Subsystem: "logger",
			Name:      "logs_dropped_total",
			Help:      "Total number of logs dropped by sampling",
		},
		[]string{"level"},
	)

	logsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "membership",
			Subsystem: "logger",
			Name:      "logs_processed_total",
			Help:      "Total number of logs seen by the sampling handler",
		},
		[]string{"level"},
	)

	samplingKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "membership",
			Subsystem: "logger",
			Name:      "sampling_keys",
			Help:      "Distinct messages tracked in the current sampling tick",
		},
	)

	registerOnce sync.Once
)

// RegisterMetrics registers logger metrics with registry, or the default
// registerer when nil. Only the first call has an effect.
func RegisterMetrics(registry prometheus.Registerer) {
	registerOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		for _, c := range []prometheus.Collector{logsDroppedTotal, logsProcessedTotal, samplingKeys} {
			_ = registry.Register(c)
		}
	})
}

func levelToString(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// DroppedTotal returns the dropped logs count for a level.
func DroppedTotal(level string) float64 {
	m, err := logsDroppedTotal.GetMetricWithLabelValues(level)
	if err != nil {
		return 0
	}
	var metric dto.Metric
	if err := m.Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}
