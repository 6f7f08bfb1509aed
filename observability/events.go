package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"finerp/core/types"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry counting committed contract events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Committed events segmented by module and event type.",
			}, []string{"module", "type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// RecordBlock counts every event in the block's receipt.
func (m *eventMetrics) RecordBlock(block *types.Block) {
	if m == nil || block == nil || block.Receipt == nil {
		return
	}
	for _, evt := range block.Receipt.Events {
		if evt == nil {
			continue
		}
		module := "unknown"
		if prefix, _, ok := strings.Cut(evt.Type, "."); ok {
			module = prefix
		}
		m.emitted.WithLabelValues(module, label(evt.Type, "unknown")).Inc()
	}
}
