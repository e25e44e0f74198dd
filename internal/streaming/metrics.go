package streaming

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/obwan02/Actionator/internal/streaming"

// hubMetrics holds the hub's counters. Instruments come from the global
// meter provider; without one installed they are no-ops.
type hubMetrics struct {
	published metric.Int64Counter
	dropped   metric.Int64Counter
	delivered metric.Int64Counter
	failures  metric.Int64Counter
}

func newHubMetrics() *hubMetrics {
	meter := otel.Meter(meterName)
	return &hubMetrics{
		published: counter(meter, "actionator.hub.published", "Messages accepted into the hub queue"),
		dropped:   counter(meter, "actionator.hub.dropped", "Messages rejected because the queue was full"),
		delivered: counter(meter, "actionator.hub.delivered", "Frames delivered to subscribers"),
		failures:  counter(meter, "actionator.hub.delivery_failures", "Deliveries that failed and removed a subscriber"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}
