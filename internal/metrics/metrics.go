// Package metrics exposes the pipeline's Prometheus instrumentation,
// generalized from the teacher's Metrics struct
// (go-server/internal/metrics/metrics.go) — the same promauto
// registration style and per-domain field grouping, retargeted from
// WebSocket/NATS counters to packet pipeline counters (pools, ring
// buffers, sources, dispatcher, subscriptions, thread pools).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics owns every Prometheus collector the pipeline registers.
type Metrics struct {
	// Ring buffers
	RingPushTotal    *prometheus.CounterVec
	RingPushFailures *prometheus.CounterVec
	RingPopTotal     *prometheus.CounterVec
	RingUtilization  *prometheus.GaugeVec

	// Memory pools
	PoolAllocations *prometheus.CounterVec
	PoolFailures    *prometheus.CounterVec
	PoolUtilization *prometheus.GaugeVec

	// Packet factory
	PacketsCreated       prometheus.Counter
	PacketsFromRaw       prometheus.Counter
	PacketsFromStructure prometheus.Counter
	PacketCreateErrors   prometheus.Counter
	PacketCreationTime   prometheus.Histogram

	// Sources
	SourcePacketsGenerated *prometheus.CounterVec
	SourcePacketsDropped   *prometheus.CounterVec
	SourceErrors           *prometheus.CounterVec
	SourceState            *prometheus.GaugeVec

	// Subscriptions
	SubscriptionsActive   prometheus.Gauge
	SubscriptionDelivered *prometheus.CounterVec
	SubscriptionDropped   *prometheus.CounterVec
	DeliveryFailures      prometheus.Counter

	// Dispatcher
	DispatcherReceived     prometheus.Counter
	DispatcherProcessed    prometheus.Counter
	DispatcherDropped      prometheus.Counter
	DispatcherInFlight     prometheus.Gauge
	DispatcherBackpressure prometheus.Counter
	DispatcherPacketRate   prometheus.Gauge

	// Thread pools
	ThreadPoolQueueDepth *prometheus.GaugeVec
	ThreadPoolThreads    *prometheus.GaugeVec
	ResourcePressureCPU  prometheus.Gauge
	ResourcePressureMem  prometheus.Gauge
}

var (
	singletonOnce sync.Once
	singleton     *Metrics
)

// New returns the process's Metrics instance, registering the full
// collector set against the default registry the first time it's
// called. Later calls (e.g. re-Initializing the manager in tests)
// return the same instance rather than re-registering collectors,
// which promauto would otherwise panic on.
func New() *Metrics {
	singletonOnce.Do(func() {
		singleton = newMetrics()
	})
	return singleton
}

func newMetrics() *Metrics {
	return &Metrics{
		RingPushTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "odin_ring_push_total",
			Help: "Total successful ring buffer pushes, by ring name.",
		}, []string{"ring"}),
		RingPushFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "odin_ring_push_failures_total",
			Help: "Total ring buffer pushes rejected because the ring was full.",
		}, []string{"ring"}),
		RingPopTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "odin_ring_pop_total",
			Help: "Total successful ring buffer pops, by ring name.",
		}, []string{"ring"}),
		RingUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odin_ring_utilization_percent",
			Help: "Current ring buffer utilization percentage.",
		}, []string{"ring"}),

		PoolAllocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "odin_pool_allocations_total",
			Help: "Total successful allocations, by pool name.",
		}, []string{"pool"}),
		PoolFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "odin_pool_allocation_failures_total",
			Help: "Total allocation failures due to pool exhaustion, by pool name.",
		}, []string{"pool"}),
		PoolUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odin_pool_utilization_percent",
			Help: "Current pool utilization percentage, by pool name.",
		}, []string{"pool"}),

		PacketsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_packets_created_total",
			Help: "Total packets constructed by the factory.",
		}),
		PacketsFromRaw: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_packets_from_raw_total",
			Help: "Total packets constructed from raw wire bytes.",
		}),
		PacketsFromStructure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_packets_from_structure_total",
			Help: "Total packets constructed via a resolved structure descriptor.",
		}),
		PacketCreateErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_packet_create_errors_total",
			Help: "Total packet construction failures.",
		}),
		PacketCreationTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "odin_packet_creation_seconds",
			Help:    "Time spent constructing a packet.",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
		}),

		SourcePacketsGenerated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "odin_source_packets_generated_total",
			Help: "Total packets generated, by source name.",
		}, []string{"source"}),
		SourcePacketsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "odin_source_packets_dropped_total",
			Help: "Total packets dropped at the source, by source name.",
		}, []string{"source"}),
		SourceErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "odin_source_errors_total",
			Help: "Total source errors, by source name.",
		}, []string{"source"}),
		SourceState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odin_source_state",
			Help: "Current source state as a small integer code, by source name.",
		}, []string{"source"}),

		SubscriptionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "odin_subscriptions_active",
			Help: "Current number of registered subscriptions.",
		}),
		SubscriptionDelivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "odin_subscription_delivered_total",
			Help: "Total packets delivered, by subscription name.",
		}, []string{"subscription"}),
		SubscriptionDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "odin_subscription_dropped_total",
			Help: "Total packets dropped for a subscription (callback panic/error), by subscription name.",
		}, []string{"subscription"}),
		DeliveryFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_delivery_failures_total",
			Help: "Total distribution failures (invalid packets or isolated callback panics).",
		}),

		DispatcherReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_dispatcher_received_total",
			Help: "Total packets received by the dispatcher's hot path.",
		}),
		DispatcherProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_dispatcher_processed_total",
			Help: "Total packets successfully handed to the subscription manager.",
		}),
		DispatcherDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_dispatcher_dropped_total",
			Help: "Total packets dropped by the dispatcher (disabled source, stopped, or backpressure).",
		}),
		DispatcherInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "odin_dispatcher_in_flight",
			Help: "Packets currently being routed through the dispatcher.",
		}),
		DispatcherBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_dispatcher_backpressure_total",
			Help: "Total times backpressure was detected and packets were shed.",
		}),
		DispatcherPacketRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "odin_dispatcher_packet_rate",
			Help: "Estimated packets processed per second.",
		}),

		ThreadPoolQueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odin_threadpool_queue_depth",
			Help: "Current queued task count, by pool name.",
		}, []string{"pool"}),
		ThreadPoolThreads: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odin_threadpool_threads",
			Help: "Worker thread count, by pool name.",
		}, []string{"pool"}),
		ResourcePressureCPU: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "odin_resource_cpu_percent",
			Help: "Smoothed system CPU percentage from the most recent resource-pressure event.",
		}),
		ResourcePressureMem: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "odin_resource_mem_percent",
			Help: "System memory utilization percentage from the most recent resource-pressure event.",
		}),
	}
}

// RecordPacketCreation observes one factory creation's latency and
// outcome.
func (m *Metrics) RecordPacketCreation(d time.Duration, kind string, err error) {
	if err != nil {
		m.PacketCreateErrors.Inc()
		return
	}
	m.PacketsCreated.Inc()
	m.PacketCreationTime.Observe(d.Seconds())
	switch kind {
	case "raw":
		m.PacketsFromRaw.Inc()
	case "structure":
		m.PacketsFromStructure.Inc()
	}
}
