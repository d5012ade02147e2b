// Package metrics exports prometheus collectors fed from the event bus.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	eventbus "github.com/hanpama/chaingraph/internal/eventbus"
	events "github.com/hanpama/chaingraph/internal/events"
)

const namespace = "chaingraph"

// Collectors holds the exported series.
type Collectors struct {
	HTTPRequests      *prometheus.CounterVec
	GraphQLDuration   *prometheus.HistogramVec
	ChainRPCDuration  *prometheus.HistogramVec
	StorageItems      *prometheus.CounterVec
	GuestExecutions   *prometheus.CounterVec
	GuestExecDuration prometheus.Histogram
	GuestInFlight     prometheus.Gauge
	SchemaWarnings    prometheus.Gauge
}

// New creates the collectors without registering them.
func New() *Collectors {
	return &Collectors{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		GraphQLDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "graphql",
			Name:      "operation_duration_seconds",
			Help:      "GraphQL operation duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type", "outcome"}),
		ChainRPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_duration_seconds",
			Help:      "Node JSON-RPC call duration by method.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"method", "outcome"}),
		StorageItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "storage_items_total",
			Help:      "Storage items read by module and outcome.",
		}, []string{"module", "outcome"}),
		GuestExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guest",
			Name:      "executions_total",
			Help:      "Guest resolver executions by completion path.",
		}, []string{"completion"}),
		GuestExecDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "guest",
			Name:      "execution_duration_seconds",
			Help:      "Guest resolver execution duration.",
			Buckets:   prometheus.DefBuckets,
		}),
		GuestInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "guest",
			Name:      "contexts_in_flight",
			Help:      "Execution contexts that have not completed.",
		}),
		SchemaWarnings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "schema",
			Name:      "unmapped_types",
			Help:      "Wire types without a schema mapping in the served schema.",
		}),
	}
}

func (c *Collectors) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.HTTPRequests,
		c.GraphQLDuration,
		c.ChainRPCDuration,
		c.StorageItems,
		c.GuestExecutions,
		c.GuestExecDuration,
		c.GuestInFlight,
		c.SchemaWarnings,
	}
}

// Register adds the collectors to reg and subscribes them to the global
// event bus. The returned function removes the subscriptions.
func (c *Collectors) Register(reg prometheus.Registerer) (func(), error) {
	for _, col := range c.collectors() {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	unsubs := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.HTTPFinish) {
			c.HTTPRequests.WithLabelValues(e.Request.Method, strconv.Itoa(e.Status)).Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.GraphQLFinish) {
			c.GraphQLDuration.WithLabelValues(e.OperationType, outcome(len(e.Errors) == 0)).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.ChainRPCFinish) {
			c.ChainRPCDuration.WithLabelValues(e.Method, outcome(e.Err == nil)).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.StorageQuery) {
			c.StorageItems.WithLabelValues(e.Module, outcome(e.Err == nil)).Add(float64(len(e.Items)))
		}),
		eventbus.Subscribe(func(_ context.Context, e events.GuestExecStart) {
			c.GuestInFlight.Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.GuestExecFinish) {
			c.GuestInFlight.Dec()
			completion := "joined"
			if e.Forced {
				completion = "forced"
			}
			c.GuestExecutions.WithLabelValues(completion).Inc()
			c.GuestExecDuration.Observe(e.Duration.Seconds())
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}, nil
}

// Handler serves the series gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
