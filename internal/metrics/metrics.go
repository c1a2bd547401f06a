// Package metrics provides Prometheus metrics for pushes, merges, and gateway requests.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Push outcomes.
const (
	OutcomeMerged   = "merged"
	OutcomeIgnored  = "ignored"
	OutcomeRejected = "rejected"
)

// Mutation statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics contains all Prometheus metrics of the data layer.
type Metrics struct {
	Pushes            *prometheus.CounterVec
	MergedItems       *prometheus.CounterVec
	DuplicatesDropped *prometheus.CounterVec
	Mutations         *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	registry          *prometheus.Registry
}

// New creates the metrics and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register seismerge metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.Pushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seismerge_pushes_total",
		Help: "Subscription pushes received, by outcome",
	}, []string{"subscription", "outcome"})

	m.MergedItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seismerge_merged_items_total",
		Help: "Items appended to the query cache by subscription merges",
	}, []string{"subscription"})

	m.DuplicatesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seismerge_duplicates_dropped_total",
		Help: "Pushed items dropped because their key was already cached",
	}, []string{"subscription"})

	m.Mutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seismerge_mutations_total",
		Help: "Mutations sent to the gateway, by status",
	}, []string{"operation", "status"})

	m.RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "seismerge_request_duration_seconds",
		Help:    "Duration of gateway requests",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"operation"})
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.Pushes.Describe(ch)
	m.MergedItems.Describe(ch)
	m.DuplicatesDropped.Describe(ch)
	m.Mutations.Describe(ch)
	m.RequestDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.Pushes.Collect(ch)
	m.MergedItems.Collect(ch)
	m.DuplicatesDropped.Collect(ch)
	m.Mutations.Collect(ch)
	m.RequestDuration.Collect(ch)
}

// ObservePush records one push and, when it was merged, how many items it added or dropped.
func (m *Metrics) ObservePush(subscription, outcome string, appended, dropped int) {
	m.Pushes.WithLabelValues(subscription, outcome).Inc()
	if appended > 0 {
		m.MergedItems.WithLabelValues(subscription).Add(float64(appended))
	}
	if dropped > 0 {
		m.DuplicatesDropped.WithLabelValues(subscription).Add(float64(dropped))
	}
}

// ObserveMutation counts a mutation by outcome.
func (m *Metrics) ObserveMutation(operation string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	m.Mutations.WithLabelValues(operation, status).Inc()
}

// ObserveRequest implements graphql.Observer.
func (m *Metrics) ObserveRequest(operation string, d time.Duration, _ error) {
	m.RequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
