package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RSACollector bundles Prometheus metrics for the RSA service and provides
// helpers to wire them into HTTP handlers.
type RSACollector struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	PathQueries        *prometheus.CounterVec
	Allocations        *prometheus.CounterVec
	Commits            *prometheus.CounterVec
	AllocatedSlots     prometheus.Counter
	OperationDurations *prometheus.HistogramVec

	TopologyDevices   prometheus.Gauge
	TopologyEndpoints prometheus.Gauge
	TopologyLinks     prometheus.Gauge
}

// NewRSACollector registers RSA Prometheus metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewRSACollector(reg prometheus.Registerer) (*RSACollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rsa_http_requests_total",
		Help: "Total number of handled HTTP requests, labeled by route, method, and status code.",
	}, []string{"route", "method", "code"}), "rsa_http_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rsa_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route", "method"}), "rsa_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	pathQueries, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rsa_path_queries_total",
		Help: "Path queries, labeled by result (found, none, error).",
	}, []string{"result"}), "rsa_path_queries_total")
	if err != nil {
		return nil, err
	}
	allocations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rsa_allocations_total",
		Help: "Allocation attempts, labeled by result (ok, fragmented, exhausted, no_band, error).",
	}, []string{"result"}), "rsa_allocations_total")
	if err != nil {
		return nil, err
	}
	commits, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rsa_commits_total",
		Help: "Commit attempts, labeled by result (ok, conflict, invalid, error).",
	}, []string{"result"}), "rsa_commits_total")
	if err != nil {
		return nil, err
	}
	slots, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rsa_allocated_slots_total",
		Help: "Flex-grid slots taken by successful commits.",
	}), "rsa_allocated_slots_total")
	if err != nil {
		return nil, err
	}
	ops, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rsa_operation_duration_seconds",
		Help:    "Duration of RSA service operations.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"operation"}), "rsa_operation_duration_seconds")
	if err != nil {
		return nil, err
	}

	devices, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rsa_topology_devices",
		Help: "Current number of devices in the inventory.",
	}), "rsa_topology_devices")
	if err != nil {
		return nil, err
	}
	endpoints, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rsa_topology_endpoints",
		Help: "Current number of endpoints in the inventory.",
	}), "rsa_topology_endpoints")
	if err != nil {
		return nil, err
	}
	links, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rsa_topology_links",
		Help: "Current number of optical links in the inventory.",
	}), "rsa_topology_links")
	if err != nil {
		return nil, err
	}

	return &RSACollector{
		gatherer:           gatherer,
		HTTPRequests:       requests,
		HTTPDurations:      durations,
		PathQueries:        pathQueries,
		Allocations:        allocations,
		Commits:            commits,
		AllocatedSlots:     slots,
		OperationDurations: ops,
		TopologyDevices:    devices,
		TopologyEndpoints:  endpoints,
		TopologyLinks:      links,
	}, nil
}

// Middleware records request counts and durations. route names the handler
// so path parameters do not explode label cardinality.
func (c *RSACollector) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sw, r)

			if c == nil {
				return
			}
			if c.HTTPRequests != nil {
				c.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(sw.code)).Inc()
			}
			if c.HTTPDurations != nil {
				c.HTTPDurations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
			}
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RSACollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *RSACollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObservePathQuery counts a path query outcome.
func (c *RSACollector) ObservePathQuery(result string) {
	if c == nil || c.PathQueries == nil {
		return
	}
	c.PathQueries.WithLabelValues(result).Inc()
}

// ObserveAllocation counts an allocation outcome.
func (c *RSACollector) ObserveAllocation(result string, _ int) {
	if c == nil || c.Allocations == nil {
		return
	}
	c.Allocations.WithLabelValues(result).Inc()
}

// ObserveCommit counts a commit outcome and, on success, the slots taken.
func (c *RSACollector) ObserveCommit(result string, slots int) {
	if c == nil {
		return
	}
	if c.Commits != nil {
		c.Commits.WithLabelValues(result).Inc()
	}
	if result == "ok" && slots > 0 && c.AllocatedSlots != nil {
		c.AllocatedSlots.Add(float64(slots))
	}
}

// ObserveOperation records the duration of a service operation.
func (c *RSACollector) ObserveOperation(op string, d time.Duration) {
	if c == nil || c.OperationDurations == nil {
		return
	}
	c.OperationDurations.WithLabelValues(op).Observe(d.Seconds())
}

// SetTopologyCounts drives the inventory gauges. The knowledge base calls it
// through its event subscription.
func (c *RSACollector) SetTopologyCounts(devices, endpoints, links int) {
	if c == nil {
		return
	}
	if c.TopologyDevices != nil {
		c.TopologyDevices.Set(float64(devices))
	}
	if c.TopologyEndpoints != nil {
		c.TopologyEndpoints.Set(float64(endpoints))
	}
	if c.TopologyLinks != nil {
		c.TopologyLinks.Set(float64(links))
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
