package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instancer_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "instancer_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Lifecycle metrics
	InstanceStartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "instancer_instance_starts_total",
			Help: "Total number of start operations launched",
		},
	)

	InstanceStopsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "instancer_instance_stops_total",
			Help: "Total number of stop operations launched",
		},
	)

	InstanceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instancer_instance_failures_total",
			Help: "Total number of failed lifecycle transitions by reason",
		},
		[]string{"reason"},
	)

	StartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "instancer_start_duration_seconds",
			Help:    "Time taken by the start sequence in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "instancer_stop_duration_seconds",
			Help:    "Time taken by the stop sequence in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "instancer_scheduling_latency_seconds",
			Help:    "Time taken to pick a worker in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlacementFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "instancer_placement_failures_total",
			Help: "Total number of placements that found no reachable worker",
		},
	)

	// Executor metrics
	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "instancer_command_duration_seconds",
			Help:    "Remote command duration in seconds by worker",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"worker"},
	)

	CommandsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instancer_commands_failed_total",
			Help: "Total number of failed remote commands by worker",
		},
		[]string{"worker"},
	)

	// Reconciler metrics
	ProbeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "instancer_probe_duration_seconds",
			Help:    "Time taken for one probe cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProbeCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "instancer_probe_cycles_total",
			Help: "Total number of probe cycles completed",
		},
	)

	// Port allocator metrics
	PortsAllocated = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "instancer_ports_allocated",
			Help: "Number of ports currently allocated by worker",
		},
		[]string{"worker"},
	)

	// Background job metrics
	JobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "instancer_jobs_active",
			Help: "Number of background lifecycle jobs in flight",
		},
	)
)

func init() {
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(InstanceStartsTotal)
	prometheus.MustRegister(InstanceStopsTotal)
	prometheus.MustRegister(InstanceFailures)
	prometheus.MustRegister(StartDuration)
	prometheus.MustRegister(StopDuration)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(PlacementFailures)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(CommandsFailed)
	prometheus.MustRegister(ProbeDuration)
	prometheus.MustRegister(ProbeCyclesTotal)
	prometheus.MustRegister(PortsAllocated)
	prometheus.MustRegister(JobsActive)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
