package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	droppedMessagesTotal *prometheus.CounterVec
	solveFailuresTotal   *prometheus.CounterVec
	solutionsPublished   prometheus.Counter
	queueDepth           prometheus.Gauge
	workersIdle          prometheus.Gauge
	workersBusy          prometheus.Gauge
	solveDuration        prometheus.Histogram
)

// InitMetrics registers all custom metrics with the provided registry.
func InitMetrics(registry prometheus.Registerer) {
	droppedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimiser_dropped_messages_total",
			Help: "Total number of inbound messages silently dropped, by reason",
		},
		[]string{"reason"},
	)
	solveFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimiser_solve_failures_total",
			Help: "Total number of Solve calls that failed, by error kind",
		},
		[]string{"kind"},
	)
	solutionsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "optimiser_solutions_published_total",
			Help: "Total number of solutions published on the outbound topic",
		},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "optimiser_dispatch_queue_depth",
			Help: "Number of execution contexts currently waiting for a worker",
		},
	)
	workersIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "optimiser_workers_idle",
			Help: "Number of solver workers currently idle",
		},
	)
	workersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "optimiser_workers_busy",
			Help: "Number of solver workers currently running a Solve",
		},
	)
	solveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "optimiser_solve_duration_seconds",
			Help:    "Duration of engine Solve calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	registry.MustRegister(droppedMessagesTotal)
	registry.MustRegister(solveFailuresTotal)
	registry.MustRegister(solutionsPublished)
	registry.MustRegister(queueDepth)
	registry.MustRegister(workersIdle)
	registry.MustRegister(workersBusy)
	registry.MustRegister(solveDuration)
}

// InitMetricsAndEmitter registers metrics with Prometheus and creates a
// metrics emitter. Convenience wrapper handling both steps.
func InitMetricsAndEmitter(registry prometheus.Registerer) *MetricsEmitter {
	InitMetrics(registry)
	return NewMetricsEmitter()
}

// MetricsEmitter handles emission of custom metrics.
type MetricsEmitter struct{}

// NewMetricsEmitter creates a new metrics emitter.
func NewMetricsEmitter() *MetricsEmitter {
	return &MetricsEmitter{}
}

// EmitDrop records one silently-dropped inbound message, per the
// counter for the pipeline's drop paths.
func (m *MetricsEmitter) EmitDrop(reason string) {
	droppedMessagesTotal.With(prometheus.Labels{"reason": reason}).Inc()
}

// EmitSolveFailure records one failed Solve call, tagged by error kind
// (one of the kinds: TypeUnsupported, ObjectiveMissing,
// ObjectiveUnknown, SolveFailed).
func (m *MetricsEmitter) EmitSolveFailure(kind string) {
	solveFailuresTotal.With(prometheus.Labels{"kind": kind}).Inc()
}

// EmitSolutionPublished records one solution reaching the outbound topic.
func (m *MetricsEmitter) EmitSolutionPublished() {
	solutionsPublished.Inc()
}

// EmitSolveDuration records how long one engine Solve call took.
func (m *MetricsEmitter) EmitSolveDuration(seconds float64) {
	solveDuration.Observe(seconds)
}

// EmitPoolState publishes a snapshot of the worker pool's idle/busy
// split and the dispatch queue depth. Wired as the dispatch manager's
// backoff observer.
func (m *MetricsEmitter) EmitPoolState(idle, busy, queued int) {
	workersIdle.Set(float64(idle))
	workersBusy.Set(float64(busy))
	queueDepth.Set(float64(queued))
}
