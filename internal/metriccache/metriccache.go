// Package metriccache implements the metric cache: it tracks the
// declared metric set and their last predicted values, the current
// application lifecycle state, and synthesises an execution context
// for the dispatch manager whenever a gated violation event arrives.
// Grounded in the Metric Updater and SLO-violation handling described
// by the metric updater component of an autoscaling control loop.
package metriccache

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nebulous-cloud/optimiser-pipeline/internal/logger"
	"github.com/nebulous-cloud/optimiser-pipeline/internal/messages"
	"github.com/nebulous-cloud/optimiser-pipeline/pkg/model"
)

// MetricDescriptor names one tracked metric.
type MetricDescriptor struct {
	Name string
}

// ViolationEvent is the inbound trigger to attempt a reconfiguration.
type ViolationEvent struct {
	PredictionTime int64
	Objective      string
}

// Cache is the metric cache. All exported methods take an internal lock, matching
// the "handlers are serialised" contract; none of them block on I/O
// themselves — Enqueue below is provided by the caller and is expected
// to be cheap/non-blocking.
type Cache struct {
	mu sync.Mutex

	version   int64
	tracked   map[string]*model.MetricRecord
	validity  int64
	allKnown  bool

	state                model.ApplicationState
	reconfiguring        bool

	enqueue func(model.ExecutionContext) error
	onDrop  func(reason string)
	log     *zap.SugaredLogger
}

// New returns an empty cache. enqueue is called, under no internal
// lock, with the context synthesised by a successful OnViolation.
// onDrop, if non-nil, is called with a short reason string whenever an
// inbound message is silently dropped, for exposing a counter on it.
func New(enqueue func(model.ExecutionContext) error, onDrop func(reason string)) *Cache {
	return &Cache{
		tracked: make(map[string]*model.MetricRecord),
		enqueue: enqueue,
		onDrop:  onDrop,
		log:     logger.Log,
		state:   model.StateNew,
	}
}

// DeclareMetrics replaces the tracked metric set if version is
// strictly greater than the currently held one.
func (c *Cache) DeclareMetrics(metrics []MetricDescriptor, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if version <= c.version {
		return nil
	}

	wanted := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		if m.Name == "" {
			return fmt.Errorf("%w: metric descriptor missing name", model.ErrSchemaInvalid)
		}
		wanted[m.Name] = true
	}

	for name := range c.tracked {
		if !wanted[name] {
			delete(c.tracked, name)
		}
	}
	for name := range wanted {
		if _, ok := c.tracked[name]; !ok {
			c.tracked[name] = &model.MetricRecord{Name: name}
		}
	}

	c.version = version
	c.allKnown = false
	return nil
}

// UpdateMetric resolves topic to a metric name and, if tracked,
// records the new value and advances the validity time.
func (c *Cache) UpdateMetric(topic string, value any, predictionTime int64) {
	name, ok := strings.CutPrefix(topic, messages.TopicPredictedRoot)
	if !ok {
		name = topic
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, tracked := c.tracked[name]
	if !tracked {
		if c.onDrop != nil {
			c.onDrop("metric not tracked: " + name)
		}
		return
	}
	rec.Value = value
	rec.PredictionTime = predictionTime
	if predictionTime > c.validity {
		c.validity = predictionTime
	}
	c.recomputeAllKnownLocked()
}

func (c *Cache) recomputeAllKnownLocked() {
	if c.allKnown {
		return
	}
	for _, rec := range c.tracked {
		if rec.Value == nil {
			return
		}
	}
	c.allKnown = true
}

// UpdateLifecycle replaces the stored application state. A transition
// to Failed or Ready also clears the in-flight flag so a
// reconfiguration that never reports completion does not wedge the
// cache forever.
func (c *Cache) UpdateLifecycle(state model.ApplicationState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	if state == model.StateFailed || state == model.StateReady {
		c.reconfiguring = false
	}
}

// OnViolation attempts a reconfiguration. It is a no-op, logged and
// counted, unless the gate (Running, not already reconfiguring, every
// tracked metric known) holds.
func (c *Cache) OnViolation(event ViolationEvent) {
	c.mu.Lock()
	if c.state != model.StateRunning || c.reconfiguring || !c.allKnown {
		c.mu.Unlock()
		if c.log != nil {
			c.log.Debugw("violation event dropped", "state", c.state, "reconfiguring", c.reconfiguring, "allKnown", c.allKnown)
		}
		if c.onDrop != nil {
			c.onDrop("violation gated out")
		}
		return
	}

	metrics := make(map[string]any, len(c.tracked))
	for name, rec := range c.tracked {
		metrics[name] = rec.Value
	}
	c.reconfiguring = true
	c.state = model.StateDeploying
	c.mu.Unlock()

	ctx := model.ExecutionContext{
		PredictionTime: event.PredictionTime,
		Objective:      event.Objective,
		Metrics:        metrics,
		Deploy:         true,
	}
	if c.enqueue != nil {
		if err := c.enqueue(ctx); err != nil && c.log != nil {
			c.log.Warnw("failed to enqueue execution context from violation", "error", err)
		}
	}
}

// OnReconfigurationDone clears the in-flight flag and, if the state is
// still Deploying (no app-state message has moved it on since), returns
// it to Running, re-opening the gate for the next violation.
func (c *Cache) OnReconfigurationDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconfiguring = false
	if c.state == model.StateDeploying {
		c.state = model.StateRunning
	}
}

// State returns the currently stored application state.
func (c *Cache) State() model.ApplicationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reconfiguring reports whether the self-gate is currently closed.
func (c *Cache) Reconfiguring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconfiguring
}
