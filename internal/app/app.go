// Package app wires the solver worker pool, dispatch manager, metric
// cache, and execution control together over a transport: it
// subscribes every inbound topic to the right
// component method, and forwards each component's output to the
// matching outbound topic.
package app

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nebulous-cloud/optimiser-pipeline/internal/config"
	"github.com/nebulous-cloud/optimiser-pipeline/internal/dispatch"
	"github.com/nebulous-cloud/optimiser-pipeline/internal/lifecycle"
	"github.com/nebulous-cloud/optimiser-pipeline/internal/logger"
	"github.com/nebulous-cloud/optimiser-pipeline/internal/messages"
	"github.com/nebulous-cloud/optimiser-pipeline/internal/metriccache"
	"github.com/nebulous-cloud/optimiser-pipeline/internal/transport"
	"github.com/nebulous-cloud/optimiser-pipeline/internal/worker"
	"github.com/nebulous-cloud/optimiser-pipeline/pkg/model"
)

// MetricsSink is the subset of internal/metrics.MetricsEmitter App
// needs, kept as an interface so tests can supply a no-op double.
type MetricsSink interface {
	EmitDrop(reason string)
	EmitSolveFailure(kind string)
	EmitSolutionPublished()
	EmitPoolState(idle, busy, queued int)
}

// noopSink discards every metric; used when App is built without one.
type noopSink struct{}

func (noopSink) EmitDrop(string)                    {}
func (noopSink) EmitSolveFailure(string)             {}
func (noopSink) EmitSolutionPublished()              {}
func (noopSink) EmitPoolState(idle, busy, queued int) {}

// App owns the wired pipeline: the worker pool, the dispatch manager,
// the metric cache, and the lifecycle controller, all talking over one
// transport.
type App struct {
	cfg       config.Config
	transport transport.Transport
	metrics   MetricsSink
	log       *zap.SugaredLogger

	workers  []*worker.Worker
	dispatch *dispatch.Manager
	cache    *metriccache.Cache
	control  *lifecycle.Control

	unsubscribes []func()
}

// New builds the pipeline's components but does not yet subscribe
// them to the transport; call Run to do so.
func New(cfg config.Config, trans transport.Transport, workers []*worker.Worker, sink MetricsSink) *App {
	if sink == nil {
		sink = noopSink{}
	}
	a := &App{
		cfg:       cfg,
		transport: trans,
		metrics:   sink,
		log:       logger.Log,
		workers:   workers,
	}

	entries := make([]dispatch.WorkerEntry, len(workers))
	for i, w := range workers {
		entries[i] = dispatch.WorkerEntry{ID: w.ID, Worker: w}
	}
	a.dispatch = dispatch.NewManager(entries, a.publishSolution, a.onContextDropped)
	a.dispatch.SetBackoffObserver(sink.EmitPoolState)

	a.cache = metriccache.New(a.dispatch.Enqueue, sink.EmitDrop)

	a.control = lifecycle.New(a.publishStatus)

	return a
}

// Control returns the lifecycle controller so main can wait on it and
// wire a signal handler to Stop.
func (a *App) Control() *lifecycle.Control { return a.control }

// Run announces startup, subscribes every inbound topic, and
// announces readiness. It returns once subscriptions are in place;
// the caller blocks on a.Control().WaitForTermination() afterwards.
func (a *App) Run() error {
	a.control.Starting()

	subs := []struct {
		topic   string
		handler transport.Handler
	}{
		{messages.TopicMetricList, a.handleMetricList},
		{messages.TopicModel, a.handleModel},
		{messages.TopicSolverData, a.handleData},
		{messages.TopicSolverContext, a.handleContext},
		{messages.TopicPredictedRoot, a.handlePredictedMetric},
		{messages.TopicSLOSeverity, a.handleSLOSeverity},
		{messages.TopicAppState, a.handleAppState},
		{messages.TopicAdaptations, a.handleAdaptation},
	}
	for _, s := range subs {
		unsub, err := a.transport.Subscribe(s.topic, a.cfg.TenantID, s.handler)
		if err != nil {
			return fmt.Errorf("subscribe %q: %w", s.topic, err)
		}
		a.unsubscribes = append(a.unsubscribes, unsub)
	}

	a.control.Started()
	return nil
}

// Close unsubscribes every inbound topic and closes every worker.
func (a *App) Close() {
	for _, unsub := range a.unsubscribes {
		unsub()
	}
	for _, w := range a.workers {
		w.Close()
	}
}

func (a *App) publishSolution(sol model.Solution) {
	env := messages.SolutionEnvelope{
		Timestamp:         sol.PredictionTime,
		ObjectiveFunction: sol.Objective,
		ObjectiveValues:   sol.ObjectiveValues,
		VariableValues:    sol.VariableValues,
		DeploySolution:    sol.Deploy,
	}
	if err := transport.PublishJSON(a.transport, messages.TopicSolution, a.cfg.TenantID, env); err != nil {
		a.logWarn("failed to publish solution", err)
		return
	}
	a.metrics.EmitSolutionPublished()
}

func (a *App) publishStatus(s lifecycle.Status) {
	env := messages.SolverStateEnvelope{
		When:    s.When.Format("2006-01-02T15:04:05Z07:00"),
		State:   s.State,
		Message: s.Message,
	}
	if err := transport.PublishJSON(a.transport, messages.TopicSolverState, a.cfg.TenantID, env); err != nil {
		a.logWarn("failed to publish solver state", err)
	}
}

func (a *App) onContextDropped(contextID string, err error) {
	a.metrics.EmitSolveFailure(solveFailureKind(err))
	a.metrics.EmitDrop("context " + contextID + ": " + err.Error())
}

func solveFailureKind(err error) string {
	switch {
	case errors.Is(err, model.ErrTypeUnsupported):
		return "TypeUnsupported"
	case errors.Is(err, model.ErrObjectiveMissing):
		return "ObjectiveMissing"
	case errors.Is(err, model.ErrObjectiveUnknown):
		return "ObjectiveUnknown"
	default:
		return "SolveFailed"
	}
}

func (a *App) logWarn(msg string, err error) {
	if a.log != nil {
		a.log.Warnw(msg, "error", err)
	}
}

// broadcast applies fn to every worker in the pool, logging (and
// metering) each failure and continuing on to the rest so one
// misconfigured worker does not silently strand the others.
func (a *App) broadcast(fn func(*worker.Worker) error) {
	for _, w := range a.workers {
		if err := fn(w); err != nil {
			a.logWarn("worker operation failed", err)
			a.metrics.EmitDrop("worker " + w.ID + ": " + err.Error())
		}
	}
}

func (a *App) handleMetricList(msg transport.Message) {
	var env messages.MetricListEnvelope
	if err := decodeJSON(msg.Body, &env); err != nil {
		a.metrics.EmitDrop("malformed metric list message")
		return
	}
	descriptors := make([]metriccache.MetricDescriptor, len(env.Metrics))
	for i, m := range env.Metrics {
		descriptors[i] = metriccache.MetricDescriptor{Name: m.Name}
	}
	if err := a.cache.DeclareMetrics(descriptors, env.Version); err != nil {
		a.metrics.EmitDrop("invalid metric list: " + err.Error())
	}
}

func (a *App) handleModel(msg transport.Message) {
	var env messages.ModelEnvelope
	if err := decodeJSON(msg.Body, &env); err != nil {
		a.metrics.EmitDrop("malformed model message")
		return
	}

	constants := make(map[string]worker.ConstantSpec, len(env.Constants))
	for name, spec := range env.Constants {
		constants[name] = worker.ConstantSpec{Variable: spec.Variable, Value: spec.Value}
	}

	req := worker.ModelRequest{
		ModelFileName:    env.FileName,
		ModelFileContent: env.FileContent,
		DefaultObjective: env.ObjectiveFunction,
		DataFileName:     env.DataFileName,
		DataFileContent:  env.DataFileContent,
		Constants:        constants,
	}
	a.broadcast(func(w *worker.Worker) error { return w.LoadModel(req) })
}

func (a *App) handleData(msg transport.Message) {
	var env messages.DataEnvelope
	if err := decodeJSON(msg.Body, &env); err != nil {
		a.metrics.EmitDrop("malformed data message")
		return
	}
	req := worker.DataRequest{FileName: env.FileName, Content: env.FileContent}
	a.broadcast(func(w *worker.Worker) error { return w.UpdateData(req) })
}

func (a *App) handleContext(msg transport.Message) {
	var env messages.ContextEnvelope
	if err := decodeJSON(msg.Body, &env); err != nil {
		a.metrics.EmitDrop("malformed context message")
		return
	}
	ctx := model.ExecutionContext{
		PredictionTime: env.Timestamp,
		Objective:      env.ObjectiveFunction,
		Metrics:        env.ExecutionContext,
		Deploy:         env.DeploySolution,
	}
	if err := a.dispatch.Enqueue(ctx); err != nil {
		a.metrics.EmitDrop("duplicate context: " + err.Error())
	}
}

func (a *App) handlePredictedMetric(msg transport.Message) {
	var env messages.PredictedMetricEnvelope
	if err := decodeJSON(msg.Body, &env); err != nil {
		a.metrics.EmitDrop("malformed predicted metric message")
		return
	}
	a.cache.UpdateMetric(msg.Topic, env.MetricValue, env.PredictionTime)
}

func (a *App) handleSLOSeverity(msg transport.Message) {
	var env messages.SLOSeverityEnvelope
	if err := decodeJSON(msg.Body, &env); err != nil {
		a.metrics.EmitDrop("malformed slo severity message")
		return
	}
	a.cache.OnViolation(metriccache.ViolationEvent{
		PredictionTime: env.PredictionTime,
		Objective:      env.ObjectiveFunction,
	})
}

func (a *App) handleAppState(msg transport.Message) {
	var env messages.AppStateEnvelope
	if err := decodeJSON(msg.Body, &env); err != nil {
		a.metrics.EmitDrop("malformed app state message")
		return
	}
	a.cache.UpdateLifecycle(model.ApplicationState(env.State))
}

func (a *App) handleAdaptation(transport.Message) {
	a.cache.OnReconfigurationDone()
}

func decodeJSON(body []byte, v any) error {
	return json.Unmarshal(body, v)
}
