package app

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulous-cloud/optimiser-pipeline/internal/config"
	"github.com/nebulous-cloud/optimiser-pipeline/internal/messages"
	"github.com/nebulous-cloud/optimiser-pipeline/internal/transport"
	"github.com/nebulous-cloud/optimiser-pipeline/internal/worker"
	"github.com/nebulous-cloud/optimiser-pipeline/pkg/engine"
)

// solutionRecorder collects every SolutionEnvelope published during a
// test, safe for concurrent appends from worker goroutines.
type solutionRecorder struct {
	mu   sync.Mutex
	envs []messages.SolutionEnvelope
}

func (r *solutionRecorder) add(env messages.SolutionEnvelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *solutionRecorder) snapshot() []messages.SolutionEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]messages.SolutionEnvelope, len(r.envs))
	copy(out, r.envs)
	return out
}

func (r *solutionRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

func newTestApp(t *testing.T, poolSize int) (*App, *transport.InMemory, *solutionRecorder) {
	t.Helper()
	cfg := config.Defaults()
	cfg.TenantID = "tenant-a"
	cfg.BrokerURL = "tcp://broker"
	cfg.WorkerPoolSize = poolSize

	trans := transport.NewInMemory()

	workers := make([]*worker.Worker, poolSize)
	for i := range workers {
		dir := t.TempDir()
		workers[i] = worker.New(workerID(i), dir, engine.NewLinearEngine())
	}

	a := New(cfg, trans, workers, nil)

	rec := &solutionRecorder{}
	_, err := trans.Subscribe(messages.TopicSolution, cfg.TenantID, func(m transport.Message) {
		var env messages.SolutionEnvelope
		require.NoError(t, json.Unmarshal(m.Body, &env))
		rec.add(env)
	})
	require.NoError(t, err)

	require.NoError(t, a.Run())
	return a, trans, rec
}

func workerID(i int) string {
	return "w" + string(rune('0'+i))
}

func publish(t *testing.T, trans *transport.InMemory, topic, tenant string, v any) {
	t.Helper()
	require.NoError(t, transport.PublishJSON(trans, topic, tenant, v))
}

const coldStartModel = `
var x int 0 100
maximize MaxUtility: x - m
`

func TestApp_ColdStartToFirstSolution(t *testing.T) {
	app, trans, rec := newTestApp(t, 1)
	defer app.Close()

	publish(t, trans, messages.TopicModel, "tenant-a", messages.ModelEnvelope{
		FileName:          "m.mod",
		FileContent:       coldStartModel,
		ObjectiveFunction: "MaxUtility",
	})
	publish(t, trans, messages.TopicMetricList, "tenant-a", messages.MetricListEnvelope{
		Metrics: []messages.MetricDescriptor{{Name: "m"}},
		Version: 1,
	})
	publish(t, trans, "monitoring.predicted.m", "tenant-a", messages.PredictedMetricEnvelope{
		MetricValue:    int64(5),
		PredictionTime: 999,
	})
	publish(t, trans, messages.TopicAppState, "tenant-a", messages.AppStateEnvelope{State: "RUNNING"})
	publish(t, trans, messages.TopicSLOSeverity, "tenant-a", messages.SLOSeverityEnvelope{PredictionTime: 1000})

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	sol := rec.snapshot()[0]
	assert.Equal(t, int64(1000), sol.Timestamp)
	assert.Equal(t, "MaxUtility", sol.ObjectiveFunction)
	assert.True(t, sol.DeploySolution)
	assert.Equal(t, 100.0, sol.VariableValues["x"])
}

func TestApp_ViolationIgnoredBeforeRunning(t *testing.T) {
	app, trans, rec := newTestApp(t, 1)
	defer app.Close()

	publish(t, trans, messages.TopicModel, "tenant-a", messages.ModelEnvelope{
		FileName:          "m.mod",
		FileContent:       coldStartModel,
		ObjectiveFunction: "MaxUtility",
	})
	publish(t, trans, messages.TopicMetricList, "tenant-a", messages.MetricListEnvelope{
		Metrics: []messages.MetricDescriptor{{Name: "m"}},
		Version: 1,
	})
	publish(t, trans, "monitoring.predicted.m", "tenant-a", messages.PredictedMetricEnvelope{
		MetricValue: int64(5), PredictionTime: 999,
	})
	publish(t, trans, messages.TopicSLOSeverity, "tenant-a", messages.SLOSeverityEnvelope{PredictionTime: 1000})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestApp_WhatIfContextsDoNotDeploy(t *testing.T) {
	app, trans, rec := newTestApp(t, 2)
	defer app.Close()

	publish(t, trans, messages.TopicModel, "tenant-a", messages.ModelEnvelope{
		FileName:          "m.mod",
		FileContent:       coldStartModel,
		ObjectiveFunction: "MaxUtility",
	})

	publish(t, trans, messages.TopicSolverContext, "tenant-a", messages.ContextEnvelope{
		Timestamp:        2000,
		ExecutionContext: map[string]any{"m": float64(1)},
		DeploySolution:   false,
	})
	publish(t, trans, messages.TopicSolverContext, "tenant-a", messages.ContextEnvelope{
		Timestamp:        2100,
		ExecutionContext: map[string]any{"m": float64(1)},
		DeploySolution:   false,
	})

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, time.Millisecond)
	for _, sol := range rec.snapshot() {
		assert.False(t, sol.DeploySolution)
	}
}

func TestApp_ParallelContextsAllSolved(t *testing.T) {
	app, trans, rec := newTestApp(t, 3)
	defer app.Close()

	publish(t, trans, messages.TopicModel, "tenant-a", messages.ModelEnvelope{
		FileName:          "m.mod",
		FileContent:       coldStartModel,
		ObjectiveFunction: "MaxUtility",
	})

	for _, ts := range []int64{10, 20, 30, 40, 50} {
		publish(t, trans, messages.TopicSolverContext, "tenant-a", messages.ContextEnvelope{
			Timestamp:        ts,
			ExecutionContext: map[string]any{"m": float64(1)},
		})
	}

	require.Eventually(t, func() bool { return rec.count() == 5 }, 2*time.Second, time.Millisecond)
	seen := make(map[int64]bool)
	for _, sol := range rec.snapshot() {
		seen[sol.Timestamp] = true
	}
	for _, ts := range []int64{10, 20, 30, 40, 50} {
		assert.True(t, seen[ts])
	}
}
