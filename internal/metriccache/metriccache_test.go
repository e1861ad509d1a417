package metriccache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulous-cloud/optimiser-pipeline/pkg/model"
)

func TestCache_ViolationIgnoredBeforeRunning(t *testing.T) {
	var enqueued []model.ExecutionContext
	c := New(func(ctx model.ExecutionContext) error {
		enqueued = append(enqueued, ctx)
		return nil
	}, nil)

	require.NoError(t, c.DeclareMetrics([]MetricDescriptor{{Name: "m"}}, 1))
	c.UpdateMetric("monitoring.predicted.m", int64(5), 1000)
	c.OnViolation(ViolationEvent{PredictionTime: 1000})

	assert.Empty(t, enqueued)
}

func TestCache_ViolationEmitsContextWhenGateOpen(t *testing.T) {
	var enqueued []model.ExecutionContext
	c := New(func(ctx model.ExecutionContext) error {
		enqueued = append(enqueued, ctx)
		return nil
	}, nil)

	require.NoError(t, c.DeclareMetrics([]MetricDescriptor{{Name: "m"}}, 1))
	c.UpdateMetric("monitoring.predicted.m", int64(5), 1000)
	c.UpdateLifecycle(model.StateRunning)
	c.OnViolation(ViolationEvent{PredictionTime: 1000, Objective: "MaxUtility"})

	require.Len(t, enqueued, 1)
	assert.Equal(t, int64(1000), enqueued[0].PredictionTime)
	assert.Equal(t, "MaxUtility", enqueued[0].Objective)
	assert.True(t, enqueued[0].Deploy)
	assert.Equal(t, int64(5), enqueued[0].Metrics["m"])
	assert.True(t, c.Reconfiguring())
}

func TestCache_ViolationGatedWhileReconfigurationInFlight(t *testing.T) {
	var enqueued []model.ExecutionContext
	c := New(func(ctx model.ExecutionContext) error {
		enqueued = append(enqueued, ctx)
		return nil
	}, nil)

	require.NoError(t, c.DeclareMetrics([]MetricDescriptor{{Name: "m"}}, 1))
	c.UpdateMetric("monitoring.predicted.m", int64(5), 1000)
	c.UpdateLifecycle(model.StateRunning)

	c.OnViolation(ViolationEvent{PredictionTime: 1000})
	c.OnViolation(ViolationEvent{PredictionTime: 1001})
	assert.Len(t, enqueued, 1)

	c.OnReconfigurationDone()
	c.OnViolation(ViolationEvent{PredictionTime: 1002})
	assert.Len(t, enqueued, 2)
}

func TestCache_ViolationGatedUntilAllMetricsKnown(t *testing.T) {
	var enqueued []model.ExecutionContext
	c := New(func(ctx model.ExecutionContext) error {
		enqueued = append(enqueued, ctx)
		return nil
	}, nil)

	require.NoError(t, c.DeclareMetrics([]MetricDescriptor{{Name: "a"}, {Name: "b"}}, 1))
	c.UpdateLifecycle(model.StateRunning)
	c.UpdateMetric("monitoring.predicted.a", int64(1), 10)
	c.OnViolation(ViolationEvent{PredictionTime: 10})
	assert.Empty(t, enqueued, "b has no value yet")

	c.UpdateMetric("monitoring.predicted.b", int64(2), 10)
	c.OnViolation(ViolationEvent{PredictionTime: 11})
	require.Len(t, enqueued, 1)
}

func TestCache_DeclareMetricsIsMonotonicByVersion(t *testing.T) {
	c := New(func(model.ExecutionContext) error { return nil }, nil)

	require.NoError(t, c.DeclareMetrics([]MetricDescriptor{{Name: "a"}}, 5))
	require.NoError(t, c.DeclareMetrics([]MetricDescriptor{{Name: "b"}}, 3)) // stale, ignored

	c.UpdateMetric("monitoring.predicted.a", int64(1), 1)
	c.UpdateMetric("monitoring.predicted.b", int64(1), 1)

	c.UpdateLifecycle(model.StateRunning)
	var enqueued []model.ExecutionContext
	c.enqueue = func(ctx model.ExecutionContext) error {
		enqueued = append(enqueued, ctx)
		return nil
	}
	c.OnViolation(ViolationEvent{PredictionTime: 1})
	require.Len(t, enqueued, 1)
	_, hasB := enqueued[0].Metrics["b"]
	assert.False(t, hasB, "declaration with stale version must not have replaced the tracked set")
}

func TestCache_DeclareMetricsDropsUntrackedMetric(t *testing.T) {
	c := New(func(model.ExecutionContext) error { return nil }, nil)

	require.NoError(t, c.DeclareMetrics([]MetricDescriptor{{Name: "a"}, {Name: "b"}}, 1))
	require.NoError(t, c.DeclareMetrics([]MetricDescriptor{{Name: "a"}}, 2))

	var dropReasons []string
	c.onDrop = func(reason string) { dropReasons = append(dropReasons, reason) }
	c.UpdateMetric("monitoring.predicted.b", int64(9), 1)
	require.Len(t, dropReasons, 1)
}

func TestCache_UpdateLifecycleToFailedClearsInFlightFlag(t *testing.T) {
	c := New(func(model.ExecutionContext) error { return nil }, nil)
	require.NoError(t, c.DeclareMetrics([]MetricDescriptor{{Name: "m"}}, 1))
	c.UpdateMetric("monitoring.predicted.m", int64(1), 1)
	c.UpdateLifecycle(model.StateRunning)
	c.OnViolation(ViolationEvent{PredictionTime: 1})
	require.True(t, c.Reconfiguring())

	c.UpdateLifecycle(model.StateFailed)
	assert.False(t, c.Reconfiguring())
}

func TestCache_DeclareMetricsRejectsUnnamedDescriptor(t *testing.T) {
	c := New(func(model.ExecutionContext) error { return nil }, nil)
	err := c.DeclareMetrics([]MetricDescriptor{{}}, 1)
	assert.ErrorIs(t, err, model.ErrSchemaInvalid)
}
