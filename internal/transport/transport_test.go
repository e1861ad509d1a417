package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_ExactTopicDelivery(t *testing.T) {
	b := NewInMemory()
	var got []Message
	_, err := b.Subscribe("optimiser.controller.model", "tenant-a", func(m Message) {
		got = append(got, m)
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish("optimiser.controller.model", []byte(`{}`), map[string]string{"application": "tenant-a"}))
	require.NoError(t, b.Publish("optimiser.controller.model", []byte(`{}`), map[string]string{"application": "tenant-b"}))

	assert.Len(t, got, 1, "message for a different tenant must be filtered out")
}

func TestInMemory_WildcardRootDelivery(t *testing.T) {
	b := NewInMemory()
	var topics []string
	_, err := b.Subscribe("monitoring.predicted.", "t", func(m Message) {
		topics = append(topics, m.Topic)
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish("monitoring.predicted.cpu", nil, map[string]string{"application": "t"}))
	require.NoError(t, b.Publish("monitoring.predicted.memory", nil, map[string]string{"application": "t"}))
	require.NoError(t, b.Publish("optimiser.solver.data", nil, map[string]string{"application": "t"}))

	assert.ElementsMatch(t, []string{"monitoring.predicted.cpu", "monitoring.predicted.memory"}, topics)
}

func TestInMemory_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewInMemory()
	count := 0
	unsub, err := b.Subscribe("solver.state", "t", func(Message) { count++ })
	require.NoError(t, err)

	require.NoError(t, b.Publish("solver.state", nil, map[string]string{"application": "t"}))
	unsub()
	require.NoError(t, b.Publish("solver.state", nil, map[string]string{"application": "t"}))

	assert.Equal(t, 1, count)
}

func TestPublishJSON_StampsTenantProperty(t *testing.T) {
	b := NewInMemory()
	var props map[string]string
	_, err := b.Subscribe("optimiser.solver.solution", "tenant-x", func(m Message) { props = m.Properties })
	require.NoError(t, err)

	require.NoError(t, PublishJSON(b, "optimiser.solver.solution", "tenant-x", map[string]int{"a": 1}))
	assert.Equal(t, "tenant-x", props["application"])
}
