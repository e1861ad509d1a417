package lifecycle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControl_RunningTrueAtConstruction(t *testing.T) {
	c := New(nil)
	assert.True(t, c.Running())
}

func TestControl_StopIsOneWay(t *testing.T) {
	c := New(nil)
	c.Stop()
	assert.False(t, c.Running())
	c.Stop() // idempotent, must not panic or flip back
	assert.False(t, c.Running())
}

func TestControl_WaitForTerminationReleasesAllWaiters(t *testing.T) {
	c := New(nil)
	var wg sync.WaitGroup
	const waiters = 5
	wg.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			defer wg.Done()
			c.WaitForTermination()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	c.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "waiters were not released within timeout")
	}
}

func TestControl_EmitsStatusSequence(t *testing.T) {
	var states []string
	var mu sync.Mutex
	c := New(func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	c.Starting()
	c.Started()
	c.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"starting", "started", "stopping", "stopped"}, states)
}
