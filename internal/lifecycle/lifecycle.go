// Package lifecycle implements execution control: a process-wide
// running flag that every worker thread can block on, and the status
// broadcast around startup and graceful shutdown. Grounded in
// a process's startup/shutdown execution control loop.
package lifecycle

import (
	"sync"
	"time"
)

// Status is one lifecycle status broadcast, matching the solver.state
// outbound payload.
type Status struct {
	When    time.Time
	State   string // "starting" | "started" | "stopping" | "stopped"
	Message string
}

// Control is the single control object for a process: app.New
// constructs it once and hands it out through App.Control, so this
// package carries no package-level state.
type Control struct {
	mu      sync.Mutex
	cond    *sync.Cond
	running bool
	publish func(Status)
}

// New returns a Control with Running = true, as required at
// construction time.
func New(publish func(Status)) *Control {
	c := &Control{running: true, publish: publish}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Starting announces process startup before components are wired.
func (c *Control) Starting() {
	c.emit("starting", "")
}

// Started announces that the pipeline is wired and serving.
func (c *Control) Started() {
	c.emit("started", "")
}

// Running reports the current value of the running flag.
func (c *Control) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stop is the StopCommand handler: it is idempotent, one-way (Running
// never returns to true), and wakes every thread blocked in
// WaitForTermination.
func (c *Control) Stop() {
	c.mu.Lock()
	stopped := !c.running
	c.mu.Unlock()
	if stopped {
		return
	}

	c.emit("stopping", "")

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	c.cond.Broadcast()

	c.emit("stopped", "")
}

// WaitForTermination blocks the calling goroutine until Stop has been
// called. It tolerates spurious wakeups by re-checking the flag.
func (c *Control) WaitForTermination() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.running {
		c.cond.Wait()
	}
}

func (c *Control) emit(state, message string) {
	if c.publish == nil {
		return
	}
	c.publish(Status{When: time.Now(), State: state, Message: message})
}
