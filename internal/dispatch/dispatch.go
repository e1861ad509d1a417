// Package dispatch implements the dispatch manager: it owns the
// worker pool and the time-sorted queue of pending contexts, matches
// idle workers to waiting contexts, and publishes solutions outward.
package dispatch

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/nebulous-cloud/optimiser-pipeline/internal/logger"
	"github.com/nebulous-cloud/optimiser-pipeline/pkg/model"
)

// SolverWorker is the surface the dispatch manager needs from a
// worker. internal/worker.Worker satisfies it; this keeps the manager
// decoupled from any concrete worker/engine implementation.
type SolverWorker interface {
	Solve(ctx model.ExecutionContext) (*model.Solution, error)
}

// WorkerEntry names one worker in the pool.
type WorkerEntry struct {
	ID     string
	Worker SolverWorker
}

type workerHandle struct {
	id     string
	worker SolverWorker
	busy   bool
}

type pendingEntry struct {
	id             string
	predictionTime int64
	insertSeq      uint64
	ctx            model.ExecutionContext
}

// Manager is the dispatch manager. It is safe for concurrent use:
// Enqueue and the internal worker-completion callbacks all run under
// one mutex, the Go equivalent of a logically single-threaded mailbox
// actor. Each worker's blocking Solve runs on its own goroutine so the
// manager itself never blocks.
type Manager struct {
	mu        chan struct{} // binary semaphore; see lock/unlock below
	workers   []*workerHandle
	byID      map[string]*workerHandle
	byCtx     map[string]*pendingEntry
	order     []*pendingEntry // ascending (predictionTime, insertSeq)
	seq       uint64
	publish   func(model.Solution)
	onDrop    func(contextID string, err error)
	log       *zap.SugaredLogger
	onBackoff func(idle, busy, queued int)
}

// NewManager builds a dispatch manager over the given worker pool.
// publish is called, outside the manager's lock, with every Solution
// the pool produces. onDrop, if non-nil, is called when a context is
// dropped because its worker returned an error.
func NewManager(workers []WorkerEntry, publish func(model.Solution), onDrop func(contextID string, err error)) *Manager {
	m := &Manager{
		mu:      make(chan struct{}, 1),
		byID:    make(map[string]*workerHandle, len(workers)),
		byCtx:   make(map[string]*pendingEntry),
		publish: publish,
		onDrop:  onDrop,
		log:     logger.Log,
	}
	m.mu <- struct{}{}
	for _, w := range workers {
		h := &workerHandle{id: w.ID, worker: w.Worker}
		m.workers = append(m.workers, h)
		m.byID[w.ID] = h
	}
	return m
}

func (m *Manager) lock()   { <-m.mu }
func (m *Manager) unlock() { m.mu <- struct{}{} }

// SetBackoffObserver installs a callback invoked after every queue
// mutation with the current idle/busy worker counts and queue depth,
// for gauges (internal/metrics) to sample.
func (m *Manager) SetBackoffObserver(fn func(idle, busy, queued int)) {
	m.lock()
	m.onBackoff = fn
	m.unlock()
}

// Enqueue accepts one context. If its identifier already exists among
// pending entries it fails with model.ErrDuplicateContext; otherwise
// it is indexed and TryDispatch runs immediately.
func (m *Manager) Enqueue(ctx model.ExecutionContext) error {
	m.lock()
	defer m.unlock()

	id := ctx.ID
	if id == "" {
		id = fmt.Sprintf("ctx-%d-%d", ctx.PredictionTime, m.seq)
	}
	if _, exists := m.byCtx[id]; exists {
		return fmt.Errorf("%w: %s", model.ErrDuplicateContext, id)
	}

	entry := &pendingEntry{id: id, predictionTime: ctx.PredictionTime, insertSeq: m.seq, ctx: ctx}
	m.seq++
	m.byCtx[id] = entry
	m.insertSorted(entry)

	m.tryDispatchLocked()
	return nil
}

func (m *Manager) insertSorted(entry *pendingEntry) {
	i := sort.Search(len(m.order), func(i int) bool {
		if m.order[i].predictionTime != entry.predictionTime {
			return m.order[i].predictionTime > entry.predictionTime
		}
		return m.order[i].insertSeq > entry.insertSeq
	})
	m.order = append(m.order, nil)
	copy(m.order[i+1:], m.order[i:])
	m.order[i] = entry
}

// tryDispatchLocked pairs idle workers with the oldest waiting
// contexts. It must be called with the manager's lock held.
func (m *Manager) tryDispatchLocked() {
	for _, h := range m.workers {
		if h.busy {
			continue
		}
		if len(m.order) == 0 {
			break
		}
		entry := m.order[0]
		m.order = m.order[1:]
		delete(m.byCtx, entry.id)
		h.busy = true
		go m.runSolve(h, entry)
	}
	if m.onBackoff != nil {
		idle, busy := m.counts()
		m.onBackoff(idle, busy, len(m.order))
	}
}

func (m *Manager) counts() (idle, busy int) {
	for _, h := range m.workers {
		if h.busy {
			busy++
		} else {
			idle++
		}
	}
	return idle, busy
}

func (m *Manager) runSolve(h *workerHandle, entry *pendingEntry) {
	sol, err := h.worker.Solve(entry.ctx)
	if err != nil {
		m.OnWorkerError(h.id, entry.id, err)
		return
	}
	m.OnWorkerResult(h.id, sol)
}

// OnWorkerResult returns a worker to Idle, publishes its solution (if
// any — a nil solution means the worker had no problem defined and is
// dropped silently), and runs TryDispatch.
func (m *Manager) OnWorkerResult(workerID string, sol *model.Solution) {
	m.lock()
	h, ok := m.byID[workerID]
	if !ok {
		m.unlock()
		return
	}
	h.busy = false
	m.tryDispatchLocked()
	m.unlock()

	if sol != nil && m.publish != nil {
		m.publish(*sol)
	}
}

// OnWorkerError returns a worker to Idle, drops the provoking context
// without publishing anything, and runs TryDispatch.
func (m *Manager) OnWorkerError(workerID, contextID string, err error) {
	m.lock()
	h, ok := m.byID[workerID]
	if !ok {
		m.unlock()
		return
	}
	h.busy = false
	m.tryDispatchLocked()
	m.unlock()

	if m.log != nil {
		m.log.Warnw("solve failed, context dropped", "worker", workerID, "context", contextID, "error", err)
	}
	if m.onDrop != nil {
		m.onDrop(contextID, err)
	}
}

// QueueDepth and IdleBusy are read-only introspection used by tests;
// the internal/metrics gauges are fed through SetBackoffObserver.
func (m *Manager) QueueDepth() int {
	m.lock()
	defer m.unlock()
	return len(m.order)
}

func (m *Manager) IdleBusy() (idle, busy int) {
	m.lock()
	defer m.unlock()
	return m.counts()
}
