package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	dicomerrors "github.com/caio-sobreiro/dicomnode/errors"
)

var (
	ErrAlreadyEnqueued = errors.New("jobs: job already enqueued")
	ErrStarted         = errors.New("jobs: manager already started")
	ErrStopped         = errors.New("jobs: manager stopped")
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSequence makes the manager take job IDs from seq.
func WithSequence(seq *Sequence) Option {
	return func(m *Manager) {
		m.seq = seq
	}
}

// WithStats records job metrics in stats.
func WithStats(stats *Stats) Option {
	return func(m *Manager) {
		m.stats = stats
	}
}

// Manager queues jobs and runs them on a fixed number of workers.
type Manager struct {
	workers int
	logger  *slog.Logger
	seq     *Sequence
	stats   *Stats

	mu          sync.Mutex
	queue       []Job
	running     map[uint64]Job
	subscribers []Listener
	cancel      context.CancelFunc
	stopped     bool
	wake        chan struct{}
	wg          sync.WaitGroup
}

// NewManager builds a manager with the given number of workers, at least one.
func NewManager(workers int, opts ...Option) *Manager {
	if workers < 1 {
		workers = 1
	}
	m := &Manager{
		workers: workers,
		logger:  slog.Default(),
		running: make(map[uint64]Job),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.seq == nil {
		m.seq = &Sequence{}
	}
	if m.stats == nil {
		m.stats = NewStats(nil)
	}
	return m
}

// Stats returns the manager's metrics.
func (m *Manager) Stats() *Stats { return m.stats }

// Subscribe registers l for the events of every job.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, l)
}

// Enqueue assigns the job an ID and queues it. A job is enqueued once.
// Once the manager is stopped the job is cancelled right away and
// ErrStopped is returned with its ID.
func (m *Manager) Enqueue(j Job) (uint64, error) {
	b := j.base()
	id := m.seq.Next()
	if !b.id.CompareAndSwap(0, id) {
		return 0, fmt.Errorf("%w: job %d", ErrAlreadyEnqueued, b.ID())
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		m.cancelQueued(j)
		return id, fmt.Errorf("%w: job %d", ErrStopped, id)
	}
	m.queue = append(m.queue, j)
	m.mu.Unlock()
	m.stats.enqueue()
	m.signal()

	m.logger.Debug("Job queued",
		"job_id", id,
		"kind", j.Kind().String(),
		"ae_title", j.Device().AETitle)
	return id, nil
}

// Cancel removes a queued job, emitting its Cancelled event, or asks a
// running job to abort. It reports whether the job was found.
func (m *Manager) Cancel(id uint64) bool {
	m.mu.Lock()
	for i, j := range m.queue {
		if j.ID() != id {
			continue
		}
		m.queue = append(m.queue[:i], m.queue[i+1:]...)
		m.mu.Unlock()
		m.stats.dequeue()
		m.cancelQueued(j)
		return true
	}
	j, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	j.RequestAbort()
	m.logger.Info("Job abort requested", "job_id", id)
	return true
}

// Pending returns the queued jobs in the order they will run.
func (m *Manager) Pending() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Job(nil), m.queue...)
}

// Running returns the jobs held by a worker, by ID.
func (m *Manager) Running() []Job {
	m.mu.Lock()
	out := make([]Job, 0, len(m.running))
	for _, j := range m.running {
		out = append(out, j)
	}
	m.mu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].ID() < out[b].ID() })
	return out
}

func (m *Manager) IsQueued(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.queue {
		if j.ID() == id {
			return true
		}
	}
	return false
}

func (m *Manager) IsRunning(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[id]
	return ok
}

// Start launches the workers. They stop when ctx is done or Stop is called;
// either way the manager is stopped for good.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if m.cancel != nil {
		return ErrStarted
	}
	ctx, m.cancel = context.WithCancel(ctx)
	context.AfterFunc(ctx, m.shutdown)
	for i := 0; i < m.workers; i++ {
		m.addHandler(ctx, fmt.Sprintf("worker-%d", i))
	}
	m.logger.Info("Job manager started", "workers", m.workers)
	return nil
}

// Stop cancels the queued jobs, aborts the running ones and waits for the
// workers to return.
func (m *Manager) Stop() {
	m.shutdown()
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.logger.Info("Job manager stopped", "stats", m.stats.String())
}

// shutdown refuses further jobs and cancels the queued ones.
func (m *Manager) shutdown() {
	m.mu.Lock()
	m.stopped = true
	queued := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, j := range queued {
		m.stats.dequeue()
		m.cancelQueued(j)
	}
}

func (m *Manager) addHandler(ctx context.Context, tag string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.handleJobs(ctx, tag)
	}()
}

func (m *Manager) handleJobs(ctx context.Context, tag string) {
	for {
		j, claimed := m.next(ctx)
		if j == nil {
			return
		}
		if !claimed {
			// aborted while waiting in the queue
			m.stats.cancel(j.Kind())
			m.emit(j, Listener.OnCancelled)
			continue
		}
		m.run(ctx, j, tag)
	}
}

// next waits for a queued job. claimed is false when the job had been
// aborted before a worker reached it; it is then already Cancelled.
func (m *Manager) next(ctx context.Context) (j Job, claimed bool) {
	for {
		m.mu.Lock()
		if ctx.Err() != nil {
			// shutdown owns whatever is left in the queue
			m.mu.Unlock()
			return nil, false
		}
		if len(m.queue) > 0 {
			j = m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			more := len(m.queue) > 0
			if j.AbortRequested() {
				j.base().transition(Queued, Cancelled)
			} else {
				j.base().transition(Queued, Running)
				m.running[j.ID()] = j
				claimed = true
			}
			m.mu.Unlock()
			m.stats.dequeue()
			if more {
				m.signal()
			}
			return j, claimed
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-m.wake:
		}
	}
}

func (m *Manager) run(ctx context.Context, j Job, tag string) {
	logger := m.logger.With("job_id", j.ID(), "kind", j.Kind().String(), "worker", tag)
	started := time.Now()
	m.stats.start()

	var err error
	if ctx.Err() != nil {
		// stopped between claim and start
		err = dicomerrors.ErrOperationCanceled
	} else {
		m.emit(j, Listener.OnStarted)
		logger.Info("Job started", "ae_title", j.Device().AETitle)
		err = j.Run(ctx)
	}

	m.mu.Lock()
	delete(m.running, j.ID())
	m.mu.Unlock()
	m.stats.complete(j.Kind(), started)

	if errors.Is(err, dicomerrors.ErrOperationCanceled) {
		j.base().transition(Running, Cancelled)
		m.stats.cancel(j.Kind())
		logger.Info("Job cancelled", "duration", time.Since(started))
		m.emit(j, Listener.OnCancelled)
		return
	}
	if err != nil {
		logger.Warn("Job ended with error", "error", err)
	}
	j.base().transition(Running, Finished)
	logger.Info("Job finished", "duration", time.Since(started))
	m.emit(j, Listener.OnFinished)
}

func (m *Manager) cancelQueued(j Job) {
	j.RequestAbort()
	if !j.base().transition(Queued, Cancelled) {
		return
	}
	m.stats.cancel(j.Kind())
	m.logger.Info("Queued job cancelled", "job_id", j.ID())
	m.emit(j, Listener.OnCancelled)
}

// emit delivers an event to the job's own listeners, then to subscribers.
func (m *Manager) emit(j Job, event func(Listener, Job)) {
	for _, l := range j.base().snapshotListeners() {
		event(l, j)
	}
	m.mu.Lock()
	subs := append([]Listener(nil), m.subscribers...)
	m.mu.Unlock()
	for _, l := range subs {
		event(l, j)
	}
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
