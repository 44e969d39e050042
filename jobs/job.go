// Package jobs runs echo, query, retrieve and send operations on a bounded
// pool of workers and reports their progress to listeners.
package jobs

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/caio-sobreiro/dicomnode/types"
)

// Kind names the operation a job performs.
type Kind int

const (
	KindEcho Kind = iota
	KindQuery
	KindRetrieve
	KindSend
)

var kinds = []Kind{KindEcho, KindQuery, KindRetrieve, KindSend}

func (k Kind) String() string {
	switch k {
	case KindEcho:
		return "echo"
	case KindQuery:
		return "query"
	case KindRetrieve:
		return "retrieve"
	case KindSend:
		return "send"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// State is where a job is in its life. Finished and Cancelled are final.
type State int32

const (
	Queued State = iota
	Running
	Finished
	Cancelled
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Cancelled:
		return "cancelled"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Finished || s == Cancelled
}

// Listener receives job events. Events of one job arrive in order.
type Listener interface {
	OnStarted(j Job)
	OnFinished(j Job)
	OnCancelled(j Job)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Started   func(Job)
	Finished  func(Job)
	Cancelled func(Job)
}

func (l ListenerFuncs) OnStarted(j Job) {
	if l.Started != nil {
		l.Started(j)
	}
}

func (l ListenerFuncs) OnFinished(j Job) {
	if l.Finished != nil {
		l.Finished(j)
	}
}

func (l ListenerFuncs) OnCancelled(j Job) {
	if l.Cancelled != nil {
		l.Cancelled(j)
	}
}

// Job is a unit of work run by a Manager. Implementations embed Base.
type Job interface {
	ID() uint64
	Kind() Kind
	Device() types.Device
	State() State
	// RequestAbort asks the job to stop at its next cancellation point.
	// Calling it again has no effect.
	RequestAbort()
	AbortRequested() bool
	// Run performs the operation. It returns errors.ErrOperationCanceled
	// when the operation stopped because of an abort.
	Run(ctx context.Context) error
	AddListener(l Listener)

	base() *Base
}

// Base carries the identity, state and abort flag shared by every job.
type Base struct {
	id     atomic.Uint64
	kind   Kind
	device types.Device
	state  atomic.Int32
	abort  atomic.Bool

	mu        sync.Mutex
	listeners []Listener
	onAbort   func()
}

func (b *Base) init(kind Kind, device types.Device) {
	b.kind = kind
	b.device = device
}

// ID is zero until the job is enqueued.
func (b *Base) ID() uint64 { return b.id.Load() }

func (b *Base) Kind() Kind { return b.kind }

func (b *Base) Device() types.Device { return b.device }

func (b *Base) State() State { return State(b.state.Load()) }

func (b *Base) AbortRequested() bool { return b.abort.Load() }

func (b *Base) RequestAbort() {
	if !b.abort.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	hook := b.onAbort
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// AddListener registers l for this job's events.
func (b *Base) AddListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// setAbortHook forwards aborts to the running engine. The hook runs at once
// when the abort came first.
func (b *Base) setAbortHook(fn func()) {
	b.mu.Lock()
	b.onAbort = fn
	b.mu.Unlock()
	if b.abort.Load() {
		fn()
	}
}

// transition moves the job from one state to another and reports whether
// it did.
func (b *Base) transition(from, to State) bool {
	return b.state.CompareAndSwap(int32(from), int32(to))
}

func (b *Base) snapshotListeners() []Listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Listener(nil), b.listeners...)
}

func (b *Base) base() *Base { return b }

// Sequence hands out job IDs starting at 1.
type Sequence struct {
	n atomic.Uint64
}

// Next returns the next ID.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}
