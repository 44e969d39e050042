package jobs

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rcrowley/go-metrics"
)

// Stats counts jobs waiting and running, and times completed jobs per kind.
type Stats struct {
	registry metrics.Registry
	queued   metrics.Counter
	running  metrics.Counter

	mu    sync.Mutex
	kinds map[Kind]*kindStats
}

type kindStats struct {
	completed metrics.Timer
	cancelled metrics.Counter
}

// NewStats registers the job metrics in registry, or in a private registry
// when registry is nil.
func NewStats(registry metrics.Registry) *Stats {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	s := &Stats{
		registry: registry,
		queued:   metrics.NewCounter(),
		running:  metrics.NewCounter(),
		kinds:    make(map[Kind]*kindStats),
	}
	registry.Register("jobsQueued", s.queued)
	registry.Register("jobsRunning", s.running)
	return s
}

func (s *Stats) get(k Kind) *kindStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks, ok := s.kinds[k]
	if !ok {
		ks = &kindStats{
			completed: metrics.NewTimer(),
			cancelled: metrics.NewCounter(),
		}
		s.registry.Register(fmt.Sprintf("%sCompleted", k), ks.completed)
		s.registry.Register(fmt.Sprintf("%sCancelled", k), ks.cancelled)
		s.kinds[k] = ks
	}
	return ks
}

func (s *Stats) enqueue() { s.queued.Inc(1) }

func (s *Stats) dequeue() { s.queued.Dec(1) }

func (s *Stats) start() { s.running.Inc(1) }

func (s *Stats) complete(k Kind, started time.Time) {
	s.running.Dec(1)
	s.get(k).completed.UpdateSince(started)
}

func (s *Stats) cancel(k Kind) {
	s.get(k).cancelled.Inc(1)
}

// Queued returns the number of jobs waiting for a worker.
func (s *Stats) Queued() int64 { return s.queued.Count() }

// Running returns the number of jobs held by a worker.
func (s *Stats) Running() int64 { return s.running.Count() }

// Completed returns how many jobs of kind k ran to an end, cancelled or not.
func (s *Stats) Completed(k Kind) int64 { return s.get(k).completed.Count() }

// Cancelled returns how many jobs of kind k were cancelled.
func (s *Stats) Cancelled(k Kind) int64 { return s.get(k).cancelled.Count() }

func (s *Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "queued:%v running:%v",
		humanize.Comma(s.Queued()),
		humanize.Comma(s.Running()))
	for _, k := range kinds {
		ks := s.get(k)
		if ks.completed.Count() == 0 && ks.cancelled.Count() == 0 {
			continue
		}
		ps := ks.completed.Percentiles([]float64{0.5, 0.95})
		fmt.Fprintf(&b, " %s[total:%v cancelled:%v min:%v max:%v mean:%v median:%v 95%%:%v]",
			k,
			humanize.Comma(ks.completed.Count()),
			humanize.Comma(ks.cancelled.Count()),
			time.Duration(ks.completed.Min()),
			time.Duration(ks.completed.Max()),
			time.Duration(int64(ks.completed.Mean())),
			time.Duration(int64(ps[0])),
			time.Duration(int64(ps[1])))
	}
	return b.String()
}
