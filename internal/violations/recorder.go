package violations

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/ppiankov/capwatch/internal/metrics"
	"github.com/ppiankov/capwatch/internal/model"
)

// event is the tagged message flowing through the recorder queue: either a
// violation or an invocation count tick.
type event struct {
	violation *model.Violation
	tool      string
}

// Recorder decouples the enforcer from storage. Producers enqueue without
// blocking; a single background consumer persists. When the queue is full,
// events are dropped and counted; enforcement must never wait on its own
// bookkeeping.
type Recorder struct {
	store *Store
	queue chan event
	drops atomic.Uint64
	done  chan struct{}
}

// NewRecorder creates a recorder with a bounded queue of the given size.
func NewRecorder(store *Store, size int) *Recorder {
	if size <= 0 {
		size = 1024
	}
	return &Recorder{
		store: store,
		queue: make(chan event, size),
		done:  make(chan struct{}),
	}
}

// Enqueue submits a violation for persistence. Never blocks.
func (r *Recorder) Enqueue(v model.Violation) {
	select {
	case r.queue <- event{violation: &v}:
	default:
		r.drops.Add(1)
		metrics.DroppedViolations.Inc()
	}
}

// CountInvocation submits an invocation tick for the tool. Never blocks.
func (r *Recorder) CountInvocation(tool string) {
	select {
	case r.queue <- event{tool: tool}:
	default:
		r.drops.Add(1)
		metrics.DroppedViolations.Inc()
	}
}

// Drops returns the number of events dropped due to a full queue.
func (r *Recorder) Drops() uint64 {
	return r.drops.Load()
}

// Run consumes the queue until ctx is cancelled, then drains what is
// already buffered and signals completion.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case ev := <-r.queue:
			r.persist(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.queue:
					r.persist(ev)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has drained and returned.
func (r *Recorder) Wait() {
	<-r.done
}

func (r *Recorder) persist(ev event) {
	var err error
	if ev.violation != nil {
		err = r.store.Record(*ev.violation)
	} else {
		day := time.Now().UTC().Format("2006-01-02")
		err = r.store.AddInvocations(day, ev.tool, 1)
	}
	if err != nil {
		// Storage failure is operator-visible only; it never reaches the
		// enforcement call site.
		r.drops.Add(1)
		metrics.DroppedViolations.Inc()
		fmt.Fprintf(os.Stderr, "recorder: persist failed: %v\n", err)
	}
}
