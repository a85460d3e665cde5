package pmqos

import (
	"context"
	"log"
	"time"

	"github.com/wattbound/wattd/internal/domain"
	"github.com/wattbound/wattd/internal/infra/metrics"
	"github.com/wattbound/wattd/internal/infra/sqlite"
)

// Recorder persists committed QoS values as transition history. SetTarget
// runs on the controller's timer callback, so it never blocks: updates go
// through a buffered queue; when the queue is full the update is dropped
// and counted instead of stalling the timer.
type Recorder struct {
	db        *sqlite.DB
	sessionID string
	countFn   func() int32 // controller nesting depth at commit time

	queue chan domain.Transition
	done  chan struct{}
	last  domain.QoSValue
}

// NewRecorder creates a recorder for one controller session. countFn may
// be nil. Call Run in a goroutine to start draining.
func NewRecorder(db *sqlite.DB, sessionID string, countFn func() int32) *Recorder {
	return &Recorder{
		db:        db,
		sessionID: sessionID,
		countFn:   countFn,
		queue:     make(chan domain.Transition, 64),
		done:      make(chan struct{}),
		last:      domain.DefaultValue,
	}
}

// SetTarget enqueues a history row when the committed value changed.
// Single-writer: only the controller's timer callback calls this.
func (r *Recorder) SetTarget(v domain.QoSValue) {
	if v == r.last {
		return
	}
	r.last = v

	tr := domain.Transition{
		SessionID: r.sessionID,
		Timestamp: time.Now(),
		Value:     v,
		Reason:    reasonFor(v),
	}
	if r.countFn != nil {
		tr.ActiveCount = r.countFn()
	}

	select {
	case r.queue <- tr:
	default:
		metrics.HistoryDropped.Inc()
	}
}

// Run drains the queue into SQLite until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			// Flush whatever is already queued before exiting.
			for {
				select {
				case tr := <-r.queue:
					r.insert(tr)
				default:
					return
				}
			}
		case tr := <-r.queue:
			r.insert(tr)
		}
	}
}

// Wait blocks until Run has exited.
func (r *Recorder) Wait() {
	<-r.done
}

func (r *Recorder) insert(tr domain.Transition) {
	if _, err := r.db.InsertTransition(tr); err != nil {
		log.Printf("[pmqos] record transition: %v", err)
	}
}

func reasonFor(v domain.QoSValue) string {
	if v.IsDefault() {
		return "idle restored"
	}
	return "bottleneck confirmed"
}
