package audit

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sikulab/secauth/model"
)

// Recorder dispatches events to a fixed set of shard workers. Events for the
// same account always land on the same shard, which preserves per-account
// causal order; a lockout event can never be written before the failures that
// caused it. A full shard queue drops the event and bumps a counter instead of
// blocking the caller.
type Recorder struct {
	repo    EventRepository
	shards  []chan *model.AuditEvent
	wg      sync.WaitGroup
	dropped atomic.Uint64
	closed  atomic.Bool
}

func NewRecorder(repo EventRepository, shardCount int, queueSize int) *Recorder {
	if shardCount < 1 {
		shardCount = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	r := &Recorder{
		repo:   repo,
		shards: make([]chan *model.AuditEvent, shardCount),
	}
	for i := range r.shards {
		r.shards[i] = make(chan *model.AuditEvent, queueSize)
		r.wg.Add(1)
		go r.run(r.shards[i])
	}
	return r
}

func (r *Recorder) run(events <-chan *model.AuditEvent) {
	defer r.wg.Done()
	for event := range events {
		if err := r.repo.RecordEvent(context.Background(), event); err != nil {
			// Audit durability is best effort; the security decision the event
			// describes has already been made.
			r.dropped.Add(1)
			slog.Error("Failed to persist audit event", "type", event.EventType, "user", event.Username, "error", err)
		}
	}
}

// Record enqueues the event and returns immediately.
func (r *Recorder) Record(event *model.AuditEvent) {
	if r.closed.Load() {
		r.dropped.Add(1)
		return
	}
	select {
	case r.shardFor(event) <- event:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) shardFor(event *model.AuditEvent) chan *model.AuditEvent {
	h := fnv.New32a()
	if event.UserID != 0 {
		var buf [8]byte
		for i := range buf {
			buf[i] = byte(event.UserID >> (8 * i))
		}
		h.Write(buf[:])
	} else {
		// Pre-auth failures have no user id yet; shard on the claimed username
		// so repeated attempts against one account still serialize.
		h.Write([]byte(event.Username))
	}
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Dropped returns the number of events lost to queue overflow or sink errors.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops intake and drains the shard queues.
func (r *Recorder) Close() {
	if r.closed.Swap(true) {
		return
	}
	for _, shard := range r.shards {
		close(shard)
	}
	r.wg.Wait()
}
