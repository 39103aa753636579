// Package memory provides the in-process job queue implementation.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/saddleworth/pricewatch/internal/pricing"
)

type entry struct {
	job         pricing.Job
	seq         uint64
	leaseExpiry time.Time // zero while queued
}

// Queue is a dedup-aware priority queue with leased delivery. A job for a
// (product, store) pair that is already queued or leased cannot be enqueued
// again; a leased job whose lease lapses before Ack becomes visible to the
// next Dequeue, which is what makes execution at-least-once.
type Queue struct {
	mu       sync.Mutex
	entries  map[string]*entry // job ID -> entry
	inflight map[string]string // dedup key -> job ID
	seq      uint64
	capacity int
	lease    time.Duration
	clock    pricing.Clock
	closed   bool
	wake     chan struct{}
	done     chan struct{}
}

// Config controls queue behavior.
type Config struct {
	Capacity     int
	LeaseTimeout time.Duration
}

// NewQueue constructs a Queue.
func NewQueue(cfg Config, clock pricing.Clock) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 4096
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 2 * time.Minute
	}
	return &Queue{
		entries:  make(map[string]*entry),
		inflight: make(map[string]string),
		capacity: cfg.Capacity,
		lease:    cfg.LeaseTimeout,
		clock:    clock,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Enqueue adds a job unless one for the same (product, store) pair is
// already in flight. The bool reports whether the job was accepted.
func (q *Queue) Enqueue(_ context.Context, job pricing.Job) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, pricing.ErrQueueClosed
	}
	if _, dup := q.inflight[job.DedupKey()]; dup {
		return false, nil
	}
	if len(q.entries) >= q.capacity {
		return false, fmt.Errorf("queue full (%d jobs)", q.capacity)
	}
	q.seq++
	job.Status = pricing.JobStatusQueued
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.clock.Now()
	}
	q.entries[job.ID] = &entry{job: job, seq: q.seq}
	q.inflight[job.DedupKey()] = job.ID
	q.signal()
	return true, nil
}

// Dequeue blocks until an eligible job exists, leases it, and returns it.
func (q *Queue) Dequeue(ctx context.Context) (pricing.Job, error) {
	for {
		job, wait, ok := q.tryLease()
		if ok {
			return job, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return pricing.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.done:
			timer.Stop()
			return pricing.Job{}, pricing.ErrQueueClosed
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// tryLease reclaims lapsed leases, then picks the eligible job with the
// highest priority, oldest first. When nothing is eligible it returns how
// long to wait before the next entry could become so.
func (q *Queue) tryLease() (pricing.Job, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	wait := 500 * time.Millisecond

	var best *entry
	for _, e := range q.entries {
		if !e.leaseExpiry.IsZero() {
			if e.leaseExpiry.After(now) {
				continue
			}
			// Lease lapsed: the worker died mid-job. Make it visible again.
			e.leaseExpiry = time.Time{}
			e.job.Status = pricing.JobStatusQueued
		}
		if e.job.NotBefore.After(now) {
			if d := e.job.NotBefore.Sub(now); d < wait {
				wait = d
			}
			continue
		}
		if best == nil ||
			e.job.Priority > best.job.Priority ||
			(e.job.Priority == best.job.Priority && e.seq < best.seq) {
			best = e
		}
	}
	if best == nil {
		return pricing.Job{}, wait, false
	}
	best.leaseExpiry = now.Add(q.lease)
	best.job.Status = pricing.JobStatusRunning
	return best.job, 0, true
}

// Ack removes a finished job. Call only after the outcome is recorded.
func (q *Queue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[jobID]
	if !ok {
		return fmt.Errorf("ack %s: %w", jobID, pricing.ErrNotFound)
	}
	delete(q.inflight, e.job.DedupKey())
	delete(q.entries, jobID)
	return nil
}

// Retry returns a leased job to the queue, eligible no earlier than delay
// from now. The caller supplies the job with its incremented attempt count.
func (q *Queue) Retry(_ context.Context, job pricing.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[job.ID]
	if !ok {
		return fmt.Errorf("retry %s: %w", job.ID, pricing.ErrNotFound)
	}
	job.Status = pricing.JobStatusQueued
	job.NotBefore = q.clock.Now().Add(delay)
	e.job = job
	e.leaseExpiry = time.Time{}
	q.signal()
	return nil
}

// Depth reports queued plus leased jobs.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close stops accepting work and releases blocked Dequeue calls.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
