package cync

import (
	"context"
	"sync"
	"time"
)

// QueuePolicy selects BoundedQueue's behavior when Put is called
// against a full queue.
type QueuePolicy int

const (
	// QueueBlock waits up to the caller's timeout for space.
	QueueBlock QueuePolicy = iota
	// QueueDropOldest evicts the head before enqueueing.
	QueueDropOldest
	// QueueReject fails immediately.
	QueueReject
)

func (p QueuePolicy) String() string {
	switch p {
	case QueueBlock:
		return "block"
	case QueueDropOldest:
		return "drop_oldest"
	case QueueReject:
		return "reject"
	default:
		return "unknown"
	}
}

// PutResult reports the outcome of a BoundedQueue.Put call.
type PutResult struct {
	Success bool
	Dropped bool
	Reason  string
}

const (
	degradeAfterTimeouts = 10
	restoreAfter         = 60 * time.Second
	restoreBelowFraction = 0.5
)

// BoundedQueue is a bounded FIFO sitting between ReliableTransport's
// receive path and the application, with a configurable overflow
// policy. It is single-producer/single-consumer by contract: the
// router is the only producer, recv_reliable callers the only
// consumer.
type BoundedQueue struct {
	name   string
	policy QueuePolicy
	cap    int

	mu              sync.Mutex
	cond            *sync.Cond
	items           []*TrackedPacket
	consecTimeouts  int
	degraded        bool
	originalPolicy  QueuePolicy
	switchedAt      time.Time
	onPolicySwitch  func(reason string)
}

// NewBoundedQueue returns a queue with the given name (used only in
// errors and metrics labels), capacity and overflow policy.
func NewBoundedQueue(name string, capacity int, policy QueuePolicy) *BoundedQueue {
	q := &BoundedQueue{
		name:           name,
		policy:         policy,
		originalPolicy: policy,
		cap:            capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// OnPolicySwitch registers a callback invoked whenever the BLOCK
// degrade/restore safety net fires. Intended for metrics wiring; fn
// may be nil.
func (q *BoundedQueue) OnPolicySwitch(fn func(reason string)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onPolicySwitch = fn
}

// Put enqueues item, applying the queue's current overflow policy if
// full. timeout bounds how long QueueBlock will wait for space; it is
// ignored by QueueDropOldest and QueueReject.
func (q *BoundedQueue) Put(ctx context.Context, item *TrackedPacket, timeout time.Duration) (PutResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.maybeRestore()

	if len(q.items) < q.cap {
		q.items = append(q.items, item)
		q.consecTimeouts = 0
		q.cond.Signal()
		return PutResult{Success: true}, nil
	}

	switch q.effectivePolicy() {
	case QueueDropOldest:
		if len(q.items) > 0 {
			q.items = q.items[1:]
		}
		q.items = append(q.items, item)
		q.cond.Signal()
		return PutResult{Success: true, Dropped: true}, nil

	case QueueReject:
		return PutResult{Success: false, Reason: "queue_full"}, &QueueFullError{
			QueueName: q.name, Policy: q.policy, QueueSize: len(q.items),
		}

	default: // QueueBlock
		deadline := time.Now().Add(timeout)
		for len(q.items) >= q.cap {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				q.consecTimeouts++
				q.maybeDegrade()
				return PutResult{Success: false, Reason: "timeout"}, nil
			}
			waitOnCond(q.cond, remaining)
			if ctx != nil && ctx.Err() != nil {
				return PutResult{Success: false, Reason: "timeout"}, ctx.Err()
			}
		}
		q.items = append(q.items, item)
		q.consecTimeouts = 0
		q.cond.Signal()
		return PutResult{Success: true}, nil
	}
}

// effectivePolicy returns the policy currently governing Put,
// accounting for a BLOCK→DROP_OLDEST degrade still in effect. Caller
// must hold q.mu.
func (q *BoundedQueue) effectivePolicy() QueuePolicy {
	if q.degraded {
		return QueueDropOldest
	}
	return q.policy
}

// maybeDegrade switches a BLOCK queue to DROP_OLDEST after
// degradeAfterTimeouts consecutive Put timeouts. Caller must hold
// q.mu.
func (q *BoundedQueue) maybeDegrade() {
	if q.policy != QueueBlock || q.degraded {
		return
	}
	if q.consecTimeouts < degradeAfterTimeouts {
		return
	}
	q.degraded = true
	q.switchedAt = time.Now()
	if q.onPolicySwitch != nil {
		q.onPolicySwitch("degrade")
	}
}

// maybeRestore reverts a degraded BLOCK queue once restoreAfter has
// elapsed and occupancy has dropped below restoreBelowFraction of
// capacity. Caller must hold q.mu.
func (q *BoundedQueue) maybeRestore() {
	if !q.degraded {
		return
	}
	if time.Since(q.switchedAt) < restoreAfter {
		return
	}
	if float64(len(q.items)) >= float64(q.cap)*restoreBelowFraction {
		return
	}
	q.degraded = false
	q.consecTimeouts = 0
	if q.onPolicySwitch != nil {
		q.onPolicySwitch("restore")
	}
}

// Get removes and returns the oldest item, waiting up to timeout if
// the queue is empty.
func (q *BoundedQueue) Get(timeout time.Duration) (*TrackedPacket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for len(q.items) == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &PacketReceiveError{Reason: "timeout"}
		}
		waitOnCond(q.cond, remaining)
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

// QSize returns the number of items currently queued.
func (q *BoundedQueue) QSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// waitOnCond waits on cond for up to timeout, using a timer goroutine
// to break the wait since sync.Cond has no native timeout support.
func waitOnCond(cond *sync.Cond, timeout time.Duration) {
	woken := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		cond.L.Lock()
		close(woken)
		cond.Broadcast()
		cond.L.Unlock()
	})
	defer timer.Stop()
	cond.Wait()
	select {
	case <-woken:
	default:
	}
}
