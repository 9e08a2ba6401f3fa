package transport

import (
	"sync"
	"sync/atomic"

	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/message"
	"github.com/eurc17/zenoh/internal/zerror"
)

// txQueue is the backing queue of one logical channel. Push applies the
// per-message congestion control: Block parks the caller until space frees
// up, Drop discards immediately and bumps the dropped counter.
type txQueue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	buf      []message.ZenohMessage
	capacity int
	closed   bool
	dropped  atomic.Uint64
	onDrop   func()
}

func newTxQueue(capacity int, onDrop func()) *txQueue {
	if capacity <= 0 {
		capacity = 64
	}
	q := &txQueue{capacity: capacity, onDrop: onDrop}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// push enqueues m under the given congestion-control policy. The returned
// bool reports whether the message was actually queued; false with a nil
// error means it was dropped by policy.
func (q *txQueue) push(m message.ZenohMessage, cc core.CongestionControl) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) >= q.capacity {
		if q.closed {
			return false, zerror.New(zerror.KindSessionClosed, "transmission queue closed")
		}
		if cc == core.Drop {
			q.dropped.Add(1)
			if q.onDrop != nil {
				q.onDrop()
			}
			return false, nil
		}
		q.notFull.Wait()
	}
	if q.closed {
		return false, zerror.New(zerror.KindSessionClosed, "transmission queue closed")
	}
	q.buf = append(q.buf, m)
	q.notEmpty.Signal()
	return true, nil
}

// pop dequeues the next message, blocking while the queue is open and
// empty. ok==false means the queue was closed and drained.
func (q *txQueue) pop() (message.ZenohMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) == 0 {
		if q.closed {
			return nil, false
		}
		q.notEmpty.Wait()
	}
	m := q.buf[0]
	q.buf = q.buf[1:]
	q.notFull.Signal()
	return m, true
}

// tryPop dequeues without blocking.
func (q *txQueue) tryPop() (message.ZenohMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil, false
	}
	m := q.buf[0]
	q.buf = q.buf[1:]
	q.notFull.Signal()
	return m, true
}

// close wakes every waiter; queued messages may still be popped.
func (q *txQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

// Dropped returns the monotonic count of payloads discarded by the Drop
// policy.
func (q *txQueue) Dropped() uint64 { return q.dropped.Load() }

// sentWindow retains the most recent reliable frames keyed by sequence
// number so they can be retransmitted on demand.
type sentWindow struct {
	mu     sync.Mutex
	frames map[core.ZInt][]byte
	order  []core.ZInt
	size   int
}

func newSentWindow(size int) *sentWindow {
	if size <= 0 {
		size = 64
	}
	return &sentWindow{frames: make(map[core.ZInt][]byte), size: size}
}

// record stores a serialised frame, evicting the oldest beyond the window.
func (s *sentWindow) record(sn core.ZInt, batch []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(batch))
	copy(cp, batch)
	s.frames[sn] = cp
	s.order = append(s.order, sn)
	for len(s.order) > s.size {
		delete(s.frames, s.order[0])
		s.order = s.order[1:]
	}
}

// get returns the retained frame for sn, if still windowed.
func (s *sentWindow) get(sn core.ZInt) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.frames[sn]
	return b, ok
}
