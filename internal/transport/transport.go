package transport

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/message"
	"github.com/eurc17/zenoh/internal/zbuf"
	"github.com/eurc17/zenoh/internal/zerror"
)

// Handler receives the inbound traffic of an established transport.
type Handler interface {
	// HandleMessage is called for every data-layer message, on the
	// transport's single inbound goroutine: per-channel arrival order is the
	// remote emission order.
	HandleMessage(m message.ZenohMessage, ch core.Channel)
	// HandleLeaseExpired is called once when the link went silent for the
	// failure threshold.
	HandleLeaseExpired()
	// HandleClosed is called once when the transport shut down, either on a
	// remote Close, a link error, or a local Close call.
	HandleClosed(reason byte, err error)
}

// Config tunes a transport.
type Config struct {
	Lease      time.Duration // keep-alive lease; keep-alives flow at Lease/4
	BatchSize  int           // outbound batch byte budget; 0 = 65535
	QueueLen   int           // per-channel queue capacity in messages
	WindowSize int           // reliable retransmission window in frames

	// OnDrop is invoked for every payload discarded by the Drop policy, in
	// addition to the per-channel counter.
	OnDrop func(ch core.Channel)
}

// leaseFailureFactor scales the lease period into the silence threshold
// after which the link is considered failed, following the ITU-T
// G.8013/Y.1731 continuous connectivity check convention.
const leaseFailureFactor = 3.5

// DefaultLease is applied when no lease was negotiated.
const DefaultLease = 10 * time.Second

// Transport runs one link: two transmission queues flushed by a writer
// goroutine, an inbound decode goroutine, and the keep-alive schedule.
type Transport struct {
	link    Link
	handler Handler
	log     *logrus.Entry

	lease     time.Duration
	batchSize int

	queues [2]*txQueue // indexed by core.Channel
	window *sentWindow
	sn     [2]core.ZInt // next frame sequence number per channel

	lastRecv atomic.Int64 // unix nanos of the last inbound batch
	lastSent atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// New starts a transport over an established link. The handler is invoked
// from the transport's goroutines.
func New(link Link, handler Handler, cfg Config, log *logrus.Entry) *Transport {
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 65535
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	t := &Transport{
		link:      link,
		handler:   handler,
		log:       log,
		lease:     cfg.Lease,
		batchSize: cfg.BatchSize,
		window:    newSentWindow(cfg.WindowSize),
		closed:    make(chan struct{}),
	}
	for _, ch := range []core.Channel{core.BestEffort, core.Reliable} {
		ch := ch
		var onDrop func()
		if cfg.OnDrop != nil {
			onDrop = func() { cfg.OnDrop(ch) }
		}
		t.queues[ch] = newTxQueue(cfg.QueueLen, onDrop)
	}
	now := time.Now().UnixNano()
	t.lastRecv.Store(now)
	t.lastSent.Store(now)
	t.wg.Add(3)
	go t.readLoop()
	go t.writeLoop()
	go t.leaseLoop()
	return t
}

// Schedule enqueues a data-layer message on the given channel. Under Block
// the call suspends until the queue accepts the frame; under Drop it returns
// immediately, reporting queued=false when the payload was discarded.
func (t *Transport) Schedule(m message.ZenohMessage, ch core.Channel, cc core.CongestionControl) (bool, error) {
	return t.queues[ch].push(m, cc)
}

// Dropped returns the monotonic dropped-frames counter of a channel.
func (t *Transport) Dropped(ch core.Channel) uint64 { return t.queues[ch].Dropped() }

// Lease returns the negotiated lease period.
func (t *Transport) Lease() time.Duration { return t.lease }

// Resend retransmits a reliable frame still held in the sender-side window.
func (t *Transport) Resend(sn core.ZInt) bool {
	batch, ok := t.window.get(sn)
	if !ok {
		return false
	}
	if err := t.link.Send(batch); err != nil {
		return false
	}
	t.lastSent.Store(time.Now().UnixNano())
	return true
}

// Close tears the transport down, sending a Close message best-effort: a
// wedged link must not be able to stall the teardown.
func (t *Transport) Close(reason byte) error {
	t.closeOnce.Do(func() {
		w := zbuf.NewWBuf(t.batchSize)
		if (&message.Close{Reason: reason}).Write(w) {
			sent := make(chan struct{})
			go func() {
				defer close(sent)
				if err := t.link.Send(w.Bytes()); err != nil {
					t.log.WithError(err).Debug("close notification not delivered")
				}
			}()
			select {
			case <-sent:
			case <-time.After(100 * time.Millisecond):
				// The pending send unblocks once the link closes below.
			}
		}
		close(t.closed)
		t.queues[core.BestEffort].close()
		t.queues[core.Reliable].close()
		_ = t.link.Close()
		t.handler.HandleClosed(reason, nil)
	})
	return nil
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// readLoop decodes inbound batches. A parse failure on a single frame drops
// that batch with a warning; a failure on the session header aborts the
// session.
func (t *Transport) readLoop() {
	defer t.wg.Done()
	for {
		batch, err := t.link.Recv()
		if err != nil {
			if !t.isClosed() && err != io.EOF {
				t.log.WithError(err).Warn("link receive failed")
			}
			t.Close(message.CloseGeneric)
			return
		}
		t.lastRecv.Store(time.Now().UnixNano())
		if err := t.dispatchBatch(batch); err != nil {
			if zerror.IsKind(err, zerror.KindHandshake) {
				t.log.WithError(err).Error("session header corrupt, aborting")
				t.Close(message.CloseGeneric)
				return
			}
			t.log.WithError(err).Warn("dropping undecodable frame")
		}
	}
}

func (t *Transport) dispatchBatch(batch []byte) error {
	z := zbuf.NewZBuf(batch)
	first := true
	for z.Remaining() > 0 {
		m, err := message.ReadSessionMessage(z)
		if err != nil {
			if first {
				// Nothing decodable at all: the framing itself is broken.
				return zerror.Wrap(zerror.KindHandshake, "undecodable session header", err)
			}
			return err
		}
		first = false
		switch msg := m.(type) {
		case *message.KeepAlive:
			// Lease countdown already reset by the batch arrival.
		case *message.Frame:
			for _, p := range msg.Payload {
				t.handler.HandleMessage(p, msg.Channel)
			}
		case *message.Close:
			t.log.WithField("reason", msg.Reason).Debug("remote close")
			t.Close(msg.Reason)
			return nil
		default:
			t.log.WithField("id", m.MsgID()).Warn("unexpected session message on established link")
		}
	}
	return nil
}

// writeLoop drains the queues, reliable first, framing each message batch.
func (t *Transport) writeLoop() {
	defer t.wg.Done()
	for {
		m, ch, ok := t.nextOutbound()
		if !ok {
			return
		}
		if err := t.sendFrame(m, ch); err != nil {
			if zerror.IsKind(err, zerror.KindBufferOverflow) {
				// One oversized frame costs that frame, not the link.
				t.log.WithError(err).Warn("dropping oversized frame")
				continue
			}
			if !t.isClosed() {
				t.log.WithError(err).Warn("link send failed")
			}
			t.Close(message.CloseGeneric)
			return
		}
	}
}

// nextOutbound prefers the reliable queue, polling both at a short interval
// when both are empty; best-effort traffic rides the gaps.
func (t *Transport) nextOutbound() (message.ZenohMessage, core.Channel, bool) {
	for {
		if m, ok := t.queues[core.Reliable].tryPop(); ok {
			return m, core.Reliable, true
		}
		if m, ok := t.queues[core.BestEffort].tryPop(); ok {
			return m, core.BestEffort, true
		}
		if t.isClosed() {
			return nil, 0, false
		}
		// Park briefly; a condvar across two queues is not worth the
		// complexity at the frame cadence of a saturated link.
		select {
		case <-t.closed:
			return nil, 0, false
		case <-time.After(200 * time.Microsecond):
		}
	}
}

func (t *Transport) sendFrame(m message.ZenohMessage, ch core.Channel) error {
	w := zbuf.NewWBuf(t.batchSize)
	sn := t.sn[ch]
	t.sn[ch]++
	frame := &message.Frame{Channel: ch, SN: sn, Payload: []message.ZenohMessage{m}}
	mark := w.Mark()
	if !frame.Write(w) {
		w.Revert(mark)
		return zerror.Newf(zerror.KindBufferOverflow,
			"frame exceeds negotiated batch size %d", t.batchSize)
	}
	batch := w.Bytes()
	if ch == core.Reliable {
		t.window.record(sn, batch)
	}
	if err := t.link.Send(batch); err != nil {
		return err
	}
	t.lastSent.Store(time.Now().UnixNano())
	return nil
}

// leaseLoop emits keep-alives at a fourth of the lease when the link is
// otherwise idle and declares the link failed after 3.5 lease periods of
// inbound silence.
func (t *Transport) leaseLoop() {
	defer t.wg.Done()
	interval := t.lease / 4
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case now := <-ticker.C:
			if now.Sub(time.Unix(0, t.lastRecv.Load())) > time.Duration(leaseFailureFactor*float64(t.lease)) {
				t.log.Warn("lease expired: no inbound traffic")
				t.handler.HandleLeaseExpired()
				t.Close(message.CloseExpired)
				return
			}
			if now.Sub(time.Unix(0, t.lastSent.Load())) >= interval {
				t.sendKeepAlive()
			}
		}
	}
}

func (t *Transport) sendKeepAlive() {
	w := zbuf.NewWBuf(t.batchSize)
	if !(&message.KeepAlive{}).Write(w) {
		return
	}
	if err := t.link.Send(w.Bytes()); err != nil {
		if !t.isClosed() {
			t.log.WithError(err).Debug("keep-alive not delivered")
		}
		return
	}
	t.lastSent.Store(time.Now().UnixNano())
}
