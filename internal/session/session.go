package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/message"
	"github.com/eurc17/zenoh/internal/transport"
	"github.com/eurc17/zenoh/internal/zbuf"
	"github.com/eurc17/zenoh/internal/zerror"
)

// Version is the protocol version offered during the handshake.
const Version byte = 0x05

// Local describes the opening endpoint.
type Local struct {
	Pid     core.PeerId
	WhatAmI core.WhatAmI
	Lease   time.Duration
	Config  transport.Config
}

// Events receives the data-layer traffic and lifecycle notifications of a
// session. Callbacks run on the session's inbound goroutine: per-channel
// order is the remote emission order.
type Events interface {
	OnMessage(s *Session, m message.ZenohMessage, ch core.Channel)
	OnStateChange(s *Session, st State)
}

// Session is an established conversation with one remote endpoint.
type Session struct {
	pid     core.PeerId
	whatami core.WhatAmI
	lease   time.Duration

	tr    *transport.Transport
	state stateMachine
	ev    Events
	log   *logrus.Entry

	mu        sync.RWMutex
	remoteRes map[core.ResourceId]string // rid -> name, declared by the peer
}

// Open performs the opener side of the handshake on an established link and
// returns the running session.
func Open(link transport.Link, local Local, ev Events) (*Session, error) {
	open := &message.Open{
		Version: Version,
		WhatAmI: local.WhatAmI,
		Pid:     local.Pid,
		Lease:   core.ZInt(local.Lease / time.Millisecond),
	}
	if err := sendRaw(link, open); err != nil {
		_ = link.Close()
		return nil, zerror.Wrap(zerror.KindHandshake, "open not delivered", err)
	}
	reply, err := recvRaw(link)
	if err != nil {
		_ = link.Close()
		return nil, zerror.Wrap(zerror.KindHandshake, "no accept received", err)
	}
	accept, ok := reply.(*message.Accept)
	if !ok {
		_ = link.Close()
		return nil, zerror.Newf(zerror.KindHandshake, "expected Accept, got 0x%02x", reply.MsgID())
	}
	if !accept.OPid.Equal(local.Pid) {
		_ = link.Close()
		return nil, zerror.New(zerror.KindHandshake, "accept for a different opener")
	}
	lease := minLease(local.Lease, time.Duration(accept.Lease)*time.Millisecond)
	return establish(link, local, ev, accept.APid, accept.WhatAmI, lease)
}

// Accept performs the listener side of the handshake.
func Accept(link transport.Link, local Local, ev Events) (*Session, error) {
	first, err := recvRaw(link)
	if err != nil {
		_ = link.Close()
		return nil, zerror.Wrap(zerror.KindHandshake, "no open received", err)
	}
	open, ok := first.(*message.Open)
	if !ok {
		_ = link.Close()
		return nil, zerror.Newf(zerror.KindHandshake, "expected Open, got 0x%02x", first.MsgID())
	}
	if open.Version != Version {
		_ = sendRaw(link, &message.Close{Reason: message.CloseUnsupported})
		_ = link.Close()
		return nil, zerror.Newf(zerror.KindHandshake,
			"incompatible protocol version 0x%02x", open.Version)
	}
	accept := &message.Accept{
		WhatAmI: local.WhatAmI,
		OPid:    open.Pid,
		APid:    local.Pid,
		Lease:   core.ZInt(local.Lease / time.Millisecond),
	}
	if err := sendRaw(link, accept); err != nil {
		_ = link.Close()
		return nil, zerror.Wrap(zerror.KindHandshake, "accept not delivered", err)
	}
	lease := minLease(local.Lease, time.Duration(open.Lease)*time.Millisecond)
	return establish(link, local, ev, open.Pid, open.WhatAmI, lease)
}

func establish(link transport.Link, local Local, ev Events, pid core.PeerId, whatami core.WhatAmI, lease time.Duration) (*Session, error) {
	s := &Session{
		pid:       pid,
		whatami:   whatami,
		lease:     lease,
		ev:        ev,
		log:       logrus.WithFields(logrus.Fields{"peer": pid.String(), "whatami": core.WhatAmIString(whatami)}),
		remoteRes: make(map[core.ResourceId]string),
	}
	// Flip to Established before the transport spins up its inbound
	// goroutine, so declarations sent by the peer right after the handshake
	// are never dropped by the state gate.
	s.state.advance(Opening)
	s.state.advance(Established)
	cfg := local.Config
	cfg.Lease = lease
	s.tr = transport.New(link, (*transportHandler)(s), cfg, s.log)
	s.log.Info("session established")
	ev.OnStateChange(s, Established)
	return s, nil
}

func minLease(a, b time.Duration) time.Duration {
	if b > 0 && b < a {
		return b
	}
	if a <= 0 {
		return transport.DefaultLease
	}
	return a
}

// sendRaw writes a single session message directly on the link, outside the
// transport queues. Only used during the handshake.
func sendRaw(link transport.Link, m message.SessionMessage) error {
	w := zbuf.NewWBuf(0)
	if !m.Write(w) {
		return zerror.New(zerror.KindBufferOverflow, "handshake message too large")
	}
	return link.Send(w.Bytes())
}

func recvRaw(link transport.Link) (message.SessionMessage, error) {
	batch, err := link.Recv()
	if err != nil {
		return nil, err
	}
	return message.ReadSessionMessage(zbuf.NewZBuf(batch))
}

// Pid returns the remote peer id.
func (s *Session) Pid() core.PeerId { return s.pid }

// WhatAmI returns the remote role mask.
func (s *Session) WhatAmI() core.WhatAmI { return s.whatami }

// Lease returns the effective negotiated lease.
func (s *Session) Lease() time.Duration { return s.lease }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state.get() }

// Dropped exposes the transport's dropped-frames counter.
func (s *Session) Dropped(ch core.Channel) uint64 { return s.tr.Dropped(ch) }

// Send schedules a data-layer message. Publications with Block congestion
// control suspend until the outbound channel accepts the frame.
func (s *Session) Send(m message.ZenohMessage, ch core.Channel, cc core.CongestionControl) error {
	if st := s.state.get(); st != Established {
		return zerror.Newf(zerror.KindSessionClosed, "session is %s", st)
	}
	_, err := s.tr.Schedule(m, ch, cc)
	return err
}

// RegisterRemoteResource installs a rid -> name mapping declared by the
// peer.
func (s *Session) RegisterRemoteResource(rid core.ResourceId, name string) {
	s.mu.Lock()
	s.remoteRes[rid] = name
	s.mu.Unlock()
}

// ForgetRemoteResource withdraws a peer mapping.
func (s *Session) ForgetRemoteResource(rid core.ResourceId) {
	s.mu.Lock()
	delete(s.remoteRes, rid)
	s.mu.Unlock()
}

// ResolveKey expands an inbound resource key into a full name using the
// peer's declared mappings.
func (s *Session) ResolveKey(k core.ResKey) (string, error) {
	if k.RID() == core.NoResourceID {
		return k.Suffix(), nil
	}
	s.mu.RLock()
	prefix, ok := s.remoteRes[k.RID()]
	s.mu.RUnlock()
	if !ok {
		return "", zerror.Newf(zerror.KindParse, "unknown resource id %d", k.RID())
	}
	return prefix + k.Suffix(), nil
}

// Close tears the session down, notifying the peer best-effort.
func (s *Session) Close() error {
	if !s.state.advance(Closing) {
		return nil
	}
	err := s.tr.Close(message.CloseGeneric)
	return err
}

// transportHandler adapts the transport callbacks onto the session without
// widening the public method set.
type transportHandler Session

func (h *transportHandler) HandleMessage(m message.ZenohMessage, ch core.Channel) {
	s := (*Session)(h)
	if s.state.get() != Established {
		return
	}
	s.ev.OnMessage(s, m, ch)
}

func (h *transportHandler) HandleLeaseExpired() {
	s := (*Session)(h)
	if s.state.advance(KeepAliveLost) {
		s.log.Warn("keep-alive lost")
		s.ev.OnStateChange(s, KeepAliveLost)
		s.state.advance(Closing)
	}
}

func (h *transportHandler) HandleClosed(reason byte, err error) {
	s := (*Session)(h)
	s.state.advance(Closing)
	if s.state.advance(Closed) {
		if err != nil {
			s.log.WithError(err).WithField("reason", reason).Info("session closed")
		} else {
			s.log.WithField("reason", reason).Info("session closed")
		}
		s.ev.OnStateChange(s, Closed)
	}
}
