// Package scouting implements discovery over UDP multicast: a scout
// broadcasts Scout messages on the group and collects unicast Hello
// answers; a responder joins the group and answers scouts whose whatami
// mask matches its role.
package scouting

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"

	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/message"
	"github.com/eurc17/zenoh/internal/zbuf"
	"github.com/eurc17/zenoh/internal/zerror"
)

// DefaultAddr is the default scouting multicast group.
const DefaultAddr = "224.0.0.224:7446"

// scoutPeriod is the re-emission interval of the Scout message while
// scouting is active.
const scoutPeriod = 500 * time.Millisecond

// maxDatagram bounds scouting datagrams; hellos are tiny.
const maxDatagram = 2048

// Hello is one discovery answer.
type Hello struct {
	Pid      core.PeerId
	WhatAmI  core.WhatAmI
	Locators []string
	From     net.Addr
}

// Scout broadcasts on the group and streams the Hellos whose whatami mask
// intersects what. The channel closes when ctx is done.
func Scout(ctx context.Context, what core.WhatAmI, addr string, pidRequest bool) (<-chan Hello, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	group, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, zerror.Wrap(zerror.KindOther, "resolve scouting group", err)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, zerror.Wrap(zerror.KindOther, "open scouting socket", err)
	}

	w := zbuf.NewWBuf(maxDatagram)
	if !(&message.Scout{What: what, PidRequest: pidRequest}).Write(w) {
		conn.Close()
		return nil, zerror.New(zerror.KindBufferOverflow, "scout message too large")
	}
	probe := w.Bytes()

	out := make(chan Hello, 16)
	go func() {
		defer close(out)
		defer conn.Close()
		// Emitter: first probe immediately, then periodically.
		go func() {
			ticker := time.NewTicker(scoutPeriod)
			defer ticker.Stop()
			for {
				if _, err := conn.WriteToUDP(probe, group); err != nil {
					logrus.WithError(err).Debug("scout probe not sent")
				}
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
		buf := make([]byte, maxDatagram)
		for {
			deadline := time.Now().Add(scoutPeriod)
			if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
				deadline = d
			}
			_ = conn.SetReadDeadline(deadline)
			n, src, err := conn.ReadFromUDP(buf)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				continue // deadline tick, keep scouting
			}
			m, err := message.ReadSessionMessage(zbuf.NewZBuf(append([]byte(nil), buf[:n]...)))
			if err != nil {
				logrus.WithError(err).Debug("undecodable scouting datagram")
				continue
			}
			hello, ok := m.(*message.Hello)
			if !ok {
				continue
			}
			if what != 0 && hello.WhatAmI&what == 0 {
				continue
			}
			select {
			case out <- Hello{Pid: hello.Pid, WhatAmI: hello.WhatAmI, Locators: hello.Locators, From: src}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Responder answers scouts on the multicast group.
type Responder struct {
	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	limiter *rate.Limiter
	log     *logrus.Entry

	pid      core.PeerId
	whatami  core.WhatAmI
	locators []string

	cancel context.CancelFunc
}

// NewResponder joins the scouting group and starts answering. The answer
// rate is capped to keep a scout storm from amplifying.
func NewResponder(addr string, pid core.PeerId, whatami core.WhatAmI, locators []string) (*Responder, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	group, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, zerror.Wrap(zerror.KindOther, "resolve scouting group", err)
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return nil, zerror.Wrap(zerror.KindOther, "join scouting group", err)
	}
	pconn := ipv4.NewPacketConn(conn)
	// Answer scouts from this host too: co-located runtimes discover each
	// other through the loopback copy.
	if err := pconn.SetMulticastLoopback(true); err != nil {
		logrus.WithError(err).Debug("multicast loopback not available")
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Responder{
		conn:     conn,
		pconn:    pconn,
		limiter:  rate.NewLimiter(rate.Limit(10), 20),
		log:      logrus.WithField("scouting", addr),
		pid:      pid,
		whatami:  whatami,
		locators: locators,
		cancel:   cancel,
	}
	go r.serve(ctx)
	return r, nil
}

func (r *Responder) serve(ctx context.Context) {
	buf := make([]byte, maxDatagram)
	for {
		_ = r.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, src, err := r.conn.ReadFromUDP(buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			continue
		}
		m, err := message.ReadSessionMessage(zbuf.NewZBuf(append([]byte(nil), buf[:n]...)))
		if err != nil {
			continue
		}
		scout, ok := m.(*message.Scout)
		if !ok {
			continue
		}
		if scout.What != 0 && scout.What&r.whatami == 0 {
			continue
		}
		if !r.limiter.Allow() {
			r.log.Debug("scout answer rate limited")
			continue
		}
		hello := &message.Hello{WhatAmI: r.whatami, Locators: r.locators}
		if scout.PidRequest {
			hello.Pid = r.pid
		}
		w := zbuf.NewWBuf(maxDatagram)
		if !hello.Write(w) {
			continue
		}
		if _, err := r.conn.WriteToUDP(w.Bytes(), src); err != nil {
			r.log.WithError(err).Debug("hello not delivered")
		}
	}
}

// Close stops answering and leaves the group.
func (r *Responder) Close() error {
	r.cancel()
	return r.conn.Close()
}
