package session

import (
	"sync"
	"testing"
	"time"

	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/message"
	"github.com/eurc17/zenoh/internal/transport"
	"github.com/eurc17/zenoh/internal/zbuf"
	"github.com/eurc17/zenoh/internal/zerror"
)

// recorder collects events of one session.
type recorder struct {
	mu     sync.Mutex
	msgs   []message.ZenohMessage
	states []State
	gate   chan State
}

func newRecorder() *recorder {
	return &recorder{gate: make(chan State, 16)}
}

func (r *recorder) OnMessage(_ *Session, m message.ZenohMessage, _ core.Channel) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) OnStateChange(_ *Session, st State) {
	r.mu.Lock()
	r.states = append(r.states, st)
	r.mu.Unlock()
	select {
	case r.gate <- st:
	default:
	}
}

func (r *recorder) waitState(t *testing.T, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case st := <-r.gate:
			if st == want {
				return
			}
		case <-deadline:
			t.Fatalf("state %s not reached within %s", want, timeout)
		}
	}
}

func local(pid byte, what core.WhatAmI, lease time.Duration) Local {
	p, _ := core.PeerIdFromBytes([]byte{pid})
	return Local{Pid: p, WhatAmI: what, Lease: lease, Config: transport.Config{Lease: lease}}
}

func TestHandshake(t *testing.T) {
	la, lb := transport.Pipe(16)
	ra, rb := newRecorder(), newRecorder()

	var sb *Session
	var errB error
	done := make(chan struct{})
	go func() {
		sb, errB = Accept(lb, local(2, core.Router, 5*time.Second), rb)
		close(done)
	}()
	sa, err := Open(la, local(1, core.Peer, 2*time.Second), ra)
	if err != nil {
		t.Fatalf("Open = %v", err)
	}
	<-done
	if errB != nil {
		t.Fatalf("Accept = %v", errB)
	}
	defer sa.Close()
	defer sb.Close()

	if sa.State() != Established || sb.State() != Established {
		t.Fatalf("states = %s / %s", sa.State(), sb.State())
	}
	if sa.Pid().String() != "02" || sb.Pid().String() != "01" {
		t.Errorf("peer ids = %s / %s", sa.Pid(), sb.Pid())
	}
	if sa.WhatAmI() != core.Router || sb.WhatAmI() != core.Peer {
		t.Errorf("whatami = %v / %v", sa.WhatAmI(), sb.WhatAmI())
	}
	// The effective lease is the minimum of the two offers.
	if sa.Lease() != 2*time.Second || sb.Lease() != 2*time.Second {
		t.Errorf("leases = %s / %s", sa.Lease(), sb.Lease())
	}
}

func TestDataFlowsBothWays(t *testing.T) {
	la, lb := transport.Pipe(16)
	ra, rb := newRecorder(), newRecorder()
	done := make(chan *Session)
	go func() {
		s, err := Accept(lb, local(2, core.Peer, time.Second), rb)
		if err != nil {
			t.Error(err)
		}
		done <- s
	}()
	sa, err := Open(la, local(1, core.Peer, time.Second), ra)
	if err != nil {
		t.Fatal(err)
	}
	sb := <-done
	defer sa.Close()
	defer sb.Close()

	if err := sa.Send(&message.Data{Key: core.KeyName("/k"), Payload: []byte("v")}, core.Reliable, core.Block); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rb.mu.Lock()
		n := len(rb.msgs)
		rb.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if len(rb.msgs) != 1 {
		t.Fatalf("received %d messages", len(rb.msgs))
	}
	d, ok := rb.msgs[0].(*message.Data)
	if !ok || string(d.Payload) != "v" {
		t.Fatalf("message = %+v", rb.msgs[0])
	}
}

func TestRejectsVersionMismatch(t *testing.T) {
	la, lb := transport.Pipe(16)
	go func() {
		w := zbuf.NewWBuf(0)
		pid, _ := core.PeerIdFromBytes([]byte{9})
		(&message.Open{Version: 0x42, WhatAmI: core.Peer, Pid: pid, Lease: 1000}).Write(w)
		_ = la.Send(w.Bytes())
	}()
	_, err := Accept(lb, local(2, core.Peer, time.Second), newRecorder())
	if err == nil {
		t.Fatal("Accept accepted an incompatible version")
	}
	if !zerror.IsKind(err, zerror.KindHandshake) {
		t.Errorf("error kind = %v, want Handshake", err)
	}
}

func TestRejectsUnexpectedFirstMessage(t *testing.T) {
	la, lb := transport.Pipe(16)
	go func() {
		w := zbuf.NewWBuf(0)
		(&message.KeepAlive{}).Write(w)
		_ = la.Send(w.Bytes())
	}()
	_, err := Accept(lb, local(2, core.Peer, time.Second), newRecorder())
	if !zerror.IsKind(err, zerror.KindHandshake) {
		t.Errorf("error = %v, want Handshake kind", err)
	}
}

// TestKeepAliveTimeout follows the lease scenario: the peer answers the
// handshake and then goes silent; the session must pass through
// KeepAliveLost to Closed after roughly 3.5 leases.
func TestKeepAliveTimeout(t *testing.T) {
	la, lb := transport.Pipe(64)
	rec := newRecorder()

	// Silent peer: completes the handshake by hand, then only drains the
	// wire without ever sending.
	go func() {
		batch, err := lb.Recv()
		if err != nil {
			return
		}
		m, err := message.ReadSessionMessage(zbuf.NewZBuf(batch))
		if err != nil {
			return
		}
		open := m.(*message.Open)
		w := zbuf.NewWBuf(0)
		pid, _ := core.PeerIdFromBytes([]byte{9})
		(&message.Accept{WhatAmI: core.Peer, OPid: open.Pid, APid: pid, Lease: open.Lease}).Write(w)
		_ = lb.Send(w.Bytes())
		for {
			if _, err := lb.Recv(); err != nil {
				return
			}
		}
	}()

	start := time.Now()
	s, err := Open(la, local(1, core.Peer, 200*time.Millisecond), rec)
	if err != nil {
		t.Fatal(err)
	}
	rec.waitState(t, KeepAliveLost, 5*time.Second)
	if e := time.Since(start); e < 500*time.Millisecond {
		t.Errorf("keep-alive lost after only %s", e)
	}
	rec.waitState(t, Closed, 2*time.Second)
	if s.State() != Closed {
		t.Errorf("final state = %s", s.State())
	}
	// Pending operations on the dead session fail as closed.
	err = s.Send(&message.Unit{}, core.Reliable, core.Drop)
	if !zerror.IsKind(err, zerror.KindSessionClosed) {
		t.Errorf("Send on closed session = %v", err)
	}
}

func TestResolveKey(t *testing.T) {
	la, lb := transport.Pipe(16)
	rec := newRecorder()
	done := make(chan *Session)
	go func() {
		s, _ := Accept(lb, local(2, core.Peer, time.Second), newRecorder())
		done <- s
	}()
	sa, err := Open(la, local(1, core.Peer, time.Second), rec)
	if err != nil {
		t.Fatal(err)
	}
	sb := <-done
	defer sa.Close()
	defer sb.Close()

	sa.RegisterRemoteResource(7, "/demo/example")
	name, err := sa.ResolveKey(core.KeyIDWithSuffix(7, "/a"))
	if err != nil || name != "/demo/example/a" {
		t.Fatalf("ResolveKey = %q, %v", name, err)
	}
	name, err = sa.ResolveKey(core.KeyName("/plain"))
	if err != nil || name != "/plain" {
		t.Fatalf("ResolveKey(name) = %q, %v", name, err)
	}
	if _, err := sa.ResolveKey(core.KeyIDWithSuffix(99, "/a")); !zerror.IsKind(err, zerror.KindParse) {
		t.Errorf("unknown rid error = %v", err)
	}
	sa.ForgetRemoteResource(7)
	if _, err := sa.ResolveKey(core.KeyIDWithSuffix(7, "/a")); err == nil {
		t.Error("forgotten rid still resolves")
	}
}

func TestStateTransitions(t *testing.T) {
	var m stateMachine
	if m.get() != Idle {
		t.Fatalf("zero state = %s", m.get())
	}
	if m.advance(Established) {
		t.Error("Idle -> Established allowed")
	}
	for _, st := range []State{Opening, Established, KeepAliveLost, Closing, Closed} {
		if !m.advance(st) {
			t.Fatalf("transition to %s refused", st)
		}
	}
	if m.advance(Established) {
		t.Error("Closed -> Established allowed")
	}
}
