package message

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/zbuf"
)

func writeMsg(t *testing.T, m SessionMessage) []byte {
	t.Helper()
	w := zbuf.NewWBuf(0)
	if !m.Write(w) {
		t.Fatalf("Write(%T) = false", m)
	}
	return w.Bytes()
}

func readBack(t *testing.T, wire []byte) SessionMessage {
	t.Helper()
	m, err := ReadSessionMessage(zbuf.NewZBuf(wire))
	if err != nil {
		t.Fatalf("ReadSessionMessage(%x) = %v", wire, err)
	}
	return m
}

func TestKeepAliveWireForm(t *testing.T) {
	// Header-only: one byte, id KALIVE, no flags.
	wire := writeMsg(t, &KeepAlive{})
	if !bytes.Equal(wire, []byte{IDKeepAlive}) {
		t.Fatalf("KeepAlive wire = %x, want %x", wire, []byte{IDKeepAlive})
	}
	m := readBack(t, wire)
	if _, ok := m.(*KeepAlive); !ok {
		t.Fatalf("read back %T, want *KeepAlive", m)
	}
}

func TestKeepAliveWithUnknownExtensions(t *testing.T) {
	ka := &KeepAlive{Exts: []ExtUnknown{
		{Header: 0x03, Body: []byte{0xde, 0xad}},
		{Header: 0x11, Body: nil},
	}}
	wire := writeMsg(t, ka)
	// Z flag set, then ext chain: first with more-bit, second without.
	want := []byte{
		IDKeepAlive | FlagZ,
		0x03 | ExtFlagMore, 0x02, 0xde, 0xad,
		0x11, 0x00,
	}
	if !bytes.Equal(wire, want) {
		t.Fatalf("KeepAlive+exts wire = %x, want %x", wire, want)
	}
	m := readBack(t, wire).(*KeepAlive)
	if len(m.Exts) != 2 || m.Exts[0].ExtID() != 0x03 || !bytes.Equal(m.Exts[0].Body, []byte{0xde, 0xad}) {
		t.Fatalf("exts round trip = %+v", m.Exts)
	}
	// Unknown extensions are forwarded verbatim when relaying.
	rewire := writeMsg(t, m)
	if !bytes.Equal(rewire, wire) {
		t.Fatalf("relay rewrite = %x, want %x", rewire, wire)
	}
}

func TestScoutRoundTrip(t *testing.T) {
	s := &Scout{What: core.Peer | core.Router, PidRequest: true}
	m := readBack(t, writeMsg(t, s)).(*Scout)
	if m.What != core.Peer|core.Router || !m.PidRequest {
		t.Fatalf("Scout round trip = %+v", m)
	}
	// A bare scout is a single byte.
	if wire := writeMsg(t, &Scout{}); len(wire) != 1 {
		t.Errorf("bare Scout wire = %x", wire)
	}
}

func TestHelloRoundTrip(t *testing.T) {
	pid, _ := core.PeerIdFromBytes([]byte{1, 2, 3, 4})
	h := &Hello{
		Pid:      pid,
		WhatAmI:  core.Router,
		Locators: []string{"tcp/192.168.0.1:7447", "udp/192.168.0.1:7447"},
	}
	m := readBack(t, writeMsg(t, h)).(*Hello)
	if !m.Pid.Equal(pid) || m.WhatAmI != core.Router || !reflect.DeepEqual(m.Locators, h.Locators) {
		t.Fatalf("Hello round trip = %+v", m)
	}
	// Absent whatami defaults to Router on read.
	m = readBack(t, writeMsg(t, &Hello{})).(*Hello)
	if m.WhatAmI != core.Router {
		t.Errorf("default whatami = %v, want Router", m.WhatAmI)
	}
}

func TestOpenAcceptRoundTrip(t *testing.T) {
	opid, _ := core.PeerIdFromBytes([]byte{0xaa})
	apid, _ := core.PeerIdFromBytes([]byte{0xbb})
	o := &Open{
		Version:    5,
		WhatAmI:    core.Peer,
		Pid:        opid,
		Lease:      10000,
		Properties: []core.Property{{Key: 1, Value: []byte("auth")}},
	}
	om := readBack(t, writeMsg(t, o)).(*Open)
	if om.Version != 5 || om.WhatAmI != core.Peer || !om.Pid.Equal(opid) || om.Lease != 10000 {
		t.Fatalf("Open round trip = %+v", om)
	}
	if len(om.Properties) != 1 || om.Properties[0].Key != 1 || string(om.Properties[0].Value) != "auth" {
		t.Fatalf("Open properties round trip = %+v", om.Properties)
	}
	a := &Accept{WhatAmI: core.Router, OPid: opid, APid: apid, Lease: 5000}
	am := readBack(t, writeMsg(t, a)).(*Accept)
	if am.WhatAmI != core.Router || !am.OPid.Equal(opid) || !am.APid.Equal(apid) || am.Lease != 5000 {
		t.Fatalf("Accept round trip = %+v", am)
	}
}

func TestCloseRoundTrip(t *testing.T) {
	pid, _ := core.PeerIdFromBytes([]byte{9})
	c := readBack(t, writeMsg(t, &Close{Pid: pid, Reason: CloseExpired})).(*Close)
	if !c.Pid.Equal(pid) || c.Reason != CloseExpired {
		t.Fatalf("Close round trip = %+v", c)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	pid, _ := core.PeerIdFromBytes([]byte{7})
	ts := core.Timestamp{Time: 42, ID: core.TimestampIDFromBytes([]byte{7})}
	enc := core.EncodingTextPlain
	f := &Frame{
		Channel: core.Reliable,
		SN:      17,
		Payload: []ZenohMessage{
			&Data{
				Key:     core.KeyName("/demo/example/a"),
				Info:    &DataInfo{SourceID: pid, Timestamp: &ts, Encoding: &enc},
				Payload: []byte("hello"),
			},
			&Unit{},
		},
	}
	m := readBack(t, writeMsg(t, f)).(*Frame)
	if m.Channel != core.Reliable || m.SN != 17 || len(m.Payload) != 2 {
		t.Fatalf("Frame round trip = %+v", m)
	}
	d, ok := m.Payload[0].(*Data)
	if !ok {
		t.Fatalf("payload[0] = %T", m.Payload[0])
	}
	if d.Key.Suffix() != "/demo/example/a" || string(d.Payload) != "hello" {
		t.Fatalf("Data round trip = %+v", d)
	}
	if d.Info == nil || !d.Info.SourceID.Equal(pid) || d.Info.Timestamp.Time != 42 {
		t.Fatalf("DataInfo round trip = %+v", d.Info)
	}
	if d.Info.Encoding.String() != "text/plain" {
		t.Errorf("Encoding round trip = %q", d.Info.Encoding)
	}
	if _, ok := m.Payload[1].(*Unit); !ok {
		t.Fatalf("payload[1] = %T", m.Payload[1])
	}
}

func TestDeclareRoundTrip(t *testing.T) {
	period := &core.Period{Origin: 1, Period: 2, Duration: 3}
	key7, _ := core.KeyID(7)
	decls := []Declaration{
		&ResourceDecl{RID: 1, Key: core.KeyName("/demo/**")},
		&SubscriberDecl{Key: key7, Info: core.SubInfo{
			Reliability: core.ReliabilityBestEffort,
			Mode:        core.Pull,
			Period:      period,
		}},
		&SubscriberDecl{Key: core.KeyName("/d"), Info: core.DefaultSubInfo()},
		&QueryableDecl{Key: core.KeyName("/q/**"), Kind: core.Storage,
			Info: core.QueryableInfo{Complete: 1, Distance: 2}},
		&PublisherDecl{Key: core.KeyIDWithSuffix(1, "/example/a")},
		&ForgetSubscriberDecl{Key: core.KeyName("/d")},
		&ForgetResourceDecl{RID: 1},
		&ForgetPublisherDecl{Key: core.KeyName("/p")},
		&ForgetQueryableDecl{Key: core.KeyName("/q/**"), Kind: core.Storage},
	}
	w := zbuf.NewWBuf(0)
	if !(&Declare{Declarations: decls}).Write(w) {
		t.Fatal("Declare.Write = false")
	}
	m, err := ReadZenohMessage(w.ZBuf())
	if err != nil {
		t.Fatalf("ReadZenohMessage = %v", err)
	}
	d, ok := m.(*Declare)
	if !ok || len(d.Declarations) != len(decls) {
		t.Fatalf("Declare round trip = %+v", m)
	}
	sub := d.Declarations[1].(*SubscriberDecl)
	if sub.Info.Mode != core.Pull || sub.Info.Reliability != core.ReliabilityBestEffort ||
		sub.Info.Period == nil || *sub.Info.Period != *period {
		t.Fatalf("SubInfo round trip = %+v", sub.Info)
	}
	if sub.Key.RID() != 7 || !sub.Key.IsNumerical() {
		t.Fatalf("numerical key round trip = %+v", sub.Key)
	}
	q := d.Declarations[3].(*QueryableDecl)
	if q.Kind != core.Storage || q.Info.Distance != 2 {
		t.Fatalf("QueryableDecl round trip = %+v", q)
	}
	p := d.Declarations[4].(*PublisherDecl)
	if p.Key.RID() != 1 || p.Key.Suffix() != "/example/a" {
		t.Fatalf("IdWithSuffix key round trip = %+v", p.Key)
	}
}

func TestQueryRoundTrip(t *testing.T) {
	qt := core.QueryTarget{Kind: core.Eval, Target: core.CompleteN(3)}
	q := &Query{
		Key:           core.KeyName("/demo/**"),
		Predicate:     "?starttime=now()-1h",
		QID:           99,
		Target:        &qt,
		Consolidation: core.DefaultQueryConsolidation(),
	}
	w := zbuf.NewWBuf(0)
	if !q.Write(w) {
		t.Fatal("Query.Write = false")
	}
	m, err := ReadZenohMessage(w.ZBuf())
	if err != nil {
		t.Fatalf("ReadZenohMessage = %v", err)
	}
	got := m.(*Query)
	if got.QID != 99 || got.Predicate != q.Predicate || got.Key.Suffix() != "/demo/**" {
		t.Fatalf("Query round trip = %+v", got)
	}
	if got.Target == nil || got.Target.Kind != core.Eval ||
		got.Target.Target.Kind != core.TargetComplete || got.Target.Target.N != 3 {
		t.Fatalf("Target round trip = %+v", got.Target)
	}
	if got.Consolidation != core.DefaultQueryConsolidation() {
		t.Fatalf("Consolidation round trip = %+v", got.Consolidation)
	}
}

func TestPullRoundTrip(t *testing.T) {
	max := core.ZInt(8)
	p := &Pull{Key: core.KeyName("/demo/**"), PullID: 4, MaxSamples: &max}
	w := zbuf.NewWBuf(0)
	if !p.Write(w) {
		t.Fatal("Pull.Write = false")
	}
	m, err := ReadZenohMessage(w.ZBuf())
	if err != nil {
		t.Fatalf("ReadZenohMessage = %v", err)
	}
	got := m.(*Pull)
	if got.PullID != 4 || got.MaxSamples == nil || *got.MaxSamples != 8 {
		t.Fatalf("Pull round trip = %+v", got)
	}
}

func TestReplyContextDecoration(t *testing.T) {
	pid, _ := core.PeerIdFromBytes([]byte{5})
	d := &Data{
		Key:     core.KeyName("/k"),
		Payload: []byte("v"),
		Reply:   &ReplyContext{QID: 7, SourceKind: core.Storage, Replier: pid},
	}
	w := zbuf.NewWBuf(0)
	if !d.Write(w) {
		t.Fatal("Data.Write = false")
	}
	m, err := ReadZenohMessage(w.ZBuf())
	if err != nil {
		t.Fatalf("ReadZenohMessage = %v", err)
	}
	got := m.(*Data)
	if got.Reply == nil || got.Reply.QID != 7 || !got.Reply.Replier.Equal(pid) || got.Reply.Final {
		t.Fatalf("ReplyContext round trip = %+v", got.Reply)
	}
	// The end-of-stream sentinel: a final context on a Unit.
	w = zbuf.NewWBuf(0)
	u := &Unit{Reply: &ReplyContext{QID: 7, Final: true}}
	if !u.Write(w) {
		t.Fatal("Unit.Write = false")
	}
	m, err = ReadZenohMessage(w.ZBuf())
	if err != nil {
		t.Fatalf("ReadZenohMessage = %v", err)
	}
	gu := m.(*Unit)
	if gu.Reply == nil || !gu.Reply.Final || gu.Reply.QID != 7 {
		t.Fatalf("final ReplyContext round trip = %+v", gu.Reply)
	}
}

func TestReadRejectsUnknownID(t *testing.T) {
	if _, err := ReadSessionMessage(zbuf.NewZBuf([]byte{0x1f})); err == nil {
		t.Error("unknown session id accepted")
	}
	if _, err := ReadZenohMessage(zbuf.NewZBuf([]byte{0x1a})); err == nil {
		t.Error("unknown data-layer id accepted")
	}
}

func TestReadRejectsTruncated(t *testing.T) {
	// A Data message whose payload length prefix overruns the buffer.
	w := zbuf.NewWBuf(0)
	(&Data{Key: core.KeyName("/k"), Payload: []byte("hello")}).Write(w)
	wire := w.Bytes()
	for cut := 1; cut < len(wire); cut++ {
		if _, err := ReadZenohMessage(zbuf.NewZBuf(wire[:cut])); err == nil {
			t.Errorf("truncation at %d accepted", cut)
		}
	}
}

func TestWriteRollsBackOnOverflow(t *testing.T) {
	w := zbuf.NewWBuf(8)
	big := &Data{Key: core.KeyName("/k"), Payload: bytes.Repeat([]byte{1}, 64)}
	m := w.Mark()
	if big.Write(w) {
		t.Fatal("Write into an 8-byte buffer succeeded")
	}
	w.Revert(m)
	if w.Len() != 0 {
		t.Errorf("buffer length after rollback = %d", w.Len())
	}
}

func FuzzReadSessionMessage(f *testing.F) {
	f.Add([]byte{IDKeepAlive})
	f.Add([]byte{IDScout | ScoutFlagW, 0x03})
	f.Add([]byte{0xff, 0x00, 0x01})
	f.Fuzz(func(t *testing.T, wire []byte) {
		// Must never panic; errors are expected on junk.
		m, err := ReadSessionMessage(zbuf.NewZBuf(wire))
		if err == nil && m == nil {
			t.Fatal("nil message with nil error")
		}
	})
}
