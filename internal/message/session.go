package message

import (
	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/zbuf"
)

// Scout solicits Hello messages from matching processes:
//
//	 7 6 5 4 3 2 1 0
//	+-+-+-+-+-+-+-+-+
//	|Z|W|I|  SCOUT  |
//	+-+-+-+---------+
//	~     what      ~ if W==1 -- whatami mask of interest
//	+---------------+
//
// I==1 asks responders to include their peer id in the Hello.
type Scout struct {
	What       core.WhatAmI // 0 means "whatever answers"
	PidRequest bool
	Exts       []ExtUnknown
}

// Scout flags.
const (
	ScoutFlagI byte = 0x20
	ScoutFlagW byte = 0x40
)

func (m *Scout) MsgID() byte { return IDScout }

func (m *Scout) Write(w *zbuf.WBuf) bool {
	header := IDScout
	if m.PidRequest {
		header |= ScoutFlagI
	}
	if m.What != 0 {
		header |= ScoutFlagW
	}
	if len(m.Exts) > 0 {
		header |= FlagZ
	}
	if !w.WriteU8(header) {
		return false
	}
	if m.What != 0 && !w.WriteZInt(m.What) {
		return false
	}
	if len(m.Exts) > 0 {
		return writeExts(w, m.Exts)
	}
	return true
}

func readScout(z *zbuf.ZBuf, header byte) (*Scout, bool) {
	m := &Scout{PidRequest: HasFlag(header, ScoutFlagI)}
	if HasFlag(header, ScoutFlagW) {
		what, ok := z.ReadZInt()
		if !ok {
			return nil, false
		}
		m.What = what
	}
	if HasFlag(header, FlagZ) {
		exts, ok := readExts(z)
		if !ok {
			return nil, false
		}
		m.Exts = exts
	}
	return m, true
}

// Hello advertises presence, unicast in response to a Scout or multicast
// unsolicited:
//
//	 7 6 5 4 3 2 1 0
//	+-+-+-+-+-+-+-+-+
//	|Z|W|P|  HELLO  |
//	+-+-+-+---------+
//	~     pid       ~ if P==1
//	+---------------+
//	~    whatami    ~ if W==1 -- defaults to Router
//	+---------------+
//	~   [locators]  ~
//	+---------------+
type Hello struct {
	Pid      core.PeerId // zero = withheld
	WhatAmI  core.WhatAmI
	Locators []string
	Exts     []ExtUnknown
}

// Hello flags.
const (
	HelloFlagP byte = 0x20
	HelloFlagW byte = 0x40
)

func (m *Hello) MsgID() byte { return IDHello }

func (m *Hello) Write(w *zbuf.WBuf) bool {
	header := IDHello
	if !m.Pid.IsZero() {
		header |= HelloFlagP
	}
	if m.WhatAmI != 0 {
		header |= HelloFlagW
	}
	if len(m.Exts) > 0 {
		header |= FlagZ
	}
	if !w.WriteU8(header) {
		return false
	}
	if !m.Pid.IsZero() && !writePeerId(w, m.Pid) {
		return false
	}
	if m.WhatAmI != 0 && !w.WriteZInt(m.WhatAmI) {
		return false
	}
	if !writeLocators(w, m.Locators) {
		return false
	}
	if len(m.Exts) > 0 {
		return writeExts(w, m.Exts)
	}
	return true
}

func readHello(z *zbuf.ZBuf, header byte) (*Hello, bool) {
	m := &Hello{}
	if HasFlag(header, HelloFlagP) {
		pid, ok := readPeerId(z)
		if !ok {
			return nil, false
		}
		m.Pid = pid
	}
	if HasFlag(header, HelloFlagW) {
		what, ok := z.ReadZInt()
		if !ok {
			return nil, false
		}
		m.WhatAmI = what
	} else {
		m.WhatAmI = core.Router
	}
	locs, ok := readLocators(z)
	if !ok {
		return nil, false
	}
	m.Locators = locs
	if HasFlag(header, FlagZ) {
		exts, ok := readExts(z)
		if !ok {
			return nil, false
		}
		m.Exts = exts
	}
	return m, true
}

// Open initiates a session:
//
//	 7 6 5 4 3 2 1 0
//	+-+-+-+-+-+-+-+-+
//	|Z|X|P|  OPEN   |
//	+-+-+-+---------+
//	|    version    |
//	+---------------+
//	~    whatami    ~
//	+---------------+
//	~     pid       ~
//	+---------------+
//	~  lease (ms)   ~
//	+---------------+
//	~ [properties]  ~ if P==1 -- opaque session metadata
//	+---------------+
type Open struct {
	Version    byte
	WhatAmI    core.WhatAmI
	Pid        core.PeerId
	Lease      core.ZInt // milliseconds
	Properties []core.Property
	Exts       []ExtUnknown
}

// Open flags.
const OpenFlagP byte = 0x20

func (m *Open) MsgID() byte { return IDOpen }

func (m *Open) Write(w *zbuf.WBuf) bool {
	header := IDOpen
	if len(m.Properties) > 0 {
		header |= OpenFlagP
	}
	if len(m.Exts) > 0 {
		header |= FlagZ
	}
	if !w.WriteU8(header) || !w.WriteU8(m.Version) ||
		!w.WriteZInt(m.WhatAmI) || !writePeerId(w, m.Pid) || !w.WriteZInt(m.Lease) {
		return false
	}
	if len(m.Properties) > 0 && !writeProperties(w, m.Properties) {
		return false
	}
	if len(m.Exts) > 0 {
		return writeExts(w, m.Exts)
	}
	return true
}

func readOpen(z *zbuf.ZBuf, header byte) (*Open, bool) {
	version, ok := z.ReadU8()
	if !ok {
		return nil, false
	}
	what, ok := z.ReadZInt()
	if !ok {
		return nil, false
	}
	pid, ok := readPeerId(z)
	if !ok {
		return nil, false
	}
	lease, ok := z.ReadZInt()
	if !ok {
		return nil, false
	}
	m := &Open{Version: version, WhatAmI: what, Pid: pid, Lease: lease}
	if HasFlag(header, OpenFlagP) {
		if m.Properties, ok = readProperties(z); !ok {
			return nil, false
		}
	}
	if HasFlag(header, FlagZ) {
		if m.Exts, ok = readExts(z); !ok {
			return nil, false
		}
	}
	return m, true
}

// Accept confirms a session open. OPid echoes the opener's id so the opener
// can match the accept against a pending attempt; lease is the accepter's
// own offer, the effective lease is the minimum of the two.
type Accept struct {
	WhatAmI core.WhatAmI
	OPid    core.PeerId
	APid    core.PeerId
	Lease   core.ZInt // milliseconds
	Exts    []ExtUnknown
}

func (m *Accept) MsgID() byte { return IDAccept }

func (m *Accept) Write(w *zbuf.WBuf) bool {
	header := IDAccept
	if len(m.Exts) > 0 {
		header |= FlagZ
	}
	if !w.WriteU8(header) || !w.WriteZInt(m.WhatAmI) ||
		!writePeerId(w, m.OPid) || !writePeerId(w, m.APid) || !w.WriteZInt(m.Lease) {
		return false
	}
	if len(m.Exts) > 0 {
		return writeExts(w, m.Exts)
	}
	return true
}

func readAccept(z *zbuf.ZBuf, header byte) (*Accept, bool) {
	what, ok := z.ReadZInt()
	if !ok {
		return nil, false
	}
	opid, ok := readPeerId(z)
	if !ok {
		return nil, false
	}
	apid, ok := readPeerId(z)
	if !ok {
		return nil, false
	}
	lease, ok := z.ReadZInt()
	if !ok {
		return nil, false
	}
	m := &Accept{WhatAmI: what, OPid: opid, APid: apid, Lease: lease}
	if HasFlag(header, FlagZ) {
		if m.Exts, ok = readExts(z); !ok {
			return nil, false
		}
	}
	return m, true
}

// Close reasons.
const (
	CloseGeneric     byte = 0x00
	CloseUnsupported byte = 0x01
	CloseMaxSessions byte = 0x02
	CloseExpired     byte = 0x03
)

// Close terminates a session. The pid, when present, lets a peer multiplexing
// several sessions over one link tell which one is closing.
type Close struct {
	Pid    core.PeerId // zero = absent
	Reason byte
	Exts   []ExtUnknown
}

// Close flags.
const CloseFlagP byte = 0x20

func (m *Close) MsgID() byte { return IDClose }

func (m *Close) Write(w *zbuf.WBuf) bool {
	header := IDClose
	if !m.Pid.IsZero() {
		header |= CloseFlagP
	}
	if len(m.Exts) > 0 {
		header |= FlagZ
	}
	if !w.WriteU8(header) {
		return false
	}
	if !m.Pid.IsZero() && !writePeerId(w, m.Pid) {
		return false
	}
	if !w.WriteU8(m.Reason) {
		return false
	}
	if len(m.Exts) > 0 {
		return writeExts(w, m.Exts)
	}
	return true
}

func readClose(z *zbuf.ZBuf, header byte) (*Close, bool) {
	m := &Close{}
	if HasFlag(header, CloseFlagP) {
		pid, ok := readPeerId(z)
		if !ok {
			return nil, false
		}
		m.Pid = pid
	}
	reason, ok := z.ReadU8()
	if !ok {
		return nil, false
	}
	m.Reason = reason
	if HasFlag(header, FlagZ) {
		if m.Exts, ok = readExts(z); !ok {
			return nil, false
		}
	}
	return m, true
}

// KeepAlive avoids the expiration of the link lease. It SHOULD be sent at
// one fourth of the lease interval when no other traffic flows; a link is
// considered failed after 3.5 lease periods of silence.
//
//	 7 6 5 4 3 2 1 0
//	+-+-+-+-+-+-+-+-+
//	|Z|X|X| KALIVE  |
//	+-+-+-+---------+
//	~  [exts]       ~ if Z==1
//	+---------------+
//
// The body is header-only; unknown extensions may follow and are skipped.
type KeepAlive struct {
	Exts []ExtUnknown
}

func (m *KeepAlive) MsgID() byte { return IDKeepAlive }

func (m *KeepAlive) Write(w *zbuf.WBuf) bool {
	header := IDKeepAlive
	if len(m.Exts) > 0 {
		header |= FlagZ
	}
	if !w.WriteU8(header) {
		return false
	}
	if len(m.Exts) > 0 {
		return writeExts(w, m.Exts)
	}
	return true
}

func readKeepAlive(z *zbuf.ZBuf, header byte) (*KeepAlive, bool) {
	m := &KeepAlive{}
	if HasFlag(header, FlagZ) {
		exts, ok := readExts(z)
		if !ok {
			return nil, false
		}
		m.Exts = exts
	}
	return m, true
}

// Frame carries a batch of data-layer messages on one of the two logical
// channels. Reliable frames are sequenced and retransmitted from the sender
// window; best-effort frames are fire-and-forget. The payload extends to the
// end of the batch.
//
//	 7 6 5 4 3 2 1 0
//	+-+-+-+-+-+-+-+-+
//	|X|X|R|  FRAME  |
//	+-+-+-+---------+
//	~      sn       ~
//	+---------------+
//	~   payload     ~ -- data-layer messages, to end of batch
//	+---------------+
type Frame struct {
	Channel core.Channel
	SN      core.ZInt
	Payload []ZenohMessage
}

// Frame flags.
const FrameFlagR byte = 0x20

func (m *Frame) MsgID() byte { return IDFrame }

func (m *Frame) Write(w *zbuf.WBuf) bool {
	header := IDFrame
	if m.Channel == core.Reliable {
		header |= FrameFlagR
	}
	if !w.WriteU8(header) || !w.WriteZInt(m.SN) {
		return false
	}
	for _, p := range m.Payload {
		if !p.Write(w) {
			return false
		}
	}
	return true
}

func readFrame(z *zbuf.ZBuf, header byte) (*Frame, bool) {
	sn, ok := z.ReadZInt()
	if !ok {
		return nil, false
	}
	m := &Frame{SN: sn}
	if HasFlag(header, FrameFlagR) {
		m.Channel = core.Reliable
	}
	for z.Remaining() > 0 {
		msg, err := ReadZenohMessage(z)
		if err != nil {
			return nil, false
		}
		m.Payload = append(m.Payload, msg)
	}
	return m, true
}
