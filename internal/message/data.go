package message

import (
	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/zbuf"
)

// DataInfo option bits.
const (
	dataInfoSrcID     core.ZInt = 0x01
	dataInfoSrcSN     core.ZInt = 0x02
	dataInfoTimestamp core.ZInt = 0x10
	dataInfoKind      core.ZInt = 0x20
	dataInfoEncoding  core.ZInt = 0x40
)

// DataInfo is the optional metadata block of a Data message. Absent fields
// cost nothing on the wire: an options mask leads the block.
type DataInfo struct {
	SourceID  core.PeerId // zero = absent
	SourceSN  *core.ZInt
	Timestamp *core.Timestamp
	Kind      *core.ZInt
	Encoding  *core.Encoding
}

// IsEmpty reports whether no field is set.
func (di *DataInfo) IsEmpty() bool {
	return di.SourceID.IsZero() && di.SourceSN == nil && di.Timestamp == nil &&
		di.Kind == nil && di.Encoding == nil
}

func (di *DataInfo) options() core.ZInt {
	var o core.ZInt
	if !di.SourceID.IsZero() {
		o |= dataInfoSrcID
	}
	if di.SourceSN != nil {
		o |= dataInfoSrcSN
	}
	if di.Timestamp != nil {
		o |= dataInfoTimestamp
	}
	if di.Kind != nil {
		o |= dataInfoKind
	}
	if di.Encoding != nil {
		o |= dataInfoEncoding
	}
	return o
}

func writeDataInfo(w *zbuf.WBuf, di *DataInfo) bool {
	if !w.WriteZInt(di.options()) {
		return false
	}
	if !di.SourceID.IsZero() && !writePeerId(w, di.SourceID) {
		return false
	}
	if di.SourceSN != nil && !w.WriteZInt(*di.SourceSN) {
		return false
	}
	if di.Timestamp != nil && !writeTimestamp(w, *di.Timestamp) {
		return false
	}
	if di.Kind != nil && !w.WriteZInt(*di.Kind) {
		return false
	}
	if di.Encoding != nil && !writeEncoding(w, *di.Encoding) {
		return false
	}
	return true
}

func readDataInfo(z *zbuf.ZBuf) (*DataInfo, bool) {
	options, ok := z.ReadZInt()
	if !ok {
		return nil, false
	}
	di := &DataInfo{}
	if options&dataInfoSrcID != 0 {
		if di.SourceID, ok = readPeerId(z); !ok {
			return nil, false
		}
	}
	if options&dataInfoSrcSN != 0 {
		sn, ok := z.ReadZInt()
		if !ok {
			return nil, false
		}
		di.SourceSN = &sn
	}
	if options&dataInfoTimestamp != 0 {
		ts, ok := readTimestamp(z)
		if !ok {
			return nil, false
		}
		di.Timestamp = &ts
	}
	if options&dataInfoKind != 0 {
		kind, ok := z.ReadZInt()
		if !ok {
			return nil, false
		}
		di.Kind = &kind
	}
	if options&dataInfoEncoding != 0 {
		enc, ok := readEncoding(z)
		if !ok {
			return nil, false
		}
		di.Encoding = &enc
	}
	return di, true
}

// Data carries a payload for a resource:
//
//	 7 6 5 4 3 2 1 0
//	+-+-+-+-+-+-+-+-+
//	|Z|I|K|  DATA   |
//	+-+-+-+---------+
//	~    reskey     ~ K==1 when the key has a string component
//	+---------------+
//	~   [datainfo]  ~ if I==1
//	+---------------+
//	~    payload    ~
//	+---------------+
//
// Congestion is not serialised: it is the local congestion-control marking
// consulted by the transmission queue.
type Data struct {
	Key        core.ResKey
	Info       *DataInfo
	Payload    []byte
	Reply      *ReplyContext // decorator, set when this Data answers a query
	Congestion core.CongestionControl
	Exts       []ExtUnknown
}

// Data flags.
const (
	DataFlagK byte = 0x20
	DataFlagI byte = 0x40
)

func (m *Data) MsgID() byte { return IDData }

func (m *Data) Write(w *zbuf.WBuf) bool {
	if m.Reply != nil && !m.Reply.Write(w) {
		return false
	}
	header := IDData
	if keyHasSuffix(m.Key) {
		header |= DataFlagK
	}
	hasInfo := m.Info != nil && !m.Info.IsEmpty()
	if hasInfo {
		header |= DataFlagI
	}
	if len(m.Exts) > 0 {
		header |= FlagZ
	}
	if !w.WriteU8(header) || !writeResKey(w, m.Key) {
		return false
	}
	if hasInfo && !writeDataInfo(w, m.Info) {
		return false
	}
	if !w.WriteBytesZC(m.Payload) {
		return false
	}
	if len(m.Exts) > 0 {
		return writeExts(w, m.Exts)
	}
	return true
}

func readData(z *zbuf.ZBuf, header byte) (*Data, bool) {
	key, ok := readResKey(z, HasFlag(header, DataFlagK))
	if !ok {
		return nil, false
	}
	m := &Data{Key: key}
	if HasFlag(header, DataFlagI) {
		if m.Info, ok = readDataInfo(z); !ok {
			return nil, false
		}
	}
	if m.Payload, ok = z.ReadBytes(); !ok {
		return nil, false
	}
	if HasFlag(header, FlagZ) {
		if m.Exts, ok = readExts(z); !ok {
			return nil, false
		}
	}
	return m, true
}

// Unit is a payload-less message on a channel, useful to exercise a link.
type Unit struct {
	Reply *ReplyContext
	Exts  []ExtUnknown
}

func (m *Unit) MsgID() byte { return IDUnit }

func (m *Unit) Write(w *zbuf.WBuf) bool {
	if m.Reply != nil && !m.Reply.Write(w) {
		return false
	}
	header := IDUnit
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

func readUnit(z *zbuf.ZBuf, header byte) (*Unit, bool) {
	m := &Unit{}
	if HasFlag(header, FlagZ) {
		exts, ok := readExts(z)
		if !ok {
			return nil, false
		}
		m.Exts = exts
	}
	return m, true
}

// Query solicits replies from matching queryables:
//
//	 7 6 5 4 3 2 1 0
//	+-+-+-+-+-+-+-+-+
//	|Z|T|K|  QUERY  |
//	+-+-+-+---------+
//	~    reskey     ~
//	+---------------+
//	~   predicate   ~
//	+---------------+
//	~      qid      ~
//	+---------------+
//	~   [target]    ~ if T==1
//	+---------------+
//	~ consolidation ~
//	+---------------+
type Query struct {
	Key           core.ResKey
	Predicate     string
	QID           core.ZInt
	Target        *core.QueryTarget // nil = default
	Consolidation core.QueryConsolidation
	Exts          []ExtUnknown
}

// Query flags.
const (
	QueryFlagK byte = 0x20
	QueryFlagT byte = 0x40
)

// Target wire tags.
const (
	targetBestMatching core.ZInt = 0
	targetAll          core.ZInt = 1
	targetAllComplete  core.ZInt = 2
	targetNone         core.ZInt = 3
	targetComplete     core.ZInt = 4
)

func writeTarget(w *zbuf.WBuf, t *core.QueryTarget) bool {
	if !w.WriteZInt(t.Kind) {
		return false
	}
	switch t.Target.Kind {
	case core.TargetAll:
		return w.WriteZInt(targetAll)
	case core.TargetAllComplete:
		return w.WriteZInt(targetAllComplete)
	case core.TargetNone:
		return w.WriteZInt(targetNone)
	case core.TargetComplete:
		return w.WriteZInt(targetComplete) && w.WriteZInt(t.Target.N)
	default:
		return w.WriteZInt(targetBestMatching)
	}
}

func readTarget(z *zbuf.ZBuf) (*core.QueryTarget, bool) {
	kind, ok := z.ReadZInt()
	if !ok {
		return nil, false
	}
	tag, ok := z.ReadZInt()
	if !ok {
		return nil, false
	}
	qt := &core.QueryTarget{Kind: kind}
	switch tag {
	case targetAll:
		qt.Target = core.Target{Kind: core.TargetAll}
	case targetAllComplete:
		qt.Target = core.Target{Kind: core.TargetAllComplete}
	case targetNone:
		qt.Target = core.Target{Kind: core.TargetNone}
	case targetComplete:
		n, ok := z.ReadZInt()
		if !ok {
			return nil, false
		}
		qt.Target = core.CompleteN(n)
	case targetBestMatching:
		qt.Target = core.BestMatching()
	default:
		return nil, false
	}
	return qt, true
}

// Consolidation packs the three stage modes in one zint, two bits each:
// first_routers<<4 | last_router<<2 | reception.
func writeConsolidation(w *zbuf.WBuf, c core.QueryConsolidation) bool {
	v := core.ZInt(c.FirstRouters)<<4 | core.ZInt(c.LastRouter)<<2 | core.ZInt(c.Reception)
	return w.WriteZInt(v)
}

func readConsolidation(z *zbuf.ZBuf) (core.QueryConsolidation, bool) {
	v, ok := z.ReadZInt()
	if !ok {
		return core.QueryConsolidation{}, false
	}
	modeOf := func(bits core.ZInt) (core.ConsolidationMode, bool) {
		if bits > core.ZInt(core.ConsolidationFull) {
			return 0, false
		}
		return core.ConsolidationMode(bits), true
	}
	var c core.QueryConsolidation
	if c.FirstRouters, ok = modeOf(v >> 4 & 0x3); !ok {
		return c, false
	}
	if c.LastRouter, ok = modeOf(v >> 2 & 0x3); !ok {
		return c, false
	}
	if c.Reception, ok = modeOf(v & 0x3); !ok {
		return c, false
	}
	return c, true
}

func (m *Query) MsgID() byte { return IDQuery }

func (m *Query) Write(w *zbuf.WBuf) bool {
	header := IDQuery
	if keyHasSuffix(m.Key) {
		header |= QueryFlagK
	}
	if m.Target != nil {
		header |= QueryFlagT
	}
	if len(m.Exts) > 0 {
		header |= FlagZ
	}
	if !w.WriteU8(header) || !writeResKey(w, m.Key) ||
		!w.WriteString(m.Predicate) || !w.WriteZInt(m.QID) {
		return false
	}
	if m.Target != nil && !writeTarget(w, m.Target) {
		return false
	}
	if !writeConsolidation(w, m.Consolidation) {
		return false
	}
	if len(m.Exts) > 0 {
		return writeExts(w, m.Exts)
	}
	return true
}

func readQuery(z *zbuf.ZBuf, header byte) (*Query, bool) {
	key, ok := readResKey(z, HasFlag(header, QueryFlagK))
	if !ok {
		return nil, false
	}
	m := &Query{Key: key}
	if m.Predicate, ok = z.ReadString(); !ok {
		return nil, false
	}
	if m.QID, ok = z.ReadZInt(); !ok {
		return nil, false
	}
	if HasFlag(header, QueryFlagT) {
		if m.Target, ok = readTarget(z); !ok {
			return nil, false
		}
	}
	if m.Consolidation, ok = readConsolidation(z); !ok {
		return nil, false
	}
	if HasFlag(header, FlagZ) {
		if m.Exts, ok = readExts(z); !ok {
			return nil, false
		}
	}
	return m, true
}

// Pull solicits the release of samples buffered for a pull-mode
// subscription. PullID increases monotonically per subscriber, making
// retransmitted pulls idempotent at the source.
type Pull struct {
	Key        core.ResKey
	PullID     core.ZInt
	MaxSamples *core.ZInt // nil = all buffered samples
	Exts       []ExtUnknown
}

// Pull flags.
const (
	PullFlagK byte = 0x20
	PullFlagN byte = 0x40
)

func (m *Pull) MsgID() byte { return IDPull }

func (m *Pull) Write(w *zbuf.WBuf) bool {
	header := IDPull
	if keyHasSuffix(m.Key) {
		header |= PullFlagK
	}
	if m.MaxSamples != nil {
		header |= PullFlagN
	}
	if len(m.Exts) > 0 {
		header |= FlagZ
	}
	if !w.WriteU8(header) || !writeResKey(w, m.Key) || !w.WriteZInt(m.PullID) {
		return false
	}
	if m.MaxSamples != nil && !w.WriteZInt(*m.MaxSamples) {
		return false
	}
	if len(m.Exts) > 0 {
		return writeExts(w, m.Exts)
	}
	return true
}

func readPull(z *zbuf.ZBuf, header byte) (*Pull, bool) {
	key, ok := readResKey(z, HasFlag(header, PullFlagK))
	if !ok {
		return nil, false
	}
	m := &Pull{Key: key}
	if m.PullID, ok = z.ReadZInt(); !ok {
		return nil, false
	}
	if HasFlag(header, PullFlagN) {
		n, ok := z.ReadZInt()
		if !ok {
			return nil, false
		}
		m.MaxSamples = &n
	}
	if HasFlag(header, FlagZ) {
		if m.Exts, ok = readExts(z); !ok {
			return nil, false
		}
	}
	return m, true
}

// ReplyContext decorates the Data or Unit message that follows it, tying it
// to the query it answers. A final context (F==1) carries no source info and
// marks the end of the replier's stream.
//
//	 7 6 5 4 3 2 1 0
//	+-+-+-+-+-+-+-+-+
//	|Z|X|F| R_CTX   |
//	+-+-+-+---------+
//	~      qid      ~
//	+---------------+
//	~  [src kind]   ~ if F==0
//	~  [src pid]    ~ if F==0
//	+---------------+
type ReplyContext struct {
	QID        core.ZInt
	SourceKind core.ZInt
	Replier    core.PeerId
	Final      bool
	Exts       []ExtUnknown
}

// ReplyContext flags.
const ReplyFlagF byte = 0x20

func (m *ReplyContext) MsgID() byte { return IDReplyContext }

// Write appends the decorator alone; the decorated message follows.
func (m *ReplyContext) Write(w *zbuf.WBuf) bool {
	header := IDReplyContext
	if m.Final {
		header |= ReplyFlagF
	}
	if len(m.Exts) > 0 {
		header |= FlagZ
	}
	if !w.WriteU8(header) || !w.WriteZInt(m.QID) {
		return false
	}
	if !m.Final {
		if !w.WriteZInt(m.SourceKind) || !writePeerId(w, m.Replier) {
			return false
		}
	}
	if len(m.Exts) > 0 {
		return writeExts(w, m.Exts)
	}
	return true
}

func readReplyContext(z *zbuf.ZBuf, header byte) (*ReplyContext, bool) {
	m := &ReplyContext{Final: HasFlag(header, ReplyFlagF)}
	ok := false
	if m.QID, ok = z.ReadZInt(); !ok {
		return nil, false
	}
	if !m.Final {
		if m.SourceKind, ok = z.ReadZInt(); !ok {
			return nil, false
		}
		if m.Replier, ok = readPeerId(z); !ok {
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
