package message

import (
	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/zbuf"
)

// Declaration ids. Each declaration inside a Declare message carries its own
// header byte with the same id/flag split as messages.
const (
	DeclResource        byte = 0x01
	DeclPublisher       byte = 0x02
	DeclSubscriber      byte = 0x03
	DeclQueryable       byte = 0x04
	DeclForgetResource  byte = 0x11
	DeclForgetPublisher byte = 0x12
	DeclForgetSub       byte = 0x13
	DeclForgetQueryable byte = 0x14
)

// Declaration flags. K marks a key with a string component; S marks a
// subscriber with a non-default SubInfo; Q marks a queryable with a
// non-default QueryableInfo.
const (
	DeclFlagK byte = 0x20
	DeclFlagS byte = 0x40
	DeclFlagQ byte = 0x40
)

// Declaration is one entry of a Declare message.
type Declaration interface {
	DeclID() byte
	writeDecl(w *zbuf.WBuf) bool
}

// ResourceDecl installs a rid -> key mapping on the remote side.
type ResourceDecl struct {
	RID core.ResourceId
	Key core.ResKey
}

func (d *ResourceDecl) DeclID() byte { return DeclResource }

func (d *ResourceDecl) writeDecl(w *zbuf.WBuf) bool {
	header := DeclResource
	if keyHasSuffix(d.Key) {
		header |= DeclFlagK
	}
	return w.WriteU8(header) && w.WriteZInt(d.RID) && writeResKey(w, d.Key)
}

// ForgetResourceDecl withdraws a rid mapping.
type ForgetResourceDecl struct {
	RID core.ResourceId
}

func (d *ForgetResourceDecl) DeclID() byte { return DeclForgetResource }

func (d *ForgetResourceDecl) writeDecl(w *zbuf.WBuf) bool {
	return w.WriteU8(DeclForgetResource) && w.WriteZInt(d.RID)
}

// PublisherDecl announces intent to publish on a key.
type PublisherDecl struct {
	Key core.ResKey
}

func (d *PublisherDecl) DeclID() byte { return DeclPublisher }

func (d *PublisherDecl) writeDecl(w *zbuf.WBuf) bool {
	header := DeclPublisher
	if keyHasSuffix(d.Key) {
		header |= DeclFlagK
	}
	return w.WriteU8(header) && writeResKey(w, d.Key)
}

// ForgetPublisherDecl withdraws a publisher.
type ForgetPublisherDecl struct {
	Key core.ResKey
}

func (d *ForgetPublisherDecl) DeclID() byte { return DeclForgetPublisher }

func (d *ForgetPublisherDecl) writeDecl(w *zbuf.WBuf) bool {
	header := DeclForgetPublisher
	if keyHasSuffix(d.Key) {
		header |= DeclFlagK
	}
	return w.WriteU8(header) && writeResKey(w, d.Key)
}

// SubscriberDecl installs a subscription. The S flag marks a SubInfo that
// differs from the default (reliable, push, no period); the wire form of
// SubInfo is:
//
//	+---------------+
//	|P|  mode       |  mode zint; P==0x80 marks a trailing period
//	+---------------+
//	~ [origin period duration] ~
//	+---------------+
//
// reliability rides in the declaration's own R bit inside mode's bit 1.
type SubscriberDecl struct {
	Key  core.ResKey
	Info core.SubInfo
}

const (
	subModePull   core.ZInt = 0x01
	subModeRelBit core.ZInt = 0x02
	subModePeriod core.ZInt = 0x80
)

func (d *SubscriberDecl) DeclID() byte { return DeclSubscriber }

func isDefaultSubInfo(i core.SubInfo) bool {
	return i.Reliability == core.ReliabilityReliable && i.Mode == core.Push && i.Period == nil
}

func (d *SubscriberDecl) writeDecl(w *zbuf.WBuf) bool {
	header := DeclSubscriber
	if keyHasSuffix(d.Key) {
		header |= DeclFlagK
	}
	if !isDefaultSubInfo(d.Info) {
		header |= DeclFlagS
	}
	if !w.WriteU8(header) || !writeResKey(w, d.Key) {
		return false
	}
	if isDefaultSubInfo(d.Info) {
		return true
	}
	var mode core.ZInt
	if d.Info.Mode == core.Pull {
		mode |= subModePull
	}
	if d.Info.Reliability == core.ReliabilityReliable {
		mode |= subModeRelBit
	}
	if d.Info.Period != nil {
		mode |= subModePeriod
	}
	if !w.WriteZInt(mode) {
		return false
	}
	if p := d.Info.Period; p != nil {
		return w.WriteZInt(p.Origin) && w.WriteZInt(p.Period) && w.WriteZInt(p.Duration)
	}
	return true
}

func readSubInfo(z *zbuf.ZBuf) (core.SubInfo, bool) {
	mode, ok := z.ReadZInt()
	if !ok {
		return core.SubInfo{}, false
	}
	info := core.SubInfo{Reliability: core.ReliabilityBestEffort, Mode: core.Push}
	if mode&subModePull != 0 {
		info.Mode = core.Pull
	}
	if mode&subModeRelBit != 0 {
		info.Reliability = core.ReliabilityReliable
	}
	if mode&subModePeriod != 0 {
		var p core.Period
		if p.Origin, ok = z.ReadZInt(); !ok {
			return core.SubInfo{}, false
		}
		if p.Period, ok = z.ReadZInt(); !ok {
			return core.SubInfo{}, false
		}
		if p.Duration, ok = z.ReadZInt(); !ok {
			return core.SubInfo{}, false
		}
		info.Period = &p
	}
	return info, true
}

// ForgetSubscriberDecl withdraws a subscription.
type ForgetSubscriberDecl struct {
	Key core.ResKey
}

func (d *ForgetSubscriberDecl) DeclID() byte { return DeclForgetSub }

func (d *ForgetSubscriberDecl) writeDecl(w *zbuf.WBuf) bool {
	header := DeclForgetSub
	if keyHasSuffix(d.Key) {
		header |= DeclFlagK
	}
	return w.WriteU8(header) && writeResKey(w, d.Key)
}

// QueryableDecl installs a reply source. Kind is the queryable-class mask;
// the Q flag marks a non-default QueryableInfo (complete, distance).
type QueryableDecl struct {
	Key  core.ResKey
	Kind core.ZInt
	Info core.QueryableInfo
}

func (d *QueryableDecl) DeclID() byte { return DeclQueryable }

func isDefaultQryInfo(i core.QueryableInfo) bool {
	return i.Complete == 1 && i.Distance == 0
}

func (d *QueryableDecl) writeDecl(w *zbuf.WBuf) bool {
	header := DeclQueryable
	if keyHasSuffix(d.Key) {
		header |= DeclFlagK
	}
	if !isDefaultQryInfo(d.Info) {
		header |= DeclFlagQ
	}
	if !w.WriteU8(header) || !writeResKey(w, d.Key) || !w.WriteZInt(d.Kind) {
		return false
	}
	if isDefaultQryInfo(d.Info) {
		return true
	}
	return w.WriteZInt(d.Info.Complete) && w.WriteZInt(d.Info.Distance)
}

// ForgetQueryableDecl withdraws a queryable.
type ForgetQueryableDecl struct {
	Key  core.ResKey
	Kind core.ZInt
}

func (d *ForgetQueryableDecl) DeclID() byte { return DeclForgetQueryable }

func (d *ForgetQueryableDecl) writeDecl(w *zbuf.WBuf) bool {
	header := DeclForgetQueryable
	if keyHasSuffix(d.Key) {
		header |= DeclFlagK
	}
	return w.WriteU8(header) && writeResKey(w, d.Key) && w.WriteZInt(d.Kind)
}

// Declare carries a batch of declarations:
//
//	 7 6 5 4 3 2 1 0
//	+-+-+-+-+-+-+-+-+
//	|X|X|X| DECLARE |
//	+-+-+-+---------+
//	~     count     ~
//	~ declarations  ~
//	+---------------+
type Declare struct {
	Declarations []Declaration
}

func (m *Declare) MsgID() byte { return IDDeclare }

func (m *Declare) Write(w *zbuf.WBuf) bool {
	if !w.WriteU8(IDDeclare) || !w.WriteZInt(uint64(len(m.Declarations))) {
		return false
	}
	for _, d := range m.Declarations {
		if !d.writeDecl(w) {
			return false
		}
	}
	return true
}

func readDeclare(z *zbuf.ZBuf, _ byte) (*Declare, bool) {
	n, ok := z.ReadZInt()
	if !ok || n > uint64(z.Remaining()) {
		return nil, false
	}
	m := &Declare{Declarations: make([]Declaration, 0, n)}
	for i := uint64(0); i < n; i++ {
		d, ok := readDeclaration(z)
		if !ok {
			return nil, false
		}
		m.Declarations = append(m.Declarations, d)
	}
	return m, true
}

func readDeclaration(z *zbuf.ZBuf) (Declaration, bool) {
	header, ok := z.ReadU8()
	if !ok {
		return nil, false
	}
	hasKey := HasFlag(header, DeclFlagK)
	switch MsgID(header) {
	case DeclResource:
		rid, ok := z.ReadZInt()
		if !ok || rid == core.NoResourceID {
			return nil, false
		}
		key, ok := readResKey(z, hasKey)
		if !ok {
			return nil, false
		}
		return &ResourceDecl{RID: rid, Key: key}, true
	case DeclForgetResource:
		rid, ok := z.ReadZInt()
		if !ok {
			return nil, false
		}
		return &ForgetResourceDecl{RID: rid}, true
	case DeclPublisher:
		key, ok := readResKey(z, hasKey)
		if !ok {
			return nil, false
		}
		return &PublisherDecl{Key: key}, true
	case DeclForgetPublisher:
		key, ok := readResKey(z, hasKey)
		if !ok {
			return nil, false
		}
		return &ForgetPublisherDecl{Key: key}, true
	case DeclSubscriber:
		key, ok := readResKey(z, hasKey)
		if !ok {
			return nil, false
		}
		info := core.DefaultSubInfo()
		if HasFlag(header, DeclFlagS) {
			if info, ok = readSubInfo(z); !ok {
				return nil, false
			}
		}
		return &SubscriberDecl{Key: key, Info: info}, true
	case DeclForgetSub:
		key, ok := readResKey(z, hasKey)
		if !ok {
			return nil, false
		}
		return &ForgetSubscriberDecl{Key: key}, true
	case DeclQueryable:
		key, ok := readResKey(z, hasKey)
		if !ok {
			return nil, false
		}
		kind, ok := z.ReadZInt()
		if !ok {
			return nil, false
		}
		info := core.DefaultQueryableInfo()
		if HasFlag(header, DeclFlagQ) {
			if info.Complete, ok = z.ReadZInt(); !ok {
				return nil, false
			}
			if info.Distance, ok = z.ReadZInt(); !ok {
				return nil, false
			}
		}
		return &QueryableDecl{Key: key, Kind: kind, Info: info}, true
	case DeclForgetQueryable:
		key, ok := readResKey(z, hasKey)
		if !ok {
			return nil, false
		}
		kind, ok := z.ReadZInt()
		if !ok {
			return nil, false
		}
		return &ForgetQueryableDecl{Key: key, Kind: kind}, true
	default:
		return nil, false
	}
}
