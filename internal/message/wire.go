package message

import (
	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/zbuf"
)

// Shared field codecs. A resource key travels as:
//
//	+---------------+
//	~      rid      ~  zint; 0 when the key is a bare name
//	+---------------+
//	~  name/suffix  ~  only when the per-message K flag is set
//	+---------------+
//
// The K flag is set exactly when the key has a string component, so a pure
// registered id costs a single varint.

func keyHasSuffix(k core.ResKey) bool { return k.Suffix() != "" }

func writeResKey(w *zbuf.WBuf, k core.ResKey) bool {
	if !w.WriteZInt(k.RID()) {
		return false
	}
	if keyHasSuffix(k) {
		return w.WriteString(k.Suffix())
	}
	return true
}

func readResKey(z *zbuf.ZBuf, hasSuffix bool) (core.ResKey, bool) {
	rid, ok := z.ReadZInt()
	if !ok {
		return core.ResKey{}, false
	}
	suffix := ""
	if hasSuffix {
		if suffix, ok = z.ReadString(); !ok {
			return core.ResKey{}, false
		}
	}
	if rid == core.NoResourceID && suffix == "" {
		return core.ResKey{}, false
	}
	return core.KeyIDWithSuffix(rid, suffix), true
}

func writePeerId(w *zbuf.WBuf, p core.PeerId) bool {
	return w.WriteBytes(p.Bytes())
}

func readPeerId(z *zbuf.ZBuf) (core.PeerId, bool) {
	b, ok := z.ReadBytes()
	if !ok || len(b) == 0 || len(b) > core.PeerIDMaxSize {
		return core.PeerId{}, false
	}
	p, err := core.PeerIdFromBytes(b)
	return p, err == nil
}

func writeTimestamp(w *zbuf.WBuf, t core.Timestamp) bool {
	return w.WriteZInt(t.Time) && w.WriteBytes(t.ID.Bytes())
}

func readTimestamp(z *zbuf.ZBuf) (core.Timestamp, bool) {
	tm, ok := z.ReadZInt()
	if !ok {
		return core.Timestamp{}, false
	}
	id, ok := z.ReadBytes()
	if !ok || len(id) > core.PeerIDMaxSize {
		return core.Timestamp{}, false
	}
	return core.Timestamp{Time: tm, ID: core.TimestampIDFromBytes(id)}, true
}

func writeEncoding(w *zbuf.WBuf, e core.Encoding) bool {
	return w.WriteZInt(e.Prefix) && w.WriteString(e.Suffix)
}

func readEncoding(z *zbuf.ZBuf) (core.Encoding, bool) {
	prefix, ok := z.ReadZInt()
	if !ok {
		return core.Encoding{}, false
	}
	suffix, ok := z.ReadString()
	if !ok {
		return core.Encoding{}, false
	}
	return core.Encoding{Prefix: prefix, Suffix: suffix}, true
}

func writeProperties(w *zbuf.WBuf, props []core.Property) bool {
	if !w.WriteZInt(uint64(len(props))) {
		return false
	}
	for _, p := range props {
		if !w.WriteZInt(p.Key) || !w.WriteBytes(p.Value) {
			return false
		}
	}
	return true
}

func readProperties(z *zbuf.ZBuf) ([]core.Property, bool) {
	n, ok := z.ReadZInt()
	if !ok || n > uint64(z.Remaining()) {
		return nil, false
	}
	props := make([]core.Property, 0, n)
	for i := uint64(0); i < n; i++ {
		key, ok := z.ReadZInt()
		if !ok {
			return nil, false
		}
		value, ok := z.ReadBytes()
		if !ok {
			return nil, false
		}
		props = append(props, core.Property{Key: key, Value: value})
	}
	return props, true
}

func writeLocators(w *zbuf.WBuf, locs []string) bool {
	if !w.WriteZInt(uint64(len(locs))) {
		return false
	}
	for _, l := range locs {
		if !w.WriteString(l) {
			return false
		}
	}
	return true
}

func readLocators(z *zbuf.ZBuf) ([]string, bool) {
	n, ok := z.ReadZInt()
	if !ok || n > uint64(z.Remaining()) {
		return nil, false
	}
	locs := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		l, ok := z.ReadString()
		if !ok {
			return nil, false
		}
		locs = append(locs, l)
	}
	return locs, true
}
