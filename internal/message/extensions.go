package message

import "github.com/eurc17/zenoh/internal/zbuf"

// Extension envelope. Each extension carries its own 1-byte header followed
// by a length-prefixed body, so receivers can skip extensions they do not
// understand and relays can forward them verbatim:
//
//	 7 6 5 4 3 2 1 0
//	+-+-+-+-+-+-+-+-+
//	|M|R|R|  ExtID  |  M==1 means another extension follows
//	+-+-+-+-+-+-+-+-+
//	~   len: zint   ~
//	~  body bytes   ~
//	+---------------+
const (
	// ExtIDMask extracts the extension id.
	ExtIDMask byte = 0x1f
	// ExtFlagMore chains a further extension.
	ExtFlagMore byte = 0x80
)

// ExtUnknown holds an extension opaquely: the original header (with its
// more-bit as received, rewritten on output) and the raw body. Unknown
// extensions are forwarded verbatim when relaying.
type ExtUnknown struct {
	Header byte
	Body   []byte
}

// ExtID returns the id bits of the extension header.
func (e ExtUnknown) ExtID() byte { return e.Header & ExtIDMask }

// writeExts appends an extension chain, setting the more-bit on every
// extension but the last.
func writeExts(w *zbuf.WBuf, exts []ExtUnknown) bool {
	for i, e := range exts {
		header := e.Header &^ ExtFlagMore
		if i < len(exts)-1 {
			header |= ExtFlagMore
		}
		if !w.WriteU8(header) || !w.WriteBytes(e.Body) {
			return false
		}
	}
	return true
}

// readExts consumes an extension chain, stopping after the first extension
// whose more-bit is clear.
func readExts(z *zbuf.ZBuf) ([]ExtUnknown, bool) {
	var exts []ExtUnknown
	for {
		header, ok := z.ReadU8()
		if !ok {
			return nil, false
		}
		body, ok := z.ReadBytes()
		if !ok {
			return nil, false
		}
		exts = append(exts, ExtUnknown{Header: header, Body: body})
		if header&ExtFlagMore == 0 {
			return exts, true
		}
	}
}
