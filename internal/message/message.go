// Package message implements the wire framing: the 1-byte header carrying a
// message id and per-message flags, the extension chain, and the read/write
// contract of every session-layer and data-layer message.
//
// Every message begins with:
//
//	 7 6 5 4 3 2 1 0
//	+-+-+-+-+-+-+-+-+
//	|Z|f|f|   ID    |
//	+-+-+-+-+-+-+-+-+
//
// The low 5 bits are the message id. The high 3 bits are flags whose meaning
// is per-message, except the most significant one (Z): when set, a chain of
// extensions follows the fixed fields.
//
// Write(w) appends header, fields and extensions and reports false on buffer
// exhaustion, leaving the buffer position unspecified; callers checkpoint
// with WBuf.Mark and roll back. The read functions take the already-consumed
// header and report failure on short reads or invalid fields.
package message

import (
	"github.com/eurc17/zenoh/internal/zbuf"
	"github.com/eurc17/zenoh/internal/zerror"
)

// Session-layer message ids.
const (
	IDScout     byte = 0x01
	IDHello     byte = 0x02
	IDOpen      byte = 0x03
	IDAccept    byte = 0x04
	IDClose     byte = 0x05
	IDKeepAlive byte = 0x06
	IDFrame     byte = 0x07
)

// Data-layer message ids, carried inside Frame payloads.
const (
	IDDeclare byte = 0x0b
	IDData    byte = 0x0c
	IDQuery   byte = 0x0d
	IDPull    byte = 0x0e
	IDUnit    byte = 0x0f

	// IDReplyContext is a decorator: it precedes the Data or Unit message it
	// qualifies.
	IDReplyContext byte = 0x1e
)

// Header layout.
const (
	// IDMask extracts the message id from a header byte.
	IDMask byte = 0x1f
	// FlagZ marks a trailing extension chain on any message.
	FlagZ byte = 0x80
)

// MsgID returns the message id bits of a header.
func MsgID(header byte) byte { return header & IDMask }

// HasFlag reports whether flag is set in header.
func HasFlag(header, flag byte) bool { return header&flag != 0 }

// SessionMessage is the framing contract of session-layer messages.
type SessionMessage interface {
	// MsgID returns the message id, without flags.
	MsgID() byte
	// Write appends the full message; false means buffer exhaustion.
	Write(w *zbuf.WBuf) bool
}

// ZenohMessage is the framing contract of data-layer messages.
type ZenohMessage interface {
	MsgID() byte
	Write(w *zbuf.WBuf) bool
}

// ReadSessionMessage decodes the next session-layer message.
func ReadSessionMessage(z *zbuf.ZBuf) (SessionMessage, error) {
	header, ok := z.ReadU8()
	if !ok {
		return nil, zerror.New(zerror.KindParse, "short read: missing message header")
	}
	switch MsgID(header) {
	case IDScout:
		if m, ok := readScout(z, header); ok {
			return m, nil
		}
	case IDHello:
		if m, ok := readHello(z, header); ok {
			return m, nil
		}
	case IDOpen:
		if m, ok := readOpen(z, header); ok {
			return m, nil
		}
	case IDAccept:
		if m, ok := readAccept(z, header); ok {
			return m, nil
		}
	case IDClose:
		if m, ok := readClose(z, header); ok {
			return m, nil
		}
	case IDKeepAlive:
		if m, ok := readKeepAlive(z, header); ok {
			return m, nil
		}
	case IDFrame:
		if m, ok := readFrame(z, header); ok {
			return m, nil
		}
	default:
		return nil, zerror.Newf(zerror.KindParse, "unknown session message id 0x%02x", MsgID(header))
	}
	return nil, zerror.Newf(zerror.KindParse, "malformed message 0x%02x", MsgID(header))
}

// ReadZenohMessage decodes the next data-layer message, attaching a leading
// ReplyContext decorator to the message it qualifies.
func ReadZenohMessage(z *zbuf.ZBuf) (ZenohMessage, error) {
	var reply *ReplyContext
	for {
		header, ok := z.ReadU8()
		if !ok {
			return nil, zerror.New(zerror.KindParse, "short read: missing message header")
		}
		switch MsgID(header) {
		case IDReplyContext:
			rc, ok := readReplyContext(z, header)
			if !ok {
				return nil, zerror.New(zerror.KindParse, "malformed reply context")
			}
			reply = rc
			continue
		case IDDeclare:
			if m, ok := readDeclare(z, header); ok {
				return m, nil
			}
		case IDData:
			if m, ok := readData(z, header); ok {
				m.Reply = reply
				return m, nil
			}
		case IDUnit:
			if m, ok := readUnit(z, header); ok {
				m.Reply = reply
				return m, nil
			}
		case IDQuery:
			if m, ok := readQuery(z, header); ok {
				return m, nil
			}
		case IDPull:
			if m, ok := readPull(z, header); ok {
				return m, nil
			}
		default:
			return nil, zerror.Newf(zerror.KindParse, "unknown message id 0x%02x", MsgID(header))
		}
		return nil, zerror.Newf(zerror.KindParse, "malformed message 0x%02x", MsgID(header))
	}
}
