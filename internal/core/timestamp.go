package core

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// TimestampID identifies the clock that generated a Timestamp. Same width
// and comparison rules as PeerId.
type TimestampID struct {
	size int
	id   [PeerIDMaxSize]byte
}

// TimestampIDFromPeerId derives the clock identity of a peer.
func TimestampIDFromPeerId(p PeerId) TimestampID {
	t := TimestampID{size: p.size}
	copy(t.id[:], p.id[:p.size])
	return t
}

// TimestampIDFromBytes builds an id from at most 16 bytes.
func TimestampIDFromBytes(b []byte) TimestampID {
	t := TimestampID{size: len(b)}
	if t.size > PeerIDMaxSize {
		t.size = PeerIDMaxSize
	}
	copy(t.id[:], b[:t.size])
	return t
}

// Bytes returns the active prefix.
func (t TimestampID) Bytes() []byte { return t.id[:t.size] }

// Less orders ids lexicographically; used as the timestamp tie-breaker.
func (t TimestampID) Less(o TimestampID) bool {
	if c := bytes.Compare(t.id[:t.size], o.id[:o.size]); c != 0 {
		return c < 0
	}
	return t.size < o.size
}

func (t TimestampID) String() string {
	return strings.ToUpper(hex.EncodeToString(t.id[:t.size]))
}

// Timestamp is a 64-bit hybrid logical clock value paired with the identity
// of its source clock. The time word packs the physical part in the upper
// bits and a logical counter in the lower bits; totally ordered by (Time,
// ID).
type Timestamp struct {
	Time ZInt
	ID   TimestampID
}

// Before reports strict total order: time first, source id as tie-breaker.
func (t Timestamp) Before(o Timestamp) bool {
	if t.Time != o.Time {
		return t.Time < o.Time
	}
	return t.ID.Less(o.ID)
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d/%s", t.Time, t.ID)
}
