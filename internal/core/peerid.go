package core

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"github.com/eurc17/zenoh/internal/zerror"
)

// PeerIDMaxSize is the maximum width of a peer identifier in bytes.
const PeerIDMaxSize = 16

// PeerId is the global unique identifier of a peer: up to 16 bytes, compared
// by active prefix. The backing array's tail beyond size is always zero, so
// the struct itself is comparable and usable as a map key.
type PeerId struct {
	size int
	id   [PeerIDMaxSize]byte
}

// NewPeerId builds a PeerId from the first size bytes of id.
func NewPeerId(size int, id [PeerIDMaxSize]byte) PeerId {
	if size > PeerIDMaxSize {
		size = PeerIDMaxSize
	}
	p := PeerId{size: size}
	copy(p.id[:size], id[:size])
	return p
}

// PeerIdFromBytes builds a PeerId from a byte slice of at most 16 bytes.
func PeerIdFromBytes(b []byte) (PeerId, error) {
	if len(b) == 0 || len(b) > PeerIDMaxSize {
		return PeerId{}, zerror.Newf(zerror.KindOther, "peer id must be 1..%d bytes, got %d", PeerIDMaxSize, len(b))
	}
	p := PeerId{size: len(b)}
	copy(p.id[:], b)
	return p, nil
}

// RandomPeerId returns a fresh 16-byte identifier.
func RandomPeerId() PeerId {
	u := uuid.New()
	return PeerId{size: 16, id: [PeerIDMaxSize]byte(u)}
}

// Size returns the active-prefix width.
func (p PeerId) Size() int { return p.size }

// Bytes returns the active prefix.
func (p PeerId) Bytes() []byte { return p.id[:p.size] }

// IsZero reports whether the id is unset.
func (p PeerId) IsZero() bool { return p.size == 0 }

// Equal compares by active prefix.
func (p PeerId) Equal(o PeerId) bool {
	return p.size == o.size && bytes.Equal(p.id[:p.size], o.id[:o.size])
}

// Less orders peer ids lexicographically by active prefix, shorter first on
// equal prefixes. Used for deterministic tie-breaking.
func (p PeerId) Less(o PeerId) bool {
	if c := bytes.Compare(p.id[:p.size], o.id[:o.size]); c != 0 {
		return c < 0
	}
	return p.size < o.size
}

// String renders the id as uppercase hex.
func (p PeerId) String() string {
	return strings.ToUpper(hex.EncodeToString(p.id[:p.size]))
}
