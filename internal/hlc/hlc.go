// Package hlc provides the hybrid logical clock consumed by the session
// layer: a monotonic 64-bit timestamp paired with the identity of its
// source. The time word packs unix milliseconds in the upper 48 bits and a
// logical counter in the lower 16, so timestamps from one clock are strictly
// increasing even within a millisecond.
package hlc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/zerror"
)

// counterBits is the width of the logical counter inside the time word.
const counterBits = 16

// maxDrift bounds how far ahead of physical time a remote timestamp may be
// before Update rejects it.
const maxDrift = 500 * time.Millisecond

// Clock is a hybrid logical clock.
type Clock struct {
	id   core.TimestampID
	last atomic.Uint64 // packed (ms << 16) | counter
}

// New returns a clock sourced by the given peer identity.
func New(pid core.PeerId) *Clock {
	return &Clock{id: core.TimestampIDFromPeerId(pid)}
}

// ID returns the clock's source identity.
func (c *Clock) ID() core.TimestampID { return c.id }

func physNow() uint64 {
	return uint64(time.Now().UnixMilli()) << counterBits
}

// Now returns a timestamp strictly greater than every earlier one issued by
// this clock.
func (c *Clock) Now() core.Timestamp {
	for {
		last := c.last.Load()
		next := physNow()
		if next <= last {
			next = last + 1
		}
		if c.last.CompareAndSwap(last, next) {
			return core.Timestamp{Time: next, ID: c.id}
		}
	}
}

// Update folds a remote timestamp into the clock, keeping local time ahead
// of everything observed. A remote time too far ahead of physical time is
// rejected rather than propagated.
func (c *Clock) Update(remote core.Timestamp) error {
	now := physNow()
	if remote.Time > now && time.Duration((remote.Time-now)>>counterBits)*time.Millisecond > maxDrift {
		return zerror.Newf(zerror.KindOther,
			"remote timestamp %s too far in the future", remote)
	}
	for {
		last := c.last.Load()
		if remote.Time <= last {
			return nil
		}
		if c.last.CompareAndSwap(last, remote.Time) {
			return nil
		}
	}
}

// The process-wide singleton, initialised once with the local peer id.
var (
	procMu    sync.Mutex
	procClock *Clock
)

// Init installs the process clock. The first caller wins; later calls with a
// different identity are ignored, which keeps co-located runtimes (tests)
// deterministic.
func Init(pid core.PeerId) *Clock {
	procMu.Lock()
	defer procMu.Unlock()
	if procClock == nil {
		procClock = New(pid)
	}
	return procClock
}

// Process returns the process clock, initialising it with a random identity
// if no runtime installed one.
func Process() *Clock {
	procMu.Lock()
	defer procMu.Unlock()
	if procClock == nil {
		procClock = New(core.RandomPeerId())
	}
	return procClock
}
