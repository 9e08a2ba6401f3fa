// Package zenoh is a zero-overhead publish/subscribe/query middleware for
// distributed edge, fog and cloud workloads. Processes form an overlay of
// peers and routers exchanging data under three interaction patterns:
// pub/sub streaming, solicited query/reply, and push/pull subscriptions,
// over reliable or best-effort channels with optional multi-hop routing.
//
// A minimal exchange:
//
//	session, err := zenoh.Open(config.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	sub, _ := session.DeclareSubscriber("/demo/example/**", zenoh.DefaultSubInfo())
//	go func() {
//	    for sample := range sub.C {
//	        fmt.Printf("%s: %s\n", sample.Key, sample.Payload)
//	    }
//	}()
//	session.Put("/demo/example/a", []byte("hello"))
package zenoh

import (
	"context"

	"github.com/eurc17/zenoh/config"
	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/scouting"
)

// Re-exported value types of the protocol core.
type (
	// ZInt is the protocol integer.
	ZInt = core.ZInt
	// ResourceId names a registered resource within a session.
	ResourceId = core.ResourceId
	// PeerId is the global unique identifier of a peer.
	PeerId = core.PeerId
	// Timestamp is a hybrid-logical-clock timestamp with its source id.
	Timestamp = core.Timestamp
	// Encoding is the MIME encoding of a payload.
	Encoding = core.Encoding
	// WhatAmI is the role bitmask of a process.
	WhatAmI = core.WhatAmI
	// SubInfo qualifies a subscription.
	SubInfo = core.SubInfo
	// SubMode selects push or pull delivery.
	SubMode = core.SubMode
	// Period is the optional periodic filter of a subscription.
	Period = core.Period
	// Reliability is the delivery contract of a subscription.
	Reliability = core.Reliability
	// CongestionControl selects block or drop on a full channel.
	CongestionControl = core.CongestionControl
	// QueryableInfo advertises a queryable's coverage.
	QueryableInfo = core.QueryableInfo
	// QueryTarget selects the queryables a get reaches.
	QueryTarget = core.QueryTarget
	// Target is the queryable-selection policy of a get.
	Target = core.Target
	// QueryConsolidation carries the three consolidation stage modes.
	QueryConsolidation = core.QueryConsolidation
	// ConsolidationMode is one stage's duplicate-suppression policy.
	ConsolidationMode = core.ConsolidationMode
	// Hello is one scouting answer.
	Hello = scouting.Hello
)

// Role masks.
const (
	Router = core.Router
	Peer   = core.Peer
	Client = core.Client
)

// Subscription modes.
const (
	Push = core.Push
	Pull = core.Pull
)

// Congestion-control policies.
const (
	Block = core.Block
	Drop  = core.Drop
)

// Queryable kinds.
const (
	AllKinds = core.AllKinds
	Storage  = core.Storage
	Eval     = core.Eval
)

// Consolidation modes.
const (
	ConsolidationNone = core.ConsolidationNone
	ConsolidationLazy = core.ConsolidationLazy
	ConsolidationFull = core.ConsolidationFull
)

// EncodingFrom maps a MIME string onto the wire registry.
func EncodingFrom(s string) Encoding { return core.EncodingFrom(s) }

// DefaultSubInfo is a reliable push subscription.
func DefaultSubInfo() SubInfo { return core.DefaultSubInfo() }

// PullSubInfo is a reliable pull subscription.
func PullSubInfo() SubInfo {
	si := core.DefaultSubInfo()
	si.Mode = core.Pull
	return si
}

// DefaultQueryableInfo claims completeness at distance zero.
func DefaultQueryableInfo() QueryableInfo { return core.DefaultQueryableInfo() }

// DefaultQueryTarget matches all kinds with BestMatching.
func DefaultQueryTarget() QueryTarget { return core.DefaultQueryTarget() }

// BestMatching targets the single completest, nearest queryable.
func BestMatching() Target { return core.BestMatching() }

// AllTarget targets every matching queryable.
func AllTarget() Target { return Target{Kind: core.TargetAll} }

// AllCompleteTarget targets every complete matching queryable.
func AllCompleteTarget() Target { return Target{Kind: core.TargetAllComplete} }

// NoneTarget does not forward; only local queryables reply.
func NoneTarget() Target { return Target{Kind: core.TargetNone} }

// CompleteN targets any n complete queryables.
func CompleteN(n ZInt) Target { return core.CompleteN(n) }

// DefaultQueryConsolidation is lazy at the router stages, full at
// reception.
func DefaultQueryConsolidation() QueryConsolidation {
	return core.DefaultQueryConsolidation()
}

// NoQueryConsolidation disables every consolidation stage.
func NoQueryConsolidation() QueryConsolidation {
	return core.NoQueryConsolidation()
}

// Open builds a runtime from the configuration, connects to the configured
// peers, starts the configured listeners, and returns the session handle.
func Open(cfg *config.Config) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return nil, err
	}
	if err := rt.startNetworking(cfg); err != nil {
		_ = rt.close()
		return nil, err
	}
	return &Session{rt: rt}, nil
}

// Scout discovers processes matching the whatami mask on the scouting
// multicast group, streaming Hellos until the context is done.
func Scout(ctx context.Context, what WhatAmI, cfg *config.Config) (<-chan Hello, error) {
	addr := ""
	if cfg != nil {
		addr = cfg.ScoutingAddress
	}
	return scouting.Scout(ctx, what, addr, true)
}

// Scout runs discovery with this session's scouting configuration.
func (s *Session) Scout(ctx context.Context, what WhatAmI) (<-chan Hello, error) {
	if err := s.rt.checkOpen(); err != nil {
		return nil, err
	}
	return scouting.Scout(ctx, what, s.rt.scoutAddr, true)
}
