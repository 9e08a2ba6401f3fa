// Package routing maintains, per neighbour face, the declared subscriptions
// and queryables, decides which faces a publication or query reaches, and
// applies duplicate suppression across the reply stages of a query.
package routing

import (
	"sort"
	"sync"

	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/message"
	"github.com/eurc17/zenoh/internal/rname"
)

// Face is a forwarding destination: a remote session or the local process.
type Face interface {
	// ID is the stable identity used by the tables; remote faces use the
	// peer id's hex form, so lexicographic comparison of IDs matches the
	// peer-id tie-breaking order.
	ID() string
	// WhatAmI is the remote role mask.
	WhatAmI() core.WhatAmI
	// Send delivers a data-layer message to this face.
	Send(m message.ZenohMessage, ch core.Channel, cc core.CongestionControl) error
}

// subscription is one declared subscription of a face. The key is stored
// fully resolved.
type subscription struct {
	face Face
	key  string
	info core.SubInfo
}

// queryableEntry is one declared queryable of a face.
type queryableEntry struct {
	face Face
	key  string
	kind core.ZInt
	info core.QueryableInfo
}

// pullState buffers samples for one pull-mode subscription and remembers the
// last pull sequence number served, making retransmitted pulls idempotent.
type pullState struct {
	samples    []*message.Data
	lastPullID core.ZInt
}

// Tables is the routing state of a runtime. Read-mostly: lookups take the
// read side, declarations the write side. Faces are implicit: a face exists
// in the tables for exactly as long as it has declarations.
type Tables struct {
	mu    sync.RWMutex
	subs  []subscription
	qrys  []queryableEntry
	pulls map[pullKey]*pullState
}

type pullKey struct {
	faceID string
	key    string
}

// NewTables returns empty routing state.
func NewTables() *Tables {
	return &Tables{
		pulls: make(map[pullKey]*pullState),
	}
}

// RemoveFace withdraws everything a face declared.
func (t *Tables) RemoveFace(f Face) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.subs[:0]
	for _, s := range t.subs {
		if s.face.ID() != f.ID() {
			subs = append(subs, s)
		}
	}
	t.subs = subs
	qrys := t.qrys[:0]
	for _, q := range t.qrys {
		if q.face.ID() != f.ID() {
			qrys = append(qrys, q)
		}
	}
	t.qrys = qrys
	for k := range t.pulls {
		if k.faceID == f.ID() {
			delete(t.pulls, k)
		}
	}
}

// DeclareSubscription installs or refreshes a subscription of a face.
// Declarations are idempotent within a session.
func (t *Tables) DeclareSubscription(f Face, key string, info core.SubInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s.face.ID() == f.ID() && s.key == key {
			t.subs[i].info = info
			return
		}
	}
	t.subs = append(t.subs, subscription{face: f, key: key, info: info})
	if info.Mode == core.Pull {
		pk := pullKey{faceID: f.ID(), key: key}
		if _, ok := t.pulls[pk]; !ok {
			t.pulls[pk] = &pullState{}
		}
	}
}

// UndeclareSubscription removes a subscription. Samples already buffered for
// a pull subscription are discarded.
func (t *Tables) UndeclareSubscription(f Face, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s.face.ID() == f.ID() && s.key == key {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			break
		}
	}
	delete(t.pulls, pullKey{faceID: f.ID(), key: key})
}

// DeclareQueryable installs or refreshes a queryable of a face.
func (t *Tables) DeclareQueryable(f Face, key string, kind core.ZInt, info core.QueryableInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, q := range t.qrys {
		if q.face.ID() == f.ID() && q.key == key && q.kind == kind {
			t.qrys[i].info = info
			return
		}
	}
	t.qrys = append(t.qrys, queryableEntry{face: f, key: key, kind: kind, info: info})
}

// UndeclareQueryable removes a queryable.
func (t *Tables) UndeclareQueryable(f Face, key string, kind core.ZInt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, q := range t.qrys {
		if q.face.ID() == f.ID() && q.key == key && q.kind == kind {
			t.qrys = append(t.qrys[:i], t.qrys[i+1:]...)
			return
		}
	}
}

// PushTargets returns the faces whose push subscriptions intersect name,
// excluding src, each face at most once.
func (t *Tables) PushTargets(src Face, name string) []Face {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]bool)
	var out []Face
	for _, s := range t.subs {
		if src != nil && s.face.ID() == src.ID() {
			continue
		}
		if s.info.Mode != core.Push || seen[s.face.ID()] {
			continue
		}
		if rname.Intersects(s.key, name) {
			seen[s.face.ID()] = true
			out = append(out, s.face)
		}
	}
	return out
}

// PullTransitTargets returns the faces whose only matching subscriptions
// are pull-mode, excluding src. A transit runtime forwards to them directly:
// buffering happens at the publication's origin, not at every hop.
func (t *Tables) PullTransitTargets(src Face, name string) []Face {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pushSeen := make(map[string]bool)
	pullSeen := make(map[string]Face)
	for _, s := range t.subs {
		if src != nil && s.face.ID() == src.ID() {
			continue
		}
		if !rname.Intersects(s.key, name) {
			continue
		}
		if s.info.Mode == core.Push {
			pushSeen[s.face.ID()] = true
		} else {
			pullSeen[s.face.ID()] = s.face
		}
	}
	var out []Face
	for id, f := range pullSeen {
		if !pushSeen[id] {
			out = append(out, f)
		}
	}
	return out
}

// BufferPull appends a sample to every matching pull-mode subscription of
// any face but src. The publication order is preserved per subscription.
func (t *Tables) BufferPull(src Face, name string, d *message.Data) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	buffered := 0
	for _, s := range t.subs {
		if src != nil && s.face.ID() == src.ID() {
			continue
		}
		if s.info.Mode != core.Pull || !rname.Intersects(s.key, name) {
			continue
		}
		st := t.pulls[pullKey{faceID: s.face.ID(), key: s.key}]
		if st == nil {
			st = &pullState{}
			t.pulls[pullKey{faceID: s.face.ID(), key: s.key}] = st
		}
		st.samples = append(st.samples, d)
		buffered++
	}
	return buffered
}

// ReleasePull drains the samples buffered for the pull subscription of face
// f on key, honouring the pull sequence number: a pull id at or below the
// last served one is a retransmission and releases nothing.
func (t *Tables) ReleasePull(f Face, key string, pullID core.ZInt, max *core.ZInt) []*message.Data {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.pulls[pullKey{faceID: f.ID(), key: key}]
	if !ok || pullID <= st.lastPullID {
		return nil
	}
	st.lastPullID = pullID
	n := len(st.samples)
	if max != nil && int(*max) < n {
		n = int(*max)
	}
	out := st.samples[:n:n]
	st.samples = append([]*message.Data(nil), st.samples[n:]...)
	return out
}

// queryMatch is a face with the best queryable metadata it advertised for a
// selector.
type queryMatch struct {
	face     Face
	complete bool
	distance core.ZInt
}

// QueryTargets selects the faces a query must reach, following the query
// target policy. src is excluded.
func (t *Tables) QueryTargets(src Face, selector string, target core.QueryTarget) []Face {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// Collapse per-face: keep the completest, nearest advertisement.
	best := make(map[string]*queryMatch)
	var order []string
	for _, q := range t.qrys {
		if src != nil && q.face.ID() == src.ID() {
			continue
		}
		if target.Kind != core.AllKinds && q.kind != core.AllKinds && target.Kind&q.kind == 0 {
			continue
		}
		if !rname.Intersects(q.key, selector) {
			continue
		}
		m, ok := best[q.face.ID()]
		if !ok {
			best[q.face.ID()] = &queryMatch{
				face:     q.face,
				complete: q.info.Complete > 0,
				distance: q.info.Distance,
			}
			order = append(order, q.face.ID())
			continue
		}
		complete := q.info.Complete > 0
		if (complete && !m.complete) || (complete == m.complete && q.info.Distance < m.distance) {
			m.complete = complete
			m.distance = q.info.Distance
		}
	}
	if len(best) == 0 {
		return nil
	}
	matches := make([]*queryMatch, 0, len(best))
	for _, id := range order {
		matches = append(matches, best[id])
	}
	// Distance order, peer id as the deterministic tie-breaker.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].distance != matches[j].distance {
			return matches[i].distance < matches[j].distance
		}
		return matches[i].face.ID() < matches[j].face.ID()
	})

	switch target.Target.Kind {
	case core.TargetNone:
		return nil
	case core.TargetAll:
		out := make([]Face, len(matches))
		for i, m := range matches {
			out[i] = m.face
		}
		return out
	case core.TargetAllComplete:
		var out []Face
		for _, m := range matches {
			if m.complete {
				out = append(out, m.face)
			}
		}
		return out
	case core.TargetComplete:
		var out []Face
		for _, m := range matches {
			if m.complete {
				out = append(out, m.face)
				if core.ZInt(len(out)) >= target.Target.N {
					break
				}
			}
		}
		return out
	default: // BestMatching
		for _, m := range matches {
			if m.complete {
				return []Face{m.face}
			}
		}
		return []Face{matches[0].face}
	}
}

// MatchingSubscriptions reports whether any subscription of any face but
// src intersects name; used to short-circuit publication framing.
func (t *Tables) MatchingSubscriptions(src Face, name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.subs {
		if src != nil && s.face.ID() == src.ID() {
			continue
		}
		if rname.Intersects(s.key, name) {
			return true
		}
	}
	return false
}
