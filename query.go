package zenoh

import (
	"sync"
	"time"

	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/message"
	"github.com/eurc17/zenoh/internal/routing"
	"github.com/eurc17/zenoh/internal/zerror"
)

// querySink tracks one in-flight query: the faces still expected to send
// their end-of-stream marker, the consolidation engine of the stage this
// runtime applies, and where admitted replies go.
type querySink struct {
	rt  *runtime
	qid core.ZInt

	mu      sync.Mutex
	waiting map[string]bool
	cons    routing.Consolidator
	deliver func(name string, d *message.Data)
	finish  func(err error)
	timer   *time.Timer
	done    bool
}

func (rt *runtime) newQuerySink(qid core.ZInt, faces []routing.Face, mode core.ConsolidationMode,
	deliver func(string, *message.Data), finish func(error), timeout time.Duration) *querySink {
	s := &querySink{
		rt:      rt,
		qid:     qid,
		waiting: make(map[string]bool, len(faces)),
		cons:    routing.NewConsolidator(mode),
		deliver: deliver,
		finish:  finish,
	}
	for _, f := range faces {
		s.waiting[f.ID()] = true
	}
	if timeout > 0 {
		s.timer = time.AfterFunc(timeout, func() {
			s.fail(zerror.Newf(zerror.KindTimeout, "query %d timed out after %s", qid, timeout))
		})
	}
	rt.mu.Lock()
	rt.sinks[qid] = s
	rt.mu.Unlock()
	if len(faces) == 0 {
		s.complete()
	}
	return s
}

// admit runs one reply through the stage consolidator and forwards what
// survives. The reply's key is normalised to the resolved name so it stays
// meaningful outside the session it arrived on.
func (s *querySink) admit(name string, d *message.Data) {
	nd := *d
	nd.Key = core.KeyName(name)
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	out := s.cons.Admit(name, &nd)
	s.mu.Unlock()
	for _, r := range out {
		s.deliver(name, r)
	}
}

// finalFrom records the end-of-stream marker of one face.
func (s *querySink) finalFrom(faceID string) {
	s.mu.Lock()
	if s.done || !s.waiting[faceID] {
		s.mu.Unlock()
		return
	}
	delete(s.waiting, faceID)
	remaining := len(s.waiting)
	s.mu.Unlock()
	if remaining == 0 {
		s.complete()
	}
}

// dropFace removes a face that went away before answering.
func (s *querySink) dropFace(faceID string) {
	s.finalFrom(faceID)
}

// complete flushes the consolidator and ends the stream.
func (s *querySink) complete() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	if s.timer != nil {
		s.timer.Stop()
	}
	retained := s.cons.Flush()
	s.mu.Unlock()
	s.unregister()
	for _, d := range retained {
		s.deliver(d.Key.Suffix(), d)
	}
	s.finish(nil)
}

// fail ends the stream with an error, discarding retained replies.
func (s *querySink) fail(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.unregister()
	s.finish(err)
}

func (s *querySink) unregister() {
	s.rt.mu.Lock()
	delete(s.rt.sinks, s.qid)
	s.rt.mu.Unlock()
}

func (rt *runtime) sink(qid core.ZInt) *querySink {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.sinks[qid]
}

// abortFaceQueries releases every sink still waiting on a face that closed.
func (rt *runtime) abortFaceQueries(faceID string) {
	rt.mu.RLock()
	sinks := make([]*querySink, 0, len(rt.sinks))
	for _, s := range rt.sinks {
		sinks = append(sinks, s)
	}
	rt.mu.RUnlock()
	for _, s := range sinks {
		s.dropFace(faceID)
	}
}

// defaultQueryTimeout bounds a query when the caller sets none.
const defaultQueryTimeout = 10 * time.Second

// routeQuery fans a query out to its target faces and wires the reply path
// through one consolidation stage. src is nil for locally-issued queries.
func (rt *runtime) routeQuery(src routing.Face, name, predicate string,
	qt core.QueryTarget, qc core.QueryConsolidation, mode core.ConsolidationMode,
	deliver func(string, *message.Data), finish func(error), timeout time.Duration) {

	var faces []routing.Face
	if qt.Target.Kind == core.TargetNone {
		// Not forwarded: only this runtime's queryables may reply.
		all := core.QueryTarget{Kind: qt.Kind, Target: core.Target{Kind: core.TargetAll}}
		for _, f := range rt.tables.QueryTargets(src, name, all) {
			if f.ID() == rt.local.ID() {
				faces = append(faces, f)
			}
		}
	} else {
		faces = rt.tables.QueryTargets(src, name, qt)
	}

	qid := rt.nextQid.Add(1)
	rt.newQuerySink(qid, faces, mode, deliver, finish, timeout)
	q := &message.Query{
		Key:           core.KeyName(name),
		Predicate:     predicate,
		QID:           qid,
		Target:        &qt,
		Consolidation: qc,
	}
	for _, f := range faces {
		if err := f.Send(q, core.Reliable, core.Block); err != nil {
			rt.log.WithError(err).Debug("query not forwarded")
			if s := rt.sink(qid); s != nil {
				s.dropFace(f.ID())
			}
		}
	}
}

// handleQuery serves a query arriving from a session: this runtime answers
// with its own queryables and, in router mode, forwards per the target
// policy, consolidating at the stage its position dictates.
func (rt *runtime) handleQuery(face *sessionFace, q *message.Query) {
	name, err := face.s.ResolveKey(q.Key)
	if err != nil {
		rt.log.WithError(err).Warn("dropping query with unresolvable key")
		return
	}
	qt := core.DefaultQueryTarget()
	if q.Target != nil {
		qt = *q.Target
	}
	mode := core.ConsolidationNone
	if rt.whatami == core.Router {
		if face.WhatAmI()&core.Router == 0 {
			mode = q.Consolidation.LastRouter
		} else {
			mode = q.Consolidation.FirstRouters
		}
	}
	srcQID := q.QID
	deliver := func(_ string, d *message.Data) {
		out := *d
		out.Reply = &message.ReplyContext{
			QID:        srcQID,
			SourceKind: replySourceKind(d),
			Replier:    replySource(d, rt.pid),
		}
		if err := face.Send(&out, core.Reliable, core.Block); err != nil {
			rt.log.WithError(err).Debug("reply not forwarded")
		}
	}
	finish := func(err error) {
		if err != nil {
			rt.log.WithError(err).Debug("query ended with error")
		}
		final := &message.Unit{Reply: &message.ReplyContext{QID: srcQID, Final: true}}
		if err := face.Send(final, core.Reliable, core.Block); err != nil {
			rt.log.WithError(err).Debug("final reply not forwarded")
		}
	}
	rt.routeQuery(face, name, q.Predicate, qt, q.Consolidation, mode, deliver, finish, defaultQueryTimeout)
}

func replySourceKind(d *message.Data) core.ZInt {
	if d.Reply != nil {
		return d.Reply.SourceKind
	}
	return core.AllKinds
}

func replySource(d *message.Data, fallback core.PeerId) core.PeerId {
	if d.Reply != nil && !d.Reply.Replier.IsZero() {
		return d.Reply.Replier
	}
	return fallback
}

// handleReply feeds a reply from a session into its pending query.
func (rt *runtime) handleReply(face *sessionFace, d *message.Data) {
	if d.Reply.Final {
		rt.finishReplier(d.Reply.QID, face.ID())
		return
	}
	s := rt.sink(d.Reply.QID)
	if s == nil {
		rt.log.WithField("qid", d.Reply.QID).Debug("reply for unknown query")
		return
	}
	name, err := face.s.ResolveKey(d.Key)
	if err != nil {
		rt.log.WithError(err).Warn("dropping reply with unresolvable key")
		return
	}
	s.admit(name, d)
}

// finishReplier records an end-of-stream marker from a face.
func (rt *runtime) finishReplier(qid core.ZInt, faceID string) {
	if s := rt.sink(qid); s != nil {
		s.finalFrom(faceID)
	}
}
