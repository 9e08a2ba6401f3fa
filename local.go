package zenoh

import (
	"sync"
	"sync/atomic"

	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/message"
	"github.com/eurc17/zenoh/internal/rname"
	"github.com/eurc17/zenoh/internal/routing"
	zsession "github.com/eurc17/zenoh/internal/session"
	"github.com/eurc17/zenoh/internal/zerror"
)

// sessionFace adapts a peer session onto the routing tables.
type sessionFace struct {
	rt *runtime
	s  *zsession.Session
}

func (f *sessionFace) ID() string            { return f.s.Pid().String() }
func (f *sessionFace) WhatAmI() core.WhatAmI { return f.s.WhatAmI() }

func (f *sessionFace) Send(m message.ZenohMessage, ch core.Channel, cc core.CongestionControl) error {
	return f.s.Send(m, ch, cc)
}

// localFace is the face of the local process: publications routed to it land
// in local subscriber channels, queries in local queryable handlers.
type localFace struct {
	rt *runtime
}

func (f *localFace) ID() string            { return f.rt.pid.String() }
func (f *localFace) WhatAmI() core.WhatAmI { return f.rt.whatami }

func (f *localFace) Send(m message.ZenohMessage, _ core.Channel, _ core.CongestionControl) error {
	switch msg := m.(type) {
	case *message.Data:
		f.rt.deliverLocalData(msg.Key.Suffix(), msg, false)
	case *message.Query:
		f.rt.answerLocal(msg)
	default:
		// Declarations and pulls never target the local face: the runtime
		// updates its own tables directly.
	}
	return nil
}

// Sample is one publication observed by a subscriber.
type Sample struct {
	Key       string
	Payload   []byte
	Encoding  Encoding
	Timestamp *Timestamp
	Source    PeerId
}

func sampleFrom(name string, d *message.Data) Sample {
	s := Sample{Key: name, Payload: d.Payload}
	if d.Info != nil {
		if d.Info.Encoding != nil {
			s.Encoding = *d.Info.Encoding
		}
		s.Timestamp = d.Info.Timestamp
		s.Source = d.Info.SourceID
	}
	return s
}

// deliverLocalData fans a publication out to the matching local
// subscribers. pushOnly restricts delivery to push-mode subscriptions: it is
// set for locally-originated publications, whose pull-mode interest is
// buffered instead.
func (rt *runtime) deliverLocalData(name string, d *message.Data, pushOnly bool) {
	rt.mu.RLock()
	subs := make([]*Subscriber, 0, len(rt.subs))
	for _, sub := range rt.subs {
		if pushOnly && sub.info.Mode != core.Push {
			continue
		}
		if rname.Intersects(sub.selector, name) {
			subs = append(subs, sub)
		}
	}
	rt.mu.RUnlock()
	for _, sub := range subs {
		sub.push(sampleFrom(name, d))
	}
}

// Subscriber is a local sink declared on a selector. Samples arrive on C in
// the publisher's emission order per key and publisher.
type Subscriber struct {
	rt       *runtime
	selector string
	info     core.SubInfo
	ch       chan Sample
	once     sync.Once
	gone     atomic.Bool

	// C streams the samples matching the selector.
	C <-chan Sample
}

func (s *Subscriber) push(sample Sample) {
	if s.gone.Load() {
		return
	}
	select {
	case s.ch <- sample:
	default:
		s.rt.log.WithField("selector", s.selector).Warn("subscriber queue full, sample dropped")
	}
}

// Selector returns the declared key expression.
func (s *Subscriber) Selector() string { return s.selector }

// Pull releases the samples buffered for this pull-mode subscription, both
// locally and at every connected publisher. Pulls carry a monotonically
// increasing sequence number, so a retransmission is a no-op at the source.
func (s *Subscriber) Pull() error {
	rt := s.rt
	if err := rt.checkOpen(); err != nil {
		return err
	}
	if s.info.Mode != core.Pull {
		return zerror.Newf(zerror.KindOther, "subscriber on %s is not in pull mode", s.selector)
	}
	sn := rt.nextPull.Add(1)
	for _, d := range rt.tables.ReleasePull(rt.local, s.selector, sn, nil) {
		name := d.Key.Suffix()
		if d.Key.RID() != core.NoResourceID {
			if resolved, err := rt.resolveLocalKey(d.Key); err == nil {
				name = resolved
			}
		}
		s.push(sampleFrom(name, d))
	}
	rt.relayPull(rt.local, s.selector, nil)
	return nil
}

// Undeclare removes the subscription; local state is reclaimed immediately,
// the remote undeclaration is best-effort.
func (s *Subscriber) Undeclare() error {
	rt := s.rt
	s.once.Do(func() {
		s.gone.Store(true)
		rt.mu.Lock()
		for i, sub := range rt.subs {
			if sub == s {
				rt.subs = append(rt.subs[:i], rt.subs[i+1:]...)
				break
			}
		}
		rt.mu.Unlock()
		rt.tables.UndeclareSubscription(rt.local, s.selector)
		rt.broadcastDecl(&message.ForgetSubscriberDecl{Key: core.KeyName(s.selector)})
		close(s.ch)
	})
	return nil
}

// Query is one solicitation handed to a queryable handler.
type Query struct {
	Selector  string
	Predicate string

	rt   *runtime
	qid  core.ZInt
	kind core.ZInt
}

// Reply sends one reply for this query. The reply carries this runtime's
// identity and a fresh timestamp, so reception-stage consolidation can
// apply its latest-wins rule.
func (q *Query) Reply(key string, payload []byte, opts ...PutOption) error {
	if err := q.rt.checkOpen(); err != nil {
		return err
	}
	po := resolvePutOptions(q.rt, opts)
	ts := q.rt.clock.Now()
	d := &message.Data{
		Key:     core.KeyName(key),
		Payload: payload,
		Info: &message.DataInfo{
			SourceID:  q.rt.pid,
			Timestamp: &ts,
			Encoding:  &po.encoding,
		},
		Reply: &message.ReplyContext{
			QID:        q.qid,
			SourceKind: q.kind,
			Replier:    q.rt.pid,
		},
	}
	if s := q.rt.sink(q.qid); s != nil {
		s.admit(key, d)
		return nil
	}
	return zerror.Newf(zerror.KindOther, "query %d is no longer pending", q.qid)
}

// Queryable is a local reply source declared on a selector.
type Queryable struct {
	rt       *runtime
	selector string
	kind     core.ZInt
	info     core.QueryableInfo
	handler  func(*Query)
	once     sync.Once
}

// Selector returns the declared key expression.
func (q *Queryable) Selector() string { return q.selector }

// Undeclare removes the queryable; the remote undeclaration is best-effort.
func (q *Queryable) Undeclare() error {
	rt := q.rt
	q.once.Do(func() {
		rt.mu.Lock()
		for i, qry := range rt.qrys {
			if qry == q {
				rt.qrys = append(rt.qrys[:i], rt.qrys[i+1:]...)
				break
			}
		}
		rt.mu.Unlock()
		rt.tables.UndeclareQueryable(rt.local, q.selector, q.kind)
		rt.broadcastDecl(&message.ForgetQueryableDecl{Key: core.KeyName(q.selector), Kind: q.kind})
	})
	return nil
}

// answerLocal runs the matching local queryables for a query and marks the
// local face done when the last handler returns. Handlers run on worker
// goroutines, never on the inbound path.
func (rt *runtime) answerLocal(q *message.Query) {
	name := q.Key.Suffix()
	kindMask := core.AllKinds
	if q.Target != nil {
		kindMask = q.Target.Kind
	}
	rt.mu.RLock()
	matching := make([]*Queryable, 0, len(rt.qrys))
	for _, qry := range rt.qrys {
		if kindMask != core.AllKinds && qry.kind != core.AllKinds && kindMask&qry.kind == 0 {
			continue
		}
		if rname.Intersects(qry.selector, name) {
			matching = append(matching, qry)
		}
	}
	rt.mu.RUnlock()
	go func() {
		var wg sync.WaitGroup
		for _, qry := range matching {
			wg.Add(1)
			go func(qry *Queryable) {
				defer wg.Done()
				qry.handler(&Query{
					Selector:  name,
					Predicate: q.Predicate,
					rt:        rt,
					qid:       q.QID,
					kind:      qry.kind,
				})
			}(qry)
		}
		wg.Wait()
		rt.finishReplier(q.QID, rt.local.ID())
	}()
}

// broadcastDecl sends one declaration to every open session.
func (rt *runtime) broadcastDecl(d message.Declaration) {
	rt.mu.RLock()
	faces := make([]*sessionFace, 0, len(rt.sessions))
	for _, f := range rt.sessions {
		faces = append(faces, f)
	}
	rt.mu.RUnlock()
	msg := &message.Declare{Declarations: []message.Declaration{d}}
	for _, f := range faces {
		if err := f.Send(msg, core.Reliable, core.Block); err != nil {
			rt.log.WithError(err).Debug("declaration not delivered")
		}
	}
}

// faceIsLocal reports whether a routing face is this runtime's local face.
func (rt *runtime) faceIsLocal(f routing.Face) bool {
	return f.ID() == rt.local.ID()
}
