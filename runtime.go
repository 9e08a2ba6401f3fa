package zenoh

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eurc17/zenoh/config"
	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/hlc"
	"github.com/eurc17/zenoh/internal/message"
	"github.com/eurc17/zenoh/internal/rname"
	"github.com/eurc17/zenoh/internal/routing"
	"github.com/eurc17/zenoh/internal/scouting"
	"github.com/eurc17/zenoh/internal/session"
	"github.com/eurc17/zenoh/internal/stats"
	"github.com/eurc17/zenoh/internal/transport"
	"github.com/eurc17/zenoh/internal/zerror"
)

// runtime is the broker behind a Session: it owns the routing tables, the
// set of peer sessions, the local entities, and the pending-query state.
// Sessions hold only a handle back to it; on shutdown the handle is invalid
// and every operation fails with SessionClosed.
type runtime struct {
	pid     core.PeerId
	whatami core.WhatAmI
	lease   time.Duration
	// ccDefault is the process-wide congestion-control default, read once
	// from configuration at construction and captured here.
	ccDefault core.CongestionControl

	tables  *routing.Tables
	clock   *hlc.Clock
	metrics *stats.Metrics
	log     *logrus.Entry
	local   *localFace

	mu       sync.RWMutex
	sessions map[string]*sessionFace    // by remote pid hex
	localRes map[core.ResourceId]string // rid -> name, registered locally
	resByKey map[string]core.ResourceId // reverse mapping
	subs     []*Subscriber              // local subscribers
	qrys     []*Queryable               // local queryables
	sinks    map[core.ZInt]*querySink   // pending queries by local qid

	nextRid  atomic.Uint64
	nextQid  atomic.Uint64
	nextPull atomic.Uint64

	responder *scouting.Responder
	scoutAddr string
	stopNet   func()
	closed    atomic.Bool
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	whatami, err := cfg.WhatAmI()
	if err != nil {
		return nil, err
	}
	cc, err := cfg.CongestionControl()
	if err != nil {
		return nil, err
	}
	pid := core.RandomPeerId()
	rt := &runtime{
		pid:       pid,
		whatami:   whatami,
		lease:     cfg.LeaseDuration(),
		ccDefault: cc,
		tables:    routing.NewTables(),
		clock:     hlc.Init(pid),
		metrics:   stats.New(),
		log: logrus.WithFields(logrus.Fields{
			"pid":  pid.String(),
			"mode": core.WhatAmIString(whatami),
		}),
		sessions:  make(map[string]*sessionFace),
		localRes:  make(map[core.ResourceId]string),
		resByKey:  make(map[string]core.ResourceId),
		sinks:     make(map[core.ZInt]*querySink),
		scoutAddr: cfg.ScoutingAddress,
	}
	rt.local = &localFace{rt: rt}
	return rt, nil
}

// resolveLocalKey expands a key built against the local rid registry.
func (rt *runtime) resolveLocalKey(k core.ResKey) (string, error) {
	if k.RID() == core.NoResourceID {
		return k.Suffix(), nil
	}
	rt.mu.RLock()
	prefix, ok := rt.localRes[k.RID()]
	rt.mu.RUnlock()
	if !ok {
		return "", zerror.Newf(zerror.KindOther, "unregistered resource id %d", k.RID())
	}
	return prefix + k.Suffix(), nil
}

// --- session lifecycle -------------------------------------------------

// addLink runs the handshake on an established link and plugs the resulting
// session into the tables.
func (rt *runtime) addLink(link transport.Link, opener bool) (*sessionFace, error) {
	local := session.Local{
		Pid:     rt.pid,
		WhatAmI: rt.whatami,
		Lease:   rt.lease,
		Config: transport.Config{
			Lease: rt.lease,
			OnDrop: func(ch core.Channel) {
				rt.metrics.DroppedFrames.WithLabelValues(ch.String()).Inc()
			},
		},
	}
	var (
		s   *session.Session
		err error
	)
	if opener {
		s, err = session.Open(link, local, (*runtimeEvents)(rt))
	} else {
		s, err = session.Accept(link, local, (*runtimeEvents)(rt))
	}
	if err != nil {
		return nil, err
	}
	face := rt.faceFor(s)
	rt.declareAllTo(face)
	return face, nil
}

// faceFor returns the routing face of a session, registering it on first
// use. The inbound goroutine may observe traffic before addLink finishes,
// so registration must be reachable from both paths.
func (rt *runtime) faceFor(s *session.Session) *sessionFace {
	id := s.Pid().String()
	rt.mu.Lock()
	if f, ok := rt.sessions[id]; ok {
		rt.mu.Unlock()
		return f
	}
	f := &sessionFace{rt: rt, s: s}
	rt.sessions[id] = f
	rt.mu.Unlock()
	rt.metrics.SessionsOpen.Inc()
	return f
}

// declareAllTo replays the local declarations to a freshly opened session.
func (rt *runtime) declareAllTo(face *sessionFace) {
	rt.mu.RLock()
	decls := make([]message.Declaration, 0, len(rt.localRes)+len(rt.subs)+len(rt.qrys))
	for rid, name := range rt.localRes {
		decls = append(decls, &message.ResourceDecl{RID: rid, Key: core.KeyName(name)})
	}
	for _, sub := range rt.subs {
		decls = append(decls, &message.SubscriberDecl{Key: core.KeyName(sub.selector), Info: sub.info})
	}
	for _, q := range rt.qrys {
		decls = append(decls, &message.QueryableDecl{Key: core.KeyName(q.selector), Kind: q.kind, Info: q.info})
	}
	rt.mu.RUnlock()
	if len(decls) == 0 {
		return
	}
	if err := face.Send(&message.Declare{Declarations: decls}, core.Reliable, core.Block); err != nil {
		rt.log.WithError(err).Warn("initial declarations not delivered")
	}
}

// runtimeEvents adapts the runtime onto session.Events without widening the
// runtime's method set.
type runtimeEvents runtime

func (ev *runtimeEvents) OnMessage(s *session.Session, m message.ZenohMessage, ch core.Channel) {
	rt := (*runtime)(ev)
	face := rt.faceFor(s)
	switch msg := m.(type) {
	case *message.Declare:
		for _, d := range msg.Declarations {
			rt.handleDeclaration(face, d)
		}
	case *message.Data:
		if msg.Reply != nil {
			rt.handleReply(face, msg)
			return
		}
		name, err := s.ResolveKey(msg.Key)
		if err != nil {
			rt.log.WithError(err).Warn("dropping data with unresolvable key")
			return
		}
		rt.routePublication(face, name, msg, ch)
	case *message.Unit:
		if msg.Reply != nil && msg.Reply.Final {
			rt.finishReplier(msg.Reply.QID, face.ID())
		}
	case *message.Query:
		rt.handleQuery(face, msg)
	case *message.Pull:
		rt.handlePull(face, msg)
	default:
		rt.log.WithField("id", m.MsgID()).Debug("ignoring data-layer message")
	}
}

func (ev *runtimeEvents) OnStateChange(s *session.Session, st session.State) {
	rt := (*runtime)(ev)
	switch st {
	case session.KeepAliveLost:
		rt.metrics.LeaseExpiration.Inc()
	case session.Closed:
		rt.mu.Lock()
		face := rt.sessions[s.Pid().String()]
		delete(rt.sessions, s.Pid().String())
		rt.mu.Unlock()
		if face != nil {
			rt.tables.RemoveFace(face)
			rt.metrics.SessionsOpen.Dec()
			rt.abortFaceQueries(face.ID())
		}
	}
}

// --- declarations ------------------------------------------------------

func (rt *runtime) handleDeclaration(face *sessionFace, d message.Declaration) {
	switch decl := d.(type) {
	case *message.ResourceDecl:
		name, err := face.s.ResolveKey(decl.Key)
		if err != nil {
			rt.log.WithError(err).Warn("resource declaration with unresolvable key")
			return
		}
		face.s.RegisterRemoteResource(decl.RID, name)
	case *message.ForgetResourceDecl:
		face.s.ForgetRemoteResource(decl.RID)
	case *message.SubscriberDecl:
		name, err := face.s.ResolveKey(decl.Key)
		if err != nil {
			rt.log.WithError(err).Warn("subscriber declaration with unresolvable key")
			return
		}
		rt.tables.DeclareSubscription(face, name, decl.Info)
		rt.propagate(face, &message.SubscriberDecl{Key: core.KeyName(name), Info: decl.Info})
	case *message.ForgetSubscriberDecl:
		name, err := face.s.ResolveKey(decl.Key)
		if err != nil {
			return
		}
		rt.tables.UndeclareSubscription(face, name)
		rt.propagate(face, &message.ForgetSubscriberDecl{Key: core.KeyName(name)})
	case *message.QueryableDecl:
		name, err := face.s.ResolveKey(decl.Key)
		if err != nil {
			rt.log.WithError(err).Warn("queryable declaration with unresolvable key")
			return
		}
		rt.tables.DeclareQueryable(face, name, decl.Kind, decl.Info)
		// Re-advertised one hop further away.
		info := decl.Info
		info.Distance++
		rt.propagate(face, &message.QueryableDecl{Key: core.KeyName(name), Kind: decl.Kind, Info: info})
	case *message.ForgetQueryableDecl:
		name, err := face.s.ResolveKey(decl.Key)
		if err != nil {
			return
		}
		rt.tables.UndeclareQueryable(face, name, decl.Kind)
		rt.propagate(face, &message.ForgetQueryableDecl{Key: core.KeyName(name), Kind: decl.Kind})
	case *message.PublisherDecl, *message.ForgetPublisherDecl:
		// Publisher declarations carry no routing state in this
		// implementation; matching is subscription-driven.
	}
}

// propagate re-announces a declaration to the other faces. Only routers
// forward third-party interest.
func (rt *runtime) propagate(src *sessionFace, d message.Declaration) {
	if rt.whatami != core.Router {
		return
	}
	rt.mu.RLock()
	faces := make([]*sessionFace, 0, len(rt.sessions))
	for _, f := range rt.sessions {
		if f.ID() != src.ID() {
			faces = append(faces, f)
		}
	}
	rt.mu.RUnlock()
	for _, f := range faces {
		if err := f.Send(&message.Declare{Declarations: []message.Declaration{d}}, core.Reliable, core.Block); err != nil {
			rt.log.WithError(err).Debug("declaration not propagated")
		}
	}
}

// --- publications ------------------------------------------------------

// routePublication forwards a publication to every interested face. src is
// nil when the publication originates locally: local subscribers are then
// eligible and pull-mode interest is buffered here, at the origin.
func (rt *runtime) routePublication(src routing.Face, name string, d *message.Data, ch core.Channel) {
	cc := d.Congestion
	for _, f := range rt.tables.PushTargets(src, name) {
		if rt.faceIsLocal(f) {
			continue // local delivery handled below, once
		}
		rt.forward(f, d, ch, cc)
	}
	if src == nil {
		rt.deliverLocalData(name, d, true)
		if n := rt.tables.BufferPull(nil, name, d); n > 0 {
			rt.log.WithField("key", name).Debug("publication buffered for pull subscribers")
		}
	} else {
		// Transit: the origin already gated pull-mode delivery, so remote
		// pull interest is forwarded directly and local pull subscribers
		// receive released samples immediately.
		for _, f := range rt.tables.PullTransitTargets(src, name) {
			if rt.faceIsLocal(f) {
				continue
			}
			rt.forward(f, d, ch, cc)
		}
		rt.deliverLocalData(name, d, false)
	}
}

func (rt *runtime) forward(f routing.Face, d *message.Data, ch core.Channel, cc core.CongestionControl) {
	if err := f.Send(d, ch, cc); err != nil {
		rt.log.WithError(err).Debug("publication not forwarded")
		return
	}
	rt.metrics.RoutedMessages.Inc()
}

// --- pulls -------------------------------------------------------------

func (rt *runtime) handlePull(face *sessionFace, p *message.Pull) {
	name, err := face.s.ResolveKey(p.Key)
	if err != nil {
		rt.log.WithError(err).Warn("dropping pull with unresolvable key")
		return
	}
	// Release what this runtime buffered as an origin for that face.
	for _, d := range rt.tables.ReleasePull(face, name, p.PullID, p.MaxSamples) {
		rt.forward(face, d, core.Reliable, core.Block)
	}
	// Routers relay the solicitation toward the publishers.
	if rt.whatami == core.Router {
		rt.relayPull(face, name, p.MaxSamples)
	}
}

// relayPull forwards a pull solicitation to every other face under this
// runtime's own pull sequence.
func (rt *runtime) relayPull(src routing.Face, name string, max *core.ZInt) {
	rt.mu.RLock()
	faces := make([]*sessionFace, 0, len(rt.sessions))
	for _, f := range rt.sessions {
		if src == nil || f.ID() != src.ID() {
			faces = append(faces, f)
		}
	}
	rt.mu.RUnlock()
	if len(faces) == 0 {
		return
	}
	pull := &message.Pull{
		Key:        core.KeyName(name),
		PullID:     rt.nextPull.Add(1),
		MaxSamples: max,
	}
	for _, f := range faces {
		if err := f.Send(pull, core.Reliable, core.Block); err != nil {
			rt.log.WithError(err).Debug("pull not relayed")
		}
	}
}

// --- shutdown ----------------------------------------------------------

func (rt *runtime) close() error {
	if !rt.closed.CompareAndSwap(false, true) {
		return nil
	}
	if rt.stopNet != nil {
		rt.stopNet()
	}
	if rt.responder != nil {
		_ = rt.responder.Close()
	}
	rt.mu.Lock()
	faces := make([]*sessionFace, 0, len(rt.sessions))
	for _, f := range rt.sessions {
		faces = append(faces, f)
	}
	sinks := rt.sinks
	subs := rt.subs
	rt.sinks = make(map[core.ZInt]*querySink)
	rt.localRes = make(map[core.ResourceId]string)
	rt.resByKey = make(map[string]core.ResourceId)
	rt.mu.Unlock()
	for _, sink := range sinks {
		sink.fail(zerror.New(zerror.KindSessionClosed, "session closed"))
	}
	for _, sub := range subs {
		_ = sub.Undeclare()
	}
	for _, f := range faces {
		_ = f.s.Close()
	}
	rt.log.Info("runtime closed")
	return nil
}

func (rt *runtime) checkOpen() error {
	if rt.closed.Load() {
		return zerror.New(zerror.KindSessionClosed, "operation on a closed session")
	}
	return nil
}

// validateSelector front-loads selector validation for API entry points.
func validateSelector(s string) error {
	return rname.Validate(s)
}
