package zenoh

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eurc17/zenoh/internal/core"
	"github.com/eurc17/zenoh/internal/message"
	"github.com/eurc17/zenoh/internal/zerror"
)

// Session is the application handle on a runtime. All methods are safe for
// concurrent use; after Close every operation fails with a session-closed
// error.
type Session struct {
	rt *runtime
}

// PeerID returns the local peer identifier.
func (s *Session) PeerID() PeerId { return s.rt.pid }

// Close tears the runtime down: sessions are closed best-effort, local
// state is reclaimed immediately, pending queries fail.
func (s *Session) Close() error { return s.rt.close() }

// Dropped returns the total publications discarded by the Drop policy
// across all open sessions.
func (s *Session) Dropped() uint64 {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	var n uint64
	for _, f := range s.rt.sessions {
		n += f.s.Dropped(core.Reliable) + f.s.Dropped(core.BestEffort)
	}
	return n
}

// MetricsRegistry exposes the runtime's prometheus collectors, ready to be
// mounted on an HTTP handler.
func (s *Session) MetricsRegistry() *prometheus.Registry {
	return s.rt.metrics.Registry()
}

// DeclareResource registers a resource name and returns its fresh non-zero
// id, valid for the lifetime of this session. The mapping is propagated to
// every peer, so later operations may address the resource by id.
func (s *Session) DeclareResource(name string) (ResourceId, error) {
	rt := s.rt
	if err := rt.checkOpen(); err != nil {
		return core.NoResourceID, err
	}
	if err := validateSelector(name); err != nil {
		return core.NoResourceID, err
	}
	rt.mu.Lock()
	if rid, ok := rt.resByKey[name]; ok {
		rt.mu.Unlock()
		return rid, nil // idempotent within the session
	}
	rid := rt.nextRid.Add(1)
	rt.localRes[rid] = name
	rt.resByKey[name] = rid
	rt.mu.Unlock()
	rt.broadcastDecl(&message.ResourceDecl{RID: rid, Key: core.KeyName(name)})
	return rid, nil
}

// UndeclareResource withdraws a registered resource id.
func (s *Session) UndeclareResource(rid ResourceId) error {
	rt := s.rt
	if err := rt.checkOpen(); err != nil {
		return err
	}
	rt.mu.Lock()
	name, ok := rt.localRes[rid]
	if ok {
		delete(rt.localRes, rid)
		delete(rt.resByKey, name)
	}
	rt.mu.Unlock()
	if !ok {
		return zerror.Newf(zerror.KindOther, "unregistered resource id %d", rid)
	}
	rt.broadcastDecl(&message.ForgetResourceDecl{RID: rid})
	return nil
}

// putOptions collects the publication qualifiers.
type putOptions struct {
	encoding   core.Encoding
	congestion core.CongestionControl
	channel    core.Channel
}

// PutOption qualifies a Put or a query Reply.
type PutOption func(*putOptions)

// WithEncoding tags the payload with a MIME encoding.
func WithEncoding(e Encoding) PutOption {
	return func(o *putOptions) { o.encoding = e }
}

// WithCongestionControl overrides the process-wide congestion-control
// default for this publication.
func WithCongestionControl(cc CongestionControl) PutOption {
	return func(o *putOptions) { o.congestion = cc }
}

// OnBestEffort publishes on the best-effort channel instead of the reliable
// one.
func OnBestEffort() PutOption {
	return func(o *putOptions) { o.channel = core.BestEffort }
}

func resolvePutOptions(rt *runtime, opts []PutOption) *putOptions {
	o := &putOptions{
		congestion: rt.ccDefault,
		channel:    core.Reliable,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Put publishes a payload on a resource. Under Block congestion control the
// call suspends until every outbound channel accepted the frame; under Drop
// it returns immediately and the payload may be discarded on full buffers.
func (s *Session) Put(key string, payload []byte, opts ...PutOption) error {
	rt := s.rt
	if err := rt.checkOpen(); err != nil {
		return err
	}
	if err := validateSelector(key); err != nil {
		return err
	}
	o := resolvePutOptions(rt, opts)
	ts := rt.clock.Now()
	d := &message.Data{
		Key:     rt.keyFor(key),
		Payload: payload,
		Info: &message.DataInfo{
			SourceID:  rt.pid,
			Timestamp: &ts,
			Encoding:  &o.encoding,
		},
		Congestion: o.congestion,
	}
	rt.routePublication(nil, key, d, o.channel)
	return nil
}

// keyFor prefers a registered id over the full name.
func (rt *runtime) keyFor(name string) core.ResKey {
	rt.mu.RLock()
	rid, ok := rt.resByKey[name]
	rt.mu.RUnlock()
	if ok {
		k, err := core.KeyID(rid)
		if err == nil {
			return k
		}
	}
	return core.KeyName(name)
}

// DeclareSubscriber installs a local sink on a selector. In pull mode,
// matching publications are buffered at their origin until Pull is called.
func (s *Session) DeclareSubscriber(selector string, info SubInfo) (*Subscriber, error) {
	rt := s.rt
	if err := rt.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateSelector(selector); err != nil {
		return nil, err
	}
	ch := make(chan Sample, 256)
	sub := &Subscriber{rt: rt, selector: selector, info: info, ch: ch, C: ch}
	rt.mu.Lock()
	rt.subs = append(rt.subs, sub)
	rt.mu.Unlock()
	rt.tables.DeclareSubscription(rt.local, selector, info)
	rt.broadcastDecl(&message.SubscriberDecl{Key: core.KeyName(selector), Info: info})
	return sub, nil
}

// DeclareQueryable installs a local reply source on a selector. The handler
// runs on a worker goroutine per query; the end-of-stream marker is sent
// when it returns.
func (s *Session) DeclareQueryable(selector string, kind ZInt, info QueryableInfo, handler func(*Query)) (*Queryable, error) {
	rt := s.rt
	if err := rt.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateSelector(selector); err != nil {
		return nil, err
	}
	if kind == 0 {
		kind = core.AllKinds
	}
	q := &Queryable{rt: rt, selector: selector, kind: kind, info: info, handler: handler}
	rt.mu.Lock()
	rt.qrys = append(rt.qrys, q)
	rt.mu.Unlock()
	rt.tables.DeclareQueryable(rt.local, selector, kind, info)
	rt.broadcastDecl(&message.QueryableDecl{Key: core.KeyName(selector), Kind: kind, Info: info})
	return q, nil
}

// Reply is one consolidated answer of a query.
type Reply struct {
	Key       string
	Payload   []byte
	Encoding  Encoding
	Timestamp *Timestamp
	Replier   PeerId
	Kind      ZInt
}

// ReplyReceiver streams the replies of a query. C closes after the
// end-of-stream sentinel; Err reports whether the stream ended cleanly.
type ReplyReceiver struct {
	C <-chan Reply

	done chan struct{}
	err  error
}

// Err returns the terminal error of the stream, nil on a clean end. Only
// meaningful after C closed.
func (r *ReplyReceiver) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// getOptions collects the query qualifiers.
type getOptions struct {
	target        core.QueryTarget
	consolidation core.QueryConsolidation
	predicate     string
	timeout       time.Duration
}

// GetOption qualifies a Get.
type GetOption func(*getOptions)

// WithTarget overrides the queryable-selection policy.
func WithTarget(t QueryTarget) GetOption {
	return func(o *getOptions) { o.target = t }
}

// WithConsolidation overrides the per-stage consolidation modes.
func WithConsolidation(c QueryConsolidation) GetOption {
	return func(o *getOptions) { o.consolidation = c }
}

// WithPredicate attaches a value-selector predicate to the query.
func WithPredicate(p string) GetOption {
	return func(o *getOptions) { o.predicate = p }
}

// WithTimeout bounds the query; on expiry the stream ends with a timeout
// error.
func WithTimeout(d time.Duration) GetOption {
	return func(o *getOptions) { o.timeout = d }
}

// Get issues a query on a selector and returns the reply stream: zero or
// more replies terminated by the end-of-stream sentinel (the channel
// close). Consolidation is applied per stage along the reply path.
func (s *Session) Get(selector string, opts ...GetOption) (*ReplyReceiver, error) {
	rt := s.rt
	if err := rt.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateSelector(selector); err != nil {
		return nil, err
	}
	o := &getOptions{
		target:        core.DefaultQueryTarget(),
		consolidation: core.DefaultQueryConsolidation(),
		timeout:       defaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	ch := make(chan Reply, 256)
	rcv := &ReplyReceiver{C: ch, done: make(chan struct{})}
	deliver := func(name string, d *message.Data) {
		rt.metrics.QueryReplies.Inc()
		select {
		case ch <- replyFrom(name, d):
		default:
			rt.log.WithField("selector", selector).Warn("reply stream full, reply dropped")
		}
	}
	finish := func(err error) {
		rcv.err = err
		close(rcv.done)
		close(ch)
	}
	rt.routeQuery(nil, selector, o.predicate, o.target, o.consolidation,
		o.consolidation.Reception, deliver, finish, o.timeout)
	return rcv, nil
}

func replyFrom(name string, d *message.Data) Reply {
	r := Reply{Key: name, Payload: d.Payload}
	if d.Info != nil {
		if d.Info.Encoding != nil {
			r.Encoding = *d.Info.Encoding
		}
		r.Timestamp = d.Info.Timestamp
		r.Replier = d.Info.SourceID
	}
	if d.Reply != nil {
		r.Replier = d.Reply.Replier
		r.Kind = d.Reply.SourceKind
	}
	return r
}
