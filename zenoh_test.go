package zenoh

import (
	"testing"
	"time"

	"github.com/eurc17/zenoh/config"
	"github.com/eurc17/zenoh/internal/zerror"
)

func testConfig(mode string) *config.Config {
	cfg := config.Default()
	cfg.Mode = mode
	cfg.ScoutingEnabled = false
	cfg.Lease = 2000
	return cfg
}

func openPeer(t *testing.T, mode string) *Session {
	t.Helper()
	s, err := Open(testConfig(mode))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func connect(t *testing.T, a, b *Session) {
	t.Helper()
	if err := connectPiped(a, b, 64); err != nil {
		t.Fatal(err)
	}
}

// waitUntil polls a condition with a deadline; declarations propagate
// asynchronously.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func subscriptionVisible(s *Session, key string) func() bool {
	return func() bool { return s.rt.tables.MatchingSubscriptions(nil, key) }
}

func TestPubSubPush(t *testing.T) {
	a := openPeer(t, "peer")
	b := openPeer(t, "peer")
	connect(t, a, b)

	sub, err := a.DeclareSubscriber("/demo/example/**", DefaultSubInfo())
	if err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "subscription at the publisher", subscriptionVisible(b, "/demo/example/a"))

	if err := b.Put("/demo/example/a", []byte("hello"),
		WithEncoding(EncodingFrom("text/plain")), WithCongestionControl(Drop)); err != nil {
		t.Fatal(err)
	}
	select {
	case sample := <-sub.C:
		if sample.Key != "/demo/example/a" || string(sample.Payload) != "hello" {
			t.Fatalf("sample = %+v", sample)
		}
		if sample.Encoding.String() != "text/plain" {
			t.Errorf("encoding = %q", sample.Encoding)
		}
		if !sample.Source.Equal(b.PeerID()) {
			t.Errorf("source = %s, want %s", sample.Source, b.PeerID())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no sample delivered")
	}
	// Exactly one sample.
	select {
	case s := <-sub.C:
		t.Fatalf("unexpected second sample %+v", s)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPublicationOrderPerKey(t *testing.T) {
	a := openPeer(t, "peer")
	b := openPeer(t, "peer")
	connect(t, a, b)

	sub, err := a.DeclareSubscriber("/seq/**", DefaultSubInfo())
	if err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "subscription at the publisher", subscriptionVisible(b, "/seq/k"))

	const n = 50
	for i := 0; i < n; i++ {
		if err := b.Put("/seq/k", []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < n; i++ {
		select {
		case s := <-sub.C:
			if s.Payload[0] != byte(i) {
				t.Fatalf("sample %d carried %d: order violated", i, s.Payload[0])
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("only %d of %d samples delivered", i, n)
		}
	}
}

func TestPullSubscription(t *testing.T) {
	a := openPeer(t, "peer")
	b := openPeer(t, "peer")
	connect(t, a, b)

	sub, err := a.DeclareSubscriber("/demo/example/**", PullSubInfo())
	if err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "subscription at the publisher", subscriptionVisible(b, "/demo/example/p"))

	for i := byte(1); i <= 3; i++ {
		if err := b.Put("/demo/example/p", []byte{i}); err != nil {
			t.Fatal(err)
		}
	}
	// Nothing is delivered before the pull.
	select {
	case s := <-sub.C:
		t.Fatalf("pull subscriber received %+v before pulling", s)
	case <-time.After(300 * time.Millisecond):
	}
	if err := sub.Pull(); err != nil {
		t.Fatal(err)
	}
	for i := byte(1); i <= 3; i++ {
		select {
		case s := <-sub.C:
			if s.Payload[0] != i {
				t.Fatalf("pull delivered %d, want %d: order violated", s.Payload[0], i)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("pull released only %d of 3 samples", i-1)
		}
	}
	// A second pull with nothing buffered releases nothing.
	if err := sub.Pull(); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-sub.C:
		t.Fatalf("empty pull released %+v", s)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestQueryBestMatching(t *testing.T) {
	querier := openPeer(t, "peer")
	near := openPeer(t, "peer")
	far := openPeer(t, "peer")
	connect(t, querier, near)
	connect(t, querier, far)

	_, err := near.DeclareQueryable("/demo/**", Storage,
		QueryableInfo{Complete: 1, Distance: 2}, func(q *Query) {
			_ = q.Reply(q.Selector, []byte("near"))
		})
	if err != nil {
		t.Fatal(err)
	}
	_, err = far.DeclareQueryable("/demo/**", Storage,
		QueryableInfo{Complete: 1, Distance: 5}, func(q *Query) {
			_ = q.Reply(q.Selector, []byte("far"))
		})
	if err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "queryables at the querier", func() bool {
		return len(querier.rt.tables.QueryTargets(nil, "/demo/x", DefaultQueryTarget())) > 0 &&
			len(querier.rt.tables.QueryTargets(nil, "/demo/x",
				QueryTarget{Kind: AllKinds, Target: AllTarget()})) == 2
	})

	rcv, err := querier.Get("/demo/x", WithTimeout(3*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	var replies []Reply
	for r := range rcv.C {
		replies = append(replies, r)
	}
	if err := rcv.Err(); err != nil {
		t.Fatalf("query ended with %v", err)
	}
	if len(replies) != 1 || string(replies[0].Payload) != "near" {
		t.Fatalf("replies = %+v, want exactly the nearest complete queryable's", replies)
	}
}

func TestQueryAllWithoutConsolidation(t *testing.T) {
	querier := openPeer(t, "peer")
	q1 := openPeer(t, "peer")
	q2 := openPeer(t, "peer")
	connect(t, querier, q1)
	connect(t, querier, q2)

	for _, peer := range []*Session{q1, q2} {
		peer := peer
		if _, err := peer.DeclareQueryable("/demo/**", Eval, DefaultQueryableInfo(), func(q *Query) {
			_ = q.Reply("/demo/x", peer.PeerID().Bytes())
		}); err != nil {
			t.Fatal(err)
		}
	}
	waitUntil(t, "queryables at the querier", func() bool {
		return len(querier.rt.tables.QueryTargets(nil, "/demo/x",
			QueryTarget{Kind: AllKinds, Target: AllTarget()})) == 2
	})

	rcv, err := querier.Get("/demo/x",
		WithTarget(QueryTarget{Kind: AllKinds, Target: AllTarget()}),
		WithConsolidation(NoQueryConsolidation()),
		WithTimeout(3*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for range rcv.C {
		count++
	}
	if err := rcv.Err(); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("received %d replies, want 2", count)
	}
}

// TestQueryFullConsolidationAtReception: three repliers answer on the same
// key; only the newest timestamp survives the reception stage.
func TestQueryFullConsolidationAtReception(t *testing.T) {
	querier := openPeer(t, "peer")
	peers := []*Session{openPeer(t, "peer"), openPeer(t, "peer"), openPeer(t, "peer")}
	for i, p := range peers {
		connect(t, querier, p)
		delay := time.Duration(i) * 30 * time.Millisecond
		payload := []byte{byte(i)}
		if _, err := p.DeclareQueryable("/demo/**", Storage, DefaultQueryableInfo(), func(q *Query) {
			// Staggered replies give strictly increasing HLC timestamps;
			// the clock is process-wide, so ordering is deterministic.
			time.Sleep(delay)
			_ = q.Reply("/demo/k", payload)
		}); err != nil {
			t.Fatal(err)
		}
	}
	waitUntil(t, "queryables at the querier", func() bool {
		return len(querier.rt.tables.QueryTargets(nil, "/demo/k",
			QueryTarget{Kind: AllKinds, Target: AllTarget()})) == 3
	})

	rcv, err := querier.Get("/demo/k",
		WithTarget(QueryTarget{Kind: AllKinds, Target: AllTarget()}),
		WithTimeout(3*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	var replies []Reply
	for r := range rcv.C {
		replies = append(replies, r)
	}
	if len(replies) != 1 {
		t.Fatalf("full consolidation surfaced %d replies, want 1", len(replies))
	}
	if replies[0].Payload[0] != 2 {
		t.Errorf("survivor = %d, want the latest replier", replies[0].Payload[0])
	}
}

func TestQueryTimeout(t *testing.T) {
	querier := openPeer(t, "peer")
	slow := openPeer(t, "peer")
	connect(t, querier, slow)

	if _, err := slow.DeclareQueryable("/demo/**", Storage, DefaultQueryableInfo(), func(q *Query) {
		time.Sleep(2 * time.Second)
	}); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "queryable at the querier", func() bool {
		return len(querier.rt.tables.QueryTargets(nil, "/demo/x", DefaultQueryTarget())) == 1
	})

	rcv, err := querier.Get("/demo/x", WithTimeout(200*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	for range rcv.C {
	}
	if !zerror.IsKind(rcv.Err(), zerror.KindTimeout) {
		t.Fatalf("Err = %v, want timeout kind", rcv.Err())
	}
}

func TestDeclareResourceAndPutByID(t *testing.T) {
	a := openPeer(t, "peer")
	b := openPeer(t, "peer")
	connect(t, a, b)

	sub, err := a.DeclareSubscriber("/demo/example/**", DefaultSubInfo())
	if err != nil {
		t.Fatal(err)
	}
	rid, err := b.DeclareResource("/demo/example/a")
	if err != nil {
		t.Fatal(err)
	}
	if rid == 0 {
		t.Fatal("DeclareResource returned the reserved id 0")
	}
	// Idempotent within the session.
	again, _ := b.DeclareResource("/demo/example/a")
	if again != rid {
		t.Errorf("re-declaration returned %d, want %d", again, rid)
	}
	waitUntil(t, "subscription at the publisher", subscriptionVisible(b, "/demo/example/a"))

	if err := b.Put("/demo/example/a", []byte("compact")); err != nil {
		t.Fatal(err)
	}
	select {
	case sample := <-sub.C:
		// The wire carried the registered id; the subscriber still sees the
		// full resource name.
		if sample.Key != "/demo/example/a" || string(sample.Payload) != "compact" {
			t.Fatalf("sample = %+v", sample)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no sample delivered for id-addressed publication")
	}
}

func TestRouterForwarding(t *testing.T) {
	router := openPeer(t, "router")
	a := openPeer(t, "client")
	b := openPeer(t, "client")
	connect(t, a, router)
	connect(t, b, router)

	sub, err := a.DeclareSubscriber("/demo/**", DefaultSubInfo())
	if err != nil {
		t.Fatal(err)
	}
	// The router re-announces the client's interest to the other client.
	waitUntil(t, "subscription propagated through the router",
		subscriptionVisible(b, "/demo/x"))

	if err := b.Put("/demo/x", []byte("via-router")); err != nil {
		t.Fatal(err)
	}
	select {
	case sample := <-sub.C:
		if string(sample.Payload) != "via-router" {
			t.Fatalf("sample = %+v", sample)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("publication not forwarded across the router")
	}
}

func TestUndeclareStopsDelivery(t *testing.T) {
	a := openPeer(t, "peer")
	b := openPeer(t, "peer")
	connect(t, a, b)

	sub, err := a.DeclareSubscriber("/demo/**", DefaultSubInfo())
	if err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "subscription at the publisher", subscriptionVisible(b, "/demo/x"))
	if err := sub.Undeclare(); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "undeclaration at the publisher", func() bool {
		return !b.rt.tables.MatchingSubscriptions(nil, "/demo/x")
	})
	if err := b.Put("/demo/x", []byte("late")); err != nil {
		t.Fatal(err)
	}
	// The channel is closed; no sample may arrive.
	select {
	case s, ok := <-sub.C:
		if ok {
			t.Fatalf("undeclared subscriber received %+v", s)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("subscriber channel not closed after undeclare")
	}
}

func TestClosedSessionFailsOperations(t *testing.T) {
	s := openPeer(t, "peer")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("/k", nil); !zerror.IsKind(err, zerror.KindSessionClosed) {
		t.Errorf("Put after close = %v", err)
	}
	if _, err := s.Get("/k"); !zerror.IsKind(err, zerror.KindSessionClosed) {
		t.Errorf("Get after close = %v", err)
	}
	if _, err := s.DeclareSubscriber("/k", DefaultSubInfo()); !zerror.IsKind(err, zerror.KindSessionClosed) {
		t.Errorf("DeclareSubscriber after close = %v", err)
	}
}

func TestInvalidSelectorsRejected(t *testing.T) {
	s := openPeer(t, "peer")
	if err := s.Put("/a//b", nil); !zerror.IsKind(err, zerror.KindInvalidSelector) {
		t.Errorf("Put with empty segment = %v", err)
	}
	if _, err := s.DeclareSubscriber("/a/b*", DefaultSubInfo()); !zerror.IsKind(err, zerror.KindInvalidSelector) {
		t.Errorf("partial wildcard = %v", err)
	}
	if _, err := s.Get(""); !zerror.IsKind(err, zerror.KindInvalidSelector) {
		t.Errorf("empty selector = %v", err)
	}
}
