package zenoh

import (
	"net"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/eurc17/zenoh/config"
	"github.com/eurc17/zenoh/internal/scouting"
	"github.com/eurc17/zenoh/internal/transport"
	"github.com/eurc17/zenoh/internal/zerror"
)

// A locator is "scheme/address", e.g. "tcp/192.168.0.1:7447".
func parseLocator(loc string) (scheme, addr string, err error) {
	parts := strings.SplitN(loc, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", zerror.Newf(zerror.KindOther, "malformed locator %q", loc)
	}
	return parts[0], parts[1], nil
}

// startNetworking dials the configured peers, starts the configured
// listeners, and joins the scouting group when enabled.
func (rt *runtime) startNetworking(cfg *config.Config) error {
	var listeners []net.Listener
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for _, loc := range cfg.Listeners {
		scheme, addr, err := parseLocator(loc)
		if err != nil {
			return err
		}
		if scheme != "tcp" {
			return zerror.Newf(zerror.KindOther, "unsupported locator scheme %q", scheme)
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return errors.Wrapf(err, "listen on %s", loc)
		}
		listeners = append(listeners, ln)
		wg.Add(1)
		go func(ln net.Listener) {
			defer wg.Done()
			rt.acceptLoop(ln, stop)
		}(ln)
	}

	rt.stopNet = func() {
		close(stop)
		for _, l := range listeners {
			_ = l.Close()
		}
		wg.Wait()
	}

	// Connect the configured peers concurrently; any failure aborts open.
	var g errgroup.Group
	for _, loc := range cfg.Peers {
		loc := loc
		g.Go(func() error {
			scheme, addr, err := parseLocator(loc)
			if err != nil {
				return err
			}
			if scheme != "tcp" {
				return zerror.Newf(zerror.KindOther, "unsupported locator scheme %q", scheme)
			}
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return errors.Wrapf(err, "connect %s", loc)
			}
			_, err = rt.addLink(transport.NewStreamLink(conn), true)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if cfg.ScoutingEnabled && len(cfg.Listeners) > 0 {
		responder, err := scouting.NewResponder(cfg.ScoutingAddress, rt.pid, rt.whatami, cfg.Listeners)
		if err != nil {
			rt.log.WithError(err).Warn("scouting responder not started")
		} else {
			rt.responder = responder
		}
	}
	return nil
}

func (rt *runtime) acceptLoop(ln net.Listener, stop <-chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
			default:
				rt.log.WithError(err).Warn("accept failed")
			}
			return
		}
		go func() {
			if _, err := rt.addLink(transport.NewStreamLink(conn), false); err != nil {
				rt.log.WithError(err).Warn("inbound session rejected")
			}
		}()
	}
}

// connectPiped joins two co-located runtimes over an in-memory link pair
// with the given per-direction capacity in batches. Used by tests and by
// brokers embedding several runtimes in one process.
func connectPiped(a, b *Session, capacity int) error {
	la, lb := transport.Pipe(capacity)
	errCh := make(chan error, 1)
	go func() {
		_, err := b.rt.addLink(lb, false)
		errCh <- err
	}()
	if _, err := a.rt.addLink(la, true); err != nil {
		return err
	}
	return <-errCh
}
