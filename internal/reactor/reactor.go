// Package reactor accepts connections, promotes them through the handshake
// and feeds decoded text frames to a Dispatcher. Each connection has its own
// reader goroutine and writer goroutine; all relay state lives behind the
// Dispatcher.
package reactor

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/matst80/husky/internal/frame"
	"github.com/matst80/husky/internal/handshake"
	"github.com/matst80/husky/internal/obs"
	"github.com/matst80/husky/internal/ratelimit"
	"github.com/matst80/husky/internal/session"
)

// Dispatcher receives connection lifecycle events and frame payloads.
// *session.Machine implements it.
type Dispatcher interface {
	Open(c session.Conn) error
	Dispatch(c session.Conn, payload []byte) error
	Drop(c session.Conn) error
}

// Config tunes the reactor. Zero values fall back to defaults.
type Config struct {
	ReadChunk         int   // bytes per read, default 100000
	MaxFrameSize      int64 // declared payload cap, 0 = unlimited
	Handshake         handshake.Options
	OutboxLimit       int           // queued frames per connection, 0 = unlimited
	TCPUserTimeout    time.Duration // 0 keeps the kernel default
	MaxProtocolErrors int           // consecutive bad frames before close, 0 = never
	ConnLimiter       *ratelimit.Limiter
}

func (c Config) readChunk() int {
	if c.ReadChunk <= 0 {
		return 100000
	}
	return c.ReadChunk
}

// Server owns the listening endpoint and the set of watched connections.
type Server struct {
	cfg  Config
	disp Dispatcher

	mu      sync.Mutex
	conns   map[string]*conn
	raw     map[net.Conn]struct{} // accepted, handshake in progress
	closing bool
	wg      sync.WaitGroup
}

func New(cfg Config, d Dispatcher) *Server {
	return &Server{
		cfg:   cfg,
		disp:  d,
		conns: make(map[string]*conn),
		raw:   make(map[net.Conn]struct{}),
	}
}

// Len reports the number of framed connections currently watched.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Serve accepts on ln until ctx is cancelled or Accept fails with a
// non-temporary error. It closes ln and every watched connection before
// returning. A nil error means ctx ended the loop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.shutdown()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				obs.Warn("reactor.accept.temp", obs.Fields{"err": err})
				obs.ErrorsTotal.WithLabelValues("accept_temp").Inc()
				continue
			}
			obs.Error("reactor.accept", obs.Fields{"err": err})
			_ = ln.Close()
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(nc)
		}()
	}
}

func (s *Server) shutdown() {
	s.mu.Lock()
	s.closing = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	for nc := range s.raw {
		_ = nc.Close()
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()
}

// track records nc as mid-handshake. It reports false once shutdown began.
func (s *Server) track(nc net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.raw[nc] = struct{}{}
	return true
}

// promote moves a negotiated connection into the watched set.
func (s *Server) promote(nc net.Conn, c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.raw, nc)
	if s.closing {
		return false
	}
	s.conns[c.id] = c
	return true
}

func (s *Server) untrack(nc net.Conn) {
	s.mu.Lock()
	delete(s.raw, nc)
	s.mu.Unlock()
}

func (s *Server) forget(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

func remoteIP(nc net.Conn) string {
	addr := nc.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (s *Server) handle(nc net.Conn) {
	ip := remoteIP(nc)
	if !s.cfg.ConnLimiter.Allow(ip) {
		obs.Warn("reactor.conn.limited", obs.Fields{"ip": ip})
		obs.ErrorsTotal.WithLabelValues("conn_rate").Inc()
		_ = nc.Close()
		return
	}
	if !s.track(nc) {
		_ = nc.Close()
		return
	}
	if s.cfg.TCPUserTimeout > 0 {
		if err := setUserTimeout(nc, s.cfg.TCPUserTimeout); err != nil {
			obs.Warn("reactor.sockopt", obs.Fields{"ip": ip, "err": err})
		}
	}

	info, err := handshake.Negotiate(nc, s.cfg.Handshake)
	if err != nil {
		obs.HandshakesTotal.WithLabelValues("rejected").Inc()
		obs.Info("reactor.handshake.reject", obs.Fields{"ip": ip, "err": err})
		s.untrack(nc)
		_ = nc.Close()
		return
	}
	obs.HandshakesTotal.WithLabelValues("ok").Inc()

	c := newConn(nc, info.RemoteIP, s.cfg.OutboxLimit, s.forget)
	if !s.promote(nc, c) {
		_ = nc.Close()
		return
	}
	go c.writeLoop()

	obs.Debug("conn.open", obs.Fields{"conn": c.id, "ip": info.RemoteIP, "port": info.RemotePort, "target": info.Target})
	if err := s.disp.Open(c); err != nil {
		_ = c.Close()
		return
	}
	s.readLoop(c, info.Buffered)
}

// drop hands cleanup to the dispatcher, or closes c directly once the
// dispatcher has stopped.
func (s *Server) drop(c *conn) {
	if err := s.disp.Drop(c); err != nil {
		_ = c.Close()
	}
}

// readLoop accumulates bytes across reads and dispatches every complete text
// frame in order. It returns once the connection is gone.
func (s *Server) readLoop(c *conn, buf []byte) {
	dec := frame.Decoder{MaxPayload: s.cfg.MaxFrameSize}
	chunk := make([]byte, s.cfg.readChunk())
	bad := 0
	for {
		for len(buf) > 0 {
			f, n, err := dec.Decode(buf)
			if errors.Is(err, frame.ErrIncomplete) {
				break
			}
			if err != nil {
				obs.Debug("reactor.frame.invalid", obs.Fields{"conn": c.id, "err": err})
				obs.ErrorsTotal.WithLabelValues("protocol").Inc()
				buf = buf[:0]
				bad++
				if s.cfg.MaxProtocolErrors > 0 && bad >= s.cfg.MaxProtocolErrors {
					obs.Warn("reactor.frame.too_many_invalid", obs.Fields{"conn": c.id, "count": bad})
					s.drop(c)
					return
				}
				break
			}
			bad = 0
			buf = buf[n:]
			obs.FramesTotal.WithLabelValues(f.Kind.String()).Inc()
			if f.Kind != frame.Text {
				continue
			}
			if err := s.disp.Dispatch(c, f.Payload); err != nil {
				_ = c.Close()
				return
			}
		}
		if len(buf) == 0 {
			// Release whatever the previous frames pinned.
			buf = nil
		}

		n, err := c.nc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil || n == 0 {
			s.drop(c)
			return
		}
	}
}
