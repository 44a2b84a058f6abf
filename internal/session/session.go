// Package session owns every piece of cross-connection relay state:
// authenticated usernames, pending tie requests and established ties.
//
// All state lives inside a Machine and is mutated only by its Run loop, so
// the one-connection-per-user and one-tie-per-user invariants hold no matter
// how many connection goroutines submit commands concurrently.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/matst80/husky/internal/credentials"
	"github.com/matst80/husky/internal/frame"
	"github.com/matst80/husky/internal/obs"
	"github.com/matst80/husky/internal/ratelimit"
)

// Conn is a framed connection as seen by the state machine.
type Conn interface {
	ID() string
	RemoteIP() string
	// Send queues an already encoded frame. It must not block on the network.
	Send(frame []byte) error
	Close() error
}

// ErrStopped is returned once the Run loop has exited.
var ErrStopped = errors.New("session machine stopped")

// Stats is a point-in-time view of the relay state.
type Stats struct {
	Connections int `json:"connections"`
	Approved    int `json:"approved"`
	Waiting     int `json:"waiting"`
	Ties        int `json:"ties"`
}

// Options configure a Machine.
type Options struct {
	// AuthLimiter throttles AUTH attempts per remote IP. Nil disables it.
	AuthLimiter *ratelimit.Limiter
	// OnClose runs after a connection has been cleaned up.
	OnClose func(c Conn)
	// QueueSize is the capacity of the command channel. Zero means 1024.
	QueueSize int
}

type eventKind int

const (
	evOpen eventKind = iota
	evFrame
	evDrop
	evStats
)

type event struct {
	kind    eventKind
	conn    Conn
	payload []byte
	reply   chan Stats
}

type tie struct {
	peer  string
	since time.Time
}

// Machine is the session state machine.
type Machine struct {
	creds   *credentials.Store
	limiter *ratelimit.Limiter
	onClose func(c Conn)

	events chan event
	done   chan struct{}

	live     map[string]Conn   // conn id -> conn
	approved map[string]Conn   // username -> conn
	owner    map[string]string // conn id -> username
	waitlist map[string]string // initiator -> requested peer
	ties     map[string]tie    // both directions of every tie
}

// New creates a Machine. Call Run to start processing.
func New(creds *credentials.Store, opts Options) *Machine {
	size := opts.QueueSize
	if size <= 0 {
		size = 1024
	}
	onClose := opts.OnClose
	if onClose == nil {
		onClose = func(c Conn) { obs.Debug("conn.close", obs.Fields{"conn": c.ID()}) }
	}
	return &Machine{
		creds:    creds,
		limiter:  opts.AuthLimiter,
		onClose:  onClose,
		events:   make(chan event, size),
		done:     make(chan struct{}),
		live:     make(map[string]Conn),
		approved: make(map[string]Conn),
		owner:    make(map[string]string),
		waitlist: make(map[string]string),
		ties:     make(map[string]tie),
	}
}

// Run processes submitted events until ctx is cancelled. On return every
// live connection has been closed and all state cleared.
func (m *Machine) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.teardown()
			return
		case ev := <-m.events:
			m.handleEvent(ev)
		}
	}
}

func (m *Machine) submit(ev event) error {
	select {
	case <-m.done:
		return ErrStopped
	default:
	}
	select {
	case m.events <- ev:
		return nil
	case <-m.done:
		return ErrStopped
	}
}

// Open registers a freshly handshaken connection.
func (m *Machine) Open(c Conn) error { return m.submit(event{kind: evOpen, conn: c}) }

// Dispatch queues the payload of one inbound text frame.
func (m *Machine) Dispatch(c Conn, payload []byte) error {
	return m.submit(event{kind: evFrame, conn: c, payload: payload})
}

// Drop requests full cleanup of c (peer closed, transport error).
func (m *Machine) Drop(c Conn) error { return m.submit(event{kind: evDrop, conn: c}) }

// Stats asks the Run loop for a snapshot.
func (m *Machine) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := m.submit(event{kind: evStats, reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-m.done:
		return Stats{}, ErrStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (m *Machine) handleEvent(ev event) {
	switch ev.kind {
	case evOpen:
		m.live[ev.conn.ID()] = ev.conn
		obs.OpenConnections.Set(float64(len(m.live)))
	case evFrame:
		if _, ok := m.live[ev.conn.ID()]; !ok {
			// Frames still in flight after cleanup.
			return
		}
		m.handle(ev.conn, ev.payload)
	case evDrop:
		m.cleanup(ev.conn)
	case evStats:
		ev.reply <- m.snapshot()
	}
}

func (m *Machine) snapshot() Stats {
	return Stats{
		Connections: len(m.live),
		Approved:    len(m.approved),
		Waiting:     len(m.waitlist),
		Ties:        len(m.ties) / 2,
	}
}

func (m *Machine) updateGauges() {
	obs.OpenConnections.Set(float64(len(m.live)))
	obs.ApprovedUsers.Set(float64(len(m.approved)))
	obs.WaitingUsers.Set(float64(len(m.waitlist)))
	obs.ActiveTies.Set(float64(len(m.ties) / 2))
}

// send encodes payload as an unmasked text frame and queues it on c. A
// failure means c is gone and is cleaned up.
func (m *Machine) send(c Conn, payload []byte) bool {
	b, err := frame.Encode(payload, frame.Text, false)
	if err == nil {
		err = c.Send(b)
	}
	if err != nil {
		obs.Warn("session.send", obs.Fields{"conn": c.ID(), "err": err})
		obs.ErrorsTotal.WithLabelValues("send").Inc()
		m.cleanup(c)
		return false
	}
	return true
}

// cleanup closes c and removes every trace of it. It is safe to call more
// than once for the same connection.
func (m *Machine) cleanup(c Conn) {
	id := c.ID()
	if _, ok := m.live[id]; !ok {
		_ = c.Close()
		return
	}
	delete(m.live, id)
	_ = c.Close()
	if name, ok := m.owner[id]; ok {
		delete(m.owner, id)
		delete(m.approved, name)
		delete(m.waitlist, name)
		m.untie(name)
		obs.Info("session.leave", obs.Fields{"user": name, "conn": id})
	}
	m.updateGauges()
	m.onClose(c)
}

func (m *Machine) teardown() {
	for _, c := range m.live {
		_ = c.Close()
		m.onClose(c)
	}
	clear(m.live)
	clear(m.approved)
	clear(m.owner)
	clear(m.waitlist)
	clear(m.ties)
	m.updateGauges()
}
