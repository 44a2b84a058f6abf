package reactor

import (
	"errors"
	"net"
	"sync"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/matst80/husky/internal/obs"
)

var (
	ErrOutboxFull = errors.New("outbox full")
	ErrClosed     = errors.New("connection closed")
)

// conn is a framed connection. Writes go through an unbounded-by-default
// FIFO drained by a dedicated goroutine, so Send never blocks on the socket.
type conn struct {
	id    string
	ip    string
	nc    net.Conn
	limit int

	mu     sync.Mutex
	outbox *queue.Queue
	closed bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*conn)
}

func newConn(nc net.Conn, ip string, limit int, onClose func(*conn)) *conn {
	return &conn{
		id:      uuid.NewString(),
		ip:      ip,
		nc:      nc,
		limit:   limit,
		outbox:  queue.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (c *conn) ID() string       { return c.id }
func (c *conn) RemoteIP() string { return c.ip }

// Send queues an encoded frame for the writer goroutine.
func (c *conn) Send(b []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.limit > 0 && c.outbox.Length() >= c.limit {
		c.mu.Unlock()
		obs.OutboxOverflow.Inc()
		return ErrOutboxFull
	}
	c.outbox.Add(b)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close is idempotent. It closes the transport, which unblocks the reader,
// and removes the connection from the watched set.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		err = c.nc.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return err
}

// pending returns everything queued so far.
func (c *conn) pending() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.outbox.Length()
	if n == 0 {
		return nil
	}
	out := make([][]byte, 0, n)
	for c.outbox.Length() > 0 {
		out = append(out, c.outbox.Remove().([]byte))
	}
	return out
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for _, b := range c.pending() {
			if _, err := c.nc.Write(b); err != nil {
				obs.Debug("conn.write", obs.Fields{"conn": c.id, "err": err})
				obs.ErrorsTotal.WithLabelValues("write").Inc()
				// The reader sees the closed socket and reports the drop.
				_ = c.nc.Close()
				return
			}
		}
	}
}
