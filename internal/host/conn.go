package host

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/decodeguard/pkg/domain"
)

const (
	shutdownWriteTimeout = time.Second
	// DefaultWriteTimeout bounds a single Send when Config.WriteTimeout is zero.
	DefaultWriteTimeout = 5 * time.Second
)

// ErrConnClosed is returned when writing to a connection that has been shut down.
var ErrConnClosed = errors.New("connection closed")

// Conn is one peer connection. It satisfies domain.Channel.
type Conn struct {
	id           domain.ConnectionID
	conn         net.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	once    sync.Once
	closed  chan struct{}

	reasonMu sync.Mutex
	reason   string
}

func newConn(c net.Conn, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Conn{
		id:           domain.ConnectionID(uuid.NewString()),
		conn:         c,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// ID returns the connection's identity. A nil *Conn has the zero identity,
// which the governor refuses without touching the connection.
func (c *Conn) ID() domain.ConnectionID {
	if c == nil {
		return ""
	}
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Send writes msgs to the peer as one frame.
func (c *Conn) Send(msgs ...Message) error {
	body, err := EncodeMessages(msgs...)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return ErrConnClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return WriteFrame(c.conn, body)
}

// Shutdown tells the peer why it is being dropped and closes the socket. Only
// the first Shutdown or close has any effect. A nil *Conn is a no-op.
func (c *Conn) Shutdown(reason string) error {
	if c == nil {
		return nil
	}
	return c.terminate(reason, true)
}

// close drops the socket without notifying the peer.
func (c *Conn) close() {
	_ = c.terminate("", false)
}

func (c *Conn) terminate(reason string, notify bool) error {
	var err error
	c.once.Do(func() {
		c.reasonMu.Lock()
		c.reason = reason
		c.reasonMu.Unlock()
		close(c.closed)

		// A Send stuck on a peer that stopped reading holds writeMu. Closing
		// the socket releases it; the peer gets no disconnect frame.
		if !c.writeMu.TryLock() {
			err = c.conn.Close()
			return
		}
		defer c.writeMu.Unlock()

		if notify {
			err = c.writeDisconnect(reason)
		}
		err = errors.Join(err, c.conn.Close())
	})
	return err
}

func (c *Conn) writeDisconnect(reason string) error {
	body, err := EncodeMessages(Message{Type: MsgDisconnect, Payload: []byte(reason)})
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(shutdownWriteTimeout))
	return WriteFrame(c.conn, body)
}

// Reason returns the reason given to Shutdown, if any.
func (c *Conn) Reason() string {
	c.reasonMu.Lock()
	defer c.reasonMu.Unlock()
	return c.reason
}

// Done is closed once the connection has been shut down.
func (c *Conn) Done() <-chan struct{} { return c.closed }

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
