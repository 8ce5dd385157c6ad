package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"reviewbus/internal/protocol"
)

// Connection owns one accepted socket: its framer, its session record,
// and its handshake deadline.
type Connection struct {
	id     string
	conn   net.Conn
	daemon *Daemon
	framer *protocol.Framer
	sess   *Session
	logger *slog.Logger

	handshakeTimer *time.Timer
	closeOnce      sync.Once
}

func newConnection(id string, conn net.Conn, d *Daemon) *Connection {
	c := &Connection{
		id:     id,
		conn:   conn,
		daemon: d,
		framer: protocol.NewFramer(conn),
		sess:   newSession(id),
		logger: d.logger.With(slog.String("session", id)),
	}

	// A client that never announces does not get to hold a slot open.
	if d.config.HandshakeTimeout > 0 {
		c.handshakeTimer = time.AfterFunc(d.config.HandshakeTimeout, func() {
			if c.sess.State() == StateConnected {
				c.logger.Warn("handshake timeout, closing connection")
				c.Close()
			}
		})
	}

	return c
}

// LinkID identifies this connection to the request correlator.
func (c *Connection) LinkID() string {
	return c.id
}

// Session returns the session record for this connection.
func (c *Connection) Session() *Session {
	return c.sess
}

// Handle reads frames until disconnect. Malformed frames are logged and
// dropped; the stream stays aligned because framing is line-based.
func (c *Connection) Handle(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := c.framer.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedFrame) {
				c.logger.Warn("dropping malformed frame", slog.String("error", err.Error()))
				continue
			}
			if err == io.EOF || isClosedError(err) {
				return
			}
			c.logger.Warn("read error", slog.String("error", err.Error()))
			return
		}

		switch {
		case frame.Message != nil:
			if done := c.handleMessage(ctx, frame.Message); done {
				return
			}
		case frame.Response != nil:
			if !c.daemon.correlator.Resolve(frame.Response) {
				c.logger.Debug("dropping response for unknown request",
					slog.String("id", frame.Response.ID))
			}
		case frame.Ack != nil:
			c.logger.Debug("dropping unexpected ack frame")
		}
	}
}

// handleMessage routes one inbound message. Returns true when the
// connection must close.
func (c *Connection) handleMessage(ctx context.Context, msg *protocol.Message) bool {
	switch msg.Type {
	case protocol.TypeAnnounce:
		c.handleAnnounce(msg)
		return false
	case protocol.TypeStatus:
		c.handleStatus(msg)
		return false
	case protocol.TypeShutdown:
		c.WriteResponse(protocol.SuccessResponse(msg.ID, nil))
		go c.daemon.Stop(context.Background())
		return false
	default:
		// Application traffic is only legal once the handshake finished.
		if c.sess.State() != StateActive {
			c.logger.Warn("message before handshake, closing connection",
				slog.String("type", msg.Type))
			c.WriteResponse(protocol.ErrorResponse(msg.ID, "announce required before application messages"))
			return true
		}
		c.daemon.dispatcher.Dispatch(ctx, c.sess, msg, c)
		return false
	}
}

// handleAnnounce runs the handshake: resolve identity, register the
// session, acknowledge. A repeated announce re-resolves and re-acks,
// which also lets a client refresh its identity after re-parenting.
func (c *Connection) handleAnnounce(msg *protocol.Message) {
	var payload protocol.AnnouncePayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.logger.Warn("malformed announce payload", slog.String("error", err.Error()))
			c.WriteResponse(protocol.ErrorResponse(msg.ID, "malformed announce payload"))
			return
		}
	}

	role := payload.Role
	if role == "" {
		role = protocol.RoleAgent
	}

	// Peer credentials beat the self-reported pid when the transport
	// provides them.
	pid := peerPID(c.conn)
	if pid == 0 {
		pid = payload.PID
	}

	c.sess.setState(StateAnnounced)

	terminalID, resolved := c.daemon.resolver.Resolve(pid)
	c.sess.setIdentity(role, pid, terminalID)

	switch role {
	case protocol.RoleEditor:
		c.daemon.attachEditor(c)
	case protocol.RoleObserver:
		// Observers never enter the active-terminal set.
	default:
		if resolved {
			c.daemon.registry.Register(c.sess.ID, terminalID)
		} else {
			c.daemon.registry.Unregister(c.sess.ID)
		}
	}

	if !c.sess.setState(StateActive) {
		return
	}
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
	}

	ack := &protocol.Ack{SessionID: c.sess.ID}
	if resolved {
		ack.TerminalID = &terminalID
	}
	if err := c.WriteAck(ack); err != nil {
		c.logger.Warn("ack write failed", slog.String("error", err.Error()))
		c.Close()
		return
	}

	c.logger.Info("session announced",
		slog.String("role", role),
		slog.Int("pid", pid),
		slog.String("terminal", terminalID))
}

func (c *Connection) handleStatus(msg *protocol.Message) {
	data, err := json.Marshal(c.daemon.status())
	if err != nil {
		c.WriteResponse(protocol.ErrorResponse(msg.ID, err.Error()))
		return
	}
	c.WriteResponse(protocol.SuccessResponse(msg.ID, data))
}

// WriteMessage sends a daemon-initiated request frame to the client.
func (c *Connection) WriteMessage(msg *protocol.Message) error {
	return c.framer.WriteMessage(msg)
}

// WriteResponse sends a response frame to the client.
func (c *Connection) WriteResponse(resp *protocol.Response) error {
	return c.framer.WriteResponse(resp)
}

// WriteAck sends the handshake acknowledgment.
func (c *Connection) WriteAck(ack *protocol.Ack) error {
	return c.framer.WriteAck(ack)
}

// Close tears the connection down exactly once: the session leaves the
// registry, its pending requests are rejected, and an attached editor
// is detached. Teardown is synchronous so a disconnect observably
// updates the terminal set before Close returns.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.sess.setState(StateClosed)
		if c.handshakeTimer != nil {
			c.handshakeTimer.Stop()
		}

		c.conn.Close()
		c.daemon.registry.Unregister(c.sess.ID)
		c.daemon.correlator.FailLink(c.id, nil)
		c.daemon.detachEditor(c)

		c.logger.Debug("connection closed")
	})
	return nil
}

func isClosedError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "use of closed network connection")
}
