package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"reviewbus/internal/correlator"
	"reviewbus/internal/protocol"
)

// ErrNotConnected is returned when an operation needs a live connection
// and there is none.
var ErrNotConnected = errors.New("not connected to daemon")

// ErrSocketPathNotSet is returned when a client has no socket path: none
// was configured and the environment variable is empty. Surfacing this
// is the client's job, not the daemon's.
var ErrSocketPathNotSet = fmt.Errorf("socket path not set: %s is empty", SocketEnv)

// SocketPathFromEnv returns the socket path from the environment.
func SocketPathFromEnv() (string, error) {
	if p := os.Getenv(SocketEnv); p != "" {
		return p, nil
	}
	return "", ErrSocketPathNotSet
}

// RequestHandler processes daemon-initiated requests on a client. Only
// editor clients normally set one.
type RequestHandler func(ctx context.Context, msg *protocol.Message) (*protocol.Response, error)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSocketPath sets the socket to connect to.
func WithSocketPath(path string) ClientOption {
	return func(c *Client) { c.socketPath = path }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithRole sets the role announced during the handshake.
func WithRole(role string) ClientOption {
	return func(c *Client) { c.role = role }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRequestHandler sets the callback for daemon-initiated requests.
func WithRequestHandler(h RequestHandler) ClientOption {
	return func(c *Client) { c.handler = h }
}

// Client is one side of a bus connection: it announces, sends
// correlated requests, and optionally serves requests the daemon
// forwards to it.
type Client struct {
	socketPath string
	timeout    time.Duration
	role       string
	logger     *slog.Logger
	handler    RequestHandler

	corr *correlator.Correlator

	mu         sync.Mutex
	conn       net.Conn
	framer     *protocol.Framer
	sessionID  string
	terminalID string
	closed     bool

	ackCh chan *protocol.Ack
	wg    sync.WaitGroup
}

// NewClient creates an unconnected client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		timeout: correlator.DefaultTimeout,
		role:       protocol.RoleAgent,
		logger:     slog.Default(),
		ackCh:      make(chan *protocol.Ack, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.corr = correlator.New(c.logger)
	return c
}

// LinkID identifies the daemon link to the client's correlator.
func (c *Client) LinkID() string { return "daemon" }

// WriteMessage sends a request frame to the daemon.
func (c *Client) WriteMessage(msg *protocol.Message) error {
	c.mu.Lock()
	framer := c.framer
	c.mu.Unlock()
	if framer == nil {
		return ErrNotConnected
	}
	return framer.WriteMessage(msg)
}

// Connect dials the daemon socket and starts the read loop. It does not
// announce; call Announce next.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	if c.socketPath == "" {
		path, err := SocketPathFromEnv()
		if err != nil {
			return err
		}
		c.socketPath = path
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w", c.socketPath, err)
	}
	c.conn = conn
	c.framer = protocol.NewFramer(conn)
	c.closed = false

	c.wg.Add(1)
	go c.readLoop()

	return nil
}

// Announce performs the handshake and blocks until the daemon's
// acknowledgment arrives or ctx expires.
func (c *Client) Announce(ctx context.Context) (*protocol.Ack, error) {
	payload, err := json.Marshal(protocol.AnnouncePayload{
		PID:  os.Getpid(),
		Role: c.role,
	})
	if err != nil {
		return nil, err
	}
	if err := c.WriteMessage(&protocol.Message{Type: protocol.TypeAnnounce, Payload: payload}); err != nil {
		return nil, fmt.Errorf("send announce: %w", err)
	}

	select {
	case ack := <-c.ackCh:
		c.mu.Lock()
		c.sessionID = ack.SessionID
		if ack.TerminalID != nil {
			c.terminalID = *ack.TerminalID
		}
		c.mu.Unlock()
		return ack, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("await acknowledgment: %w", ctx.Err())
	}
}

// SessionID returns the id assigned in the acknowledgment.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// TerminalID returns the resolved terminal identity, empty if the
// session is anonymous.
func (c *Client) TerminalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminalID
}

// Send issues a correlated request and blocks for its response, the
// client's timeout, or ctx.
func (c *Client) Send(ctx context.Context, msgType string, payload any) (*protocol.Response, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.corr.Send(ctx, c, &protocol.Message{Type: msgType, Payload: data}, c.timeout)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return resp, fmt.Errorf("%s: %s", msgType, resp.Error)
	}
	return resp, nil
}

// Notify sends a message without an id and does not wait for a reply.
func (c *Client) Notify(msgType string, payload any) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	return c.WriteMessage(&protocol.Message{Type: msgType, Payload: data})
}

// Status fetches the daemon's status snapshot.
func (c *Client) Status(ctx context.Context) (*protocol.StatusData, error) {
	resp, err := c.Send(ctx, protocol.TypeStatus, nil)
	if err != nil {
		return nil, err
	}
	var status protocol.StatusData
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// Shutdown asks the daemon to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.Send(ctx, protocol.TypeShutdown, nil)
	return err
}

// Close tears the connection down and rejects any in-flight requests.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	conn.Close()
	c.corr.FailLink(c.LinkID(), nil)
	c.wg.Wait()
	return nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer c.corr.FailLink(c.LinkID(), nil)

	for {
		frame, err := c.framer.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedFrame) {
				c.logger.Warn("dropping malformed frame from daemon", slog.String("error", err.Error()))
				continue
			}
			if err != io.EOF && !isClosedError(err) {
				c.logger.Warn("daemon read error", slog.String("error", err.Error()))
			}
			return
		}

		switch {
		case frame.Ack != nil:
			select {
			case c.ackCh <- frame.Ack:
			default:
			}
		case frame.Response != nil:
			if !c.corr.Resolve(frame.Response) {
				c.logger.Debug("dropping response for unknown request",
					slog.String("id", frame.Response.ID))
			}
		case frame.Message != nil:
			c.serveRequest(frame.Message)
		}
	}
}

// serveRequest handles one daemon-initiated request. Each request runs
// in its own goroutine so a slow handler never blocks the read loop,
// and Close does not wait on it: the daemon times the request out on
// its side if the handler never returns.
func (c *Client) serveRequest(msg *protocol.Message) {
	go func() {
		var resp *protocol.Response
		if c.handler == nil {
			resp = protocol.ErrorResponse(msg.ID, fmt.Sprintf("unsupported request type %q", msg.Type))
		} else {
			r, err := c.handler(context.Background(), msg)
			switch {
			case err != nil:
				resp = protocol.ErrorResponse(msg.ID, err.Error())
			case r == nil:
				resp = protocol.SuccessResponse(msg.ID, nil)
			default:
				resp = r
				resp.ID = msg.ID
			}
		}
		if msg.ID == "" {
			return
		}

		c.mu.Lock()
		framer := c.framer
		c.mu.Unlock()
		if framer == nil {
			return
		}
		if err := framer.WriteResponse(resp); err != nil {
			c.logger.Debug("response write failed", slog.String("error", err.Error()))
		}
	}()
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return data, nil
	}
}
