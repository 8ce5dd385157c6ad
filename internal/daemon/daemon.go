// Package daemon implements the reviewbus session daemon: a unix-socket
// message bus that multiplexes ephemeral assistant sessions to a single
// editor process, tracking which terminals currently host live sessions.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"reviewbus/internal/correlator"
	"reviewbus/internal/identity"
	"reviewbus/internal/procinspect"
	"reviewbus/internal/protocol"
	"reviewbus/internal/registry"
)

// Version is the daemon version.
const Version = "0.1.0"

// Config holds daemon configuration.
type Config struct {
	// SocketPath is the unix socket to listen on. Empty means
	// DefaultSocketPath.
	SocketPath string

	// HandshakeTimeout bounds how long a connection may sit unannounced
	// before the daemon drops it.
	HandshakeTimeout time.Duration

	// RequestTimeout is the per-request deadline for editor-bound
	// requests.
	RequestTimeout time.Duration

	// MaxClients caps concurrent connections (0 = unlimited).
	MaxClients int

	// ResolverMaxHops bounds the process-ancestry walk during identity
	// resolution.
	ResolverMaxHops int

	// Handler, when set, replaces the attached editor as the downstream
	// target for application messages. Used by embedders and tests.
	Handler Handler

	// Inspector overrides the process-table source. Nil uses the
	// platform inspector.
	Inspector procinspect.Inspector

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SocketPath:       DefaultSocketPath(),
		HandshakeTimeout: 10 * time.Second,
		RequestTimeout:   correlator.DefaultTimeout,
		MaxClients:       100,
		ResolverMaxHops:  identity.DefaultMaxHops,
	}
}

// Daemon is the bus process. It owns the listening socket, the session
// registry, and the request correlator shared by all connections.
type Daemon struct {
	config Config
	logger *slog.Logger

	registry   *registry.Registry
	resolver   *identity.Resolver
	correlator *correlator.Correlator
	dispatcher *Dispatcher

	sockMgr  *SocketManager
	listener net.Listener

	conns     sync.Map // connection id -> *Connection
	connCount atomic.Int64

	// editor is the connection currently attached as the downstream
	// handler, nil when none.
	editorMu sync.Mutex
	editor   *Connection

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	started    time.Time
	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates a daemon from config.
func New(config Config) *Daemon {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	inspector := config.Inspector
	if inspector == nil {
		inspector = procinspect.New()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = correlator.DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:     config,
		logger:     logger,
		registry:   registry.New(),
		resolver:   identity.NewResolver(inspector, config.ResolverMaxHops, logger),
		correlator: correlator.New(logger),
		dispatcher: NewDispatcher(logger),
		sockMgr:    NewSocketManager(config.SocketPath),
		ctx:        ctx,
		cancel:     cancel,
	}
	if config.Handler != nil {
		d.dispatcher.SetHandler(config.Handler)
	}
	return d
}

// Start binds the socket and begins accepting connections.
func (d *Daemon) Start() error {
	d.shutdownMu.Lock()
	if d.shutdown {
		d.shutdownMu.Unlock()
		return errors.New("daemon already shut down")
	}
	d.shutdownMu.Unlock()

	listener, err := d.sockMgr.Listen()
	if err != nil {
		return fmt.Errorf("bind socket: %w", err)
	}
	d.listener = listener
	d.started = time.Now()

	d.logger.Info("daemon started", slog.String("socket", d.sockMgr.Path()))

	d.wg.Add(1)
	go d.acceptLoop()

	return nil
}

// Stop shuts the daemon down: the listener closes, every connection is
// torn down (rejecting its pending requests), and remaining goroutines
// are awaited up to ctx's deadline.
func (d *Daemon) Stop(ctx context.Context) error {
	d.shutdownMu.Lock()
	if d.shutdown {
		d.shutdownMu.Unlock()
		return nil
	}
	d.shutdown = true
	d.shutdownMu.Unlock()

	d.logger.Info("daemon stopping")
	d.cancel()

	if d.listener != nil {
		d.listener.Close()
		d.listener = nil
	}

	d.conns.Range(func(_, value any) bool {
		value.(*Connection).Close()
		return true
	})
	d.correlator.FailAll(errors.New("daemon shutting down"))

	var errs []error
	done := make(chan struct{})
	go func() {
		d.dispatcher.Wait()
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if err := d.sockMgr.Close(); err != nil {
		errs = append(errs, fmt.Errorf("socket cleanup: %w", err))
	}

	d.logger.Info("daemon stopped")
	return errors.Join(errs...)
}

// Wait blocks until the daemon stops.
func (d *Daemon) Wait() {
	<-d.ctx.Done()
	d.wg.Wait()
}

// SocketPath returns the bound socket path.
func (d *Daemon) SocketPath() string {
	return d.sockMgr.Path()
}

// ActiveTerminals returns the sorted terminal identities with at least
// one live session.
func (d *Daemon) ActiveTerminals() []string {
	return d.registry.ActiveTerminals()
}

// SessionCount returns the number of registered sessions.
func (d *Daemon) SessionCount() int {
	return d.registry.SessionCount()
}

// PendingRequests returns the number of in-flight correlated requests.
func (d *Daemon) PendingRequests() int {
	return d.correlator.PendingCount()
}

// EditorAttached reports whether an editor connection is handling
// application messages. A handler injected via Config counts too.
func (d *Daemon) EditorAttached() bool {
	return d.dispatcher.HasHandler()
}

func (d *Daemon) status() protocol.StatusData {
	return protocol.StatusData{
		ActiveTerminals: d.registry.ActiveTerminals(),
		Sessions:        d.registry.SessionCount(),
		EditorAttached:  d.dispatcher.HasHandler(),
		Version:         Version,
		UptimeSeconds:   int64(time.Since(d.started).Seconds()),
	}
}

// attachEditor makes conn the downstream handler. A newly attached
// editor displaces the previous one, which matches an editor restart.
func (d *Daemon) attachEditor(conn *Connection) {
	d.editorMu.Lock()
	prev := d.editor
	d.editor = conn
	d.editorMu.Unlock()

	d.dispatcher.SetHandler(&editorLink{
		conn:    conn,
		corr:    d.correlator,
		timeout: d.config.RequestTimeout,
	})
	if prev != nil && prev != conn {
		d.logger.Info("editor replaced", slog.String("previous", prev.id))
		prev.Close()
	} else {
		d.logger.Info("editor attached", slog.String("session", conn.id))
	}
}

// detachEditor clears the handler if conn is the attached editor.
func (d *Daemon) detachEditor(conn *Connection) {
	d.editorMu.Lock()
	if d.editor != conn {
		d.editorMu.Unlock()
		return
	}
	d.editor = nil
	d.editorMu.Unlock()

	// An injected handler survives editor churn.
	if d.config.Handler != nil {
		d.dispatcher.SetHandler(d.config.Handler)
	} else {
		d.dispatcher.SetHandler(nil)
	}
	d.logger.Info("editor detached", slog.String("session", conn.id))
}

func (d *Daemon) acceptLoop() {
	defer d.wg.Done()

	listener := d.listener
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-d.ctx.Done():
				return
			default:
				d.logger.Warn("accept error", slog.String("error", err.Error()))
				continue
			}
		}

		if d.config.MaxClients > 0 && d.connCount.Load() >= int64(d.config.MaxClients) {
			d.logger.Warn("max clients reached, rejecting connection")
			conn.Close()
			continue
		}

		id := uuid.NewString()
		clientConn := newConnection(id, conn, d)

		d.conns.Store(id, clientConn)
		d.connCount.Add(1)

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer func() {
				d.conns.Delete(id)
				d.connCount.Add(-1)
			}()

			clientConn.Handle(d.ctx)
		}()
	}
}

// editorLink forwards application messages to the attached editor over
// the correlator, reusing the inbound message id so the editor's reply
// routes straight back to the originating session.
type editorLink struct {
	conn    *Connection
	corr    *correlator.Correlator
	timeout time.Duration
}

func (l *editorLink) Handle(ctx context.Context, _ *Session, msg *protocol.Message) (*protocol.Response, error) {
	forward := &protocol.Message{Type: msg.Type, Payload: msg.Payload, ID: msg.ID}
	return l.corr.Send(ctx, l.conn, forward, l.timeout)
}
