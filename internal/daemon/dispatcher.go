package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"reviewbus/internal/protocol"
)

// ErrNoEditor is returned for application messages while no editor is
// attached to the bus.
var ErrNoEditor = errors.New("no editor attached")

// Handler receives application messages from agent sessions and returns
// the response to route back. Implementations run concurrently; each
// call is independent.
type Handler interface {
	Handle(ctx context.Context, sess *Session, msg *protocol.Message) (*protocol.Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, sess *Session, msg *protocol.Message) (*protocol.Response, error)

func (f HandlerFunc) Handle(ctx context.Context, sess *Session, msg *protocol.Message) (*protocol.Response, error) {
	return f(ctx, sess, msg)
}

// responseWriter is the slice of a connection the dispatcher needs to
// deliver replies.
type responseWriter interface {
	WriteResponse(*protocol.Response) error
}

// Dispatcher fans application messages out to the single downstream
// handler, one goroutine per message, so a slow handler call never
// stalls the connection's read loop or other sessions.
type Dispatcher struct {
	logger *slog.Logger

	mu      sync.RWMutex
	handler Handler

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher with no handler attached.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// SetHandler swaps the downstream handler. Nil detaches it; in-flight
// calls keep the handler they started with.
func (d *Dispatcher) SetHandler(h Handler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// HasHandler reports whether a downstream handler is attached.
func (d *Dispatcher) HasHandler() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handler != nil
}

// Dispatch routes one message asynchronously. The response is written
// back on w with the message's id; a handler failure becomes an error
// response on the same id rather than tearing down the session. A
// message without an id is a notification: the handler still runs, but
// nothing is written back.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *Session, msg *protocol.Message, w responseWriter) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		resp := d.call(ctx, sess, msg)
		if msg.ID == "" {
			return
		}
		resp.ID = msg.ID
		if err := w.WriteResponse(resp); err != nil {
			d.logger.Debug("response write failed",
				slog.String("session", sess.ID),
				slog.String("id", msg.ID),
				slog.String("error", err.Error()))
		}
	}()
}

// Wait blocks until all in-flight handler calls have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) call(ctx context.Context, sess *Session, msg *protocol.Message) *protocol.Response {
	d.mu.RLock()
	h := d.handler
	d.mu.RUnlock()

	if h == nil {
		return protocol.ErrorResponse(msg.ID, ErrNoEditor.Error())
	}

	resp, err := h.Handle(ctx, sess, msg)
	if err != nil {
		return protocol.ErrorResponse(msg.ID, err.Error())
	}
	if resp == nil {
		resp = protocol.SuccessResponse(msg.ID, nil)
	}
	return resp
}
