// Package correlator matches outbound requests to their eventual
// responses and enforces per-request deadlines. Request ids are unique
// for the daemon's lifetime; each pending request completes exactly
// once, by response, timeout, or link closure, whichever fires first.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"reviewbus/internal/protocol"
)

// DefaultTimeout is the per-request deadline applied when the caller
// passes zero.
const DefaultTimeout = 5 * time.Second

var (
	// ErrTimeout is the rejection for a request whose deadline elapsed
	// before a response arrived. The underlying connection stays open.
	ErrTimeout = errors.New("request timed out")

	// ErrLinkClosed is the rejection for requests still outstanding when
	// their connection closes.
	ErrLinkClosed = errors.New("connection closed")
)

// Link is one correlated peer: a write target plus a stable id used to
// reject its pending requests when it goes away.
type Link interface {
	LinkID() string
	WriteMessage(*protocol.Message) error
}

// Correlator owns the global pending-request map.
type Correlator struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

type pendingRequest struct {
	id     string
	linkID string
	timer  *time.Timer
	ch     chan outcome // buffered; receives exactly one outcome
}

type outcome struct {
	resp *protocol.Response
	err  error
}

// New creates an empty correlator.
func New(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		logger:  logger,
		pending: make(map[string]*pendingRequest),
	}
}

// Send writes msg over link and blocks until the correlated response
// arrives, the timeout elapses, the link fails, or ctx is done. A
// missing message id is assigned here; ids must never repeat within
// the process lifetime, which uuids guarantee.
func (c *Correlator) Send(ctx context.Context, link Link, msg *protocol.Message, timeout time.Duration) (*protocol.Response, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	p := &pendingRequest{
		id:     msg.ID,
		linkID: link.LinkID(),
		ch:     make(chan outcome, 1),
	}

	c.mu.Lock()
	if _, exists := c.pending[p.id]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("request id %q already in flight", p.id)
	}
	c.pending[p.id] = p
	p.timer = time.AfterFunc(timeout, func() {
		c.complete(p.id, outcome{err: ErrTimeout})
	})
	c.mu.Unlock()

	if err := link.WriteMessage(msg); err != nil {
		c.complete(p.id, outcome{err: fmt.Errorf("write request: %w", err)})
	}

	select {
	case o := <-p.ch:
		return o.resp, o.err
	case <-ctx.Done():
		c.complete(p.id, outcome{err: ctx.Err()})
		o := <-p.ch
		return o.resp, o.err
	}
}

// Resolve completes the pending request matching resp.ID and reports
// whether the id was known. An unknown id is the caller's cue to log
// and drop: responses may legitimately arrive after a local timeout
// already fired.
func (c *Correlator) Resolve(resp *protocol.Response) bool {
	return c.complete(resp.ID, outcome{resp: resp})
}

// FailLink rejects every pending request issued over the given link.
// Other links' requests are untouched.
func (c *Correlator) FailLink(linkID string, err error) {
	if err == nil {
		err = ErrLinkClosed
	}
	c.failMatching(err, func(p *pendingRequest) bool { return p.linkID == linkID })
}

// FailAll rejects every pending request. Used at daemon shutdown so no
// caller is left hanging past process exit.
func (c *Correlator) FailAll(err error) {
	if err == nil {
		err = ErrLinkClosed
	}
	c.failMatching(err, func(*pendingRequest) bool { return true })
}

// PendingCount returns the number of outstanding requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// complete removes the pending request and delivers the outcome. The
// delete happens under the mutex, so resolution is a single transition:
// a later response or timeout for the same id finds nothing and is a
// no-op.
func (c *Correlator) complete(id string, o outcome) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	c.mu.Unlock()

	p.ch <- o
	return true
}

func (c *Correlator) failMatching(err error, match func(*pendingRequest) bool) {
	c.mu.Lock()
	var failed []*pendingRequest
	for id, p := range c.pending {
		if match(p) {
			delete(c.pending, id)
			if p.timer != nil {
				p.timer.Stop()
			}
			failed = append(failed, p)
		}
	}
	c.mu.Unlock()

	for _, p := range failed {
		p.ch <- outcome{err: err}
	}
	if len(failed) > 0 {
		c.logger.Debug("rejected pending requests", slog.Int("count", len(failed)), slog.String("reason", err.Error()))
	}
}
