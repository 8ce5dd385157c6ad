package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"reviewbus/internal/protocol"
)

// fakeLink records written messages so tests can resolve them.
type fakeLink struct {
	id string

	mu       sync.Mutex
	written  []*protocol.Message
	writeErr error
}

func (l *fakeLink) LinkID() string { return l.id }

func (l *fakeLink) WriteMessage(msg *protocol.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.written = append(l.written, msg)
	return nil
}

func (l *fakeLink) lastID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.written) == 0 {
		return ""
	}
	return l.written[len(l.written)-1].ID
}

func TestSend_ResolvesBeforeDeadline(t *testing.T) {
	c := New(nil)
	link := &fakeLink{id: "conn-1"}

	done := make(chan struct{})
	var resp *protocol.Response
	var err error
	go func() {
		defer close(done)
		resp, err = c.Send(context.Background(), link, &protocol.Message{Type: "get-selection"}, time.Second)
	}()

	id := waitForWrite(t, link)
	time.Sleep(100 * time.Millisecond)
	if !c.Resolve(&protocol.Response{ID: id, Success: true, Data: json.RawMessage(`"hello"`)}) {
		t.Fatal("Resolve() = false, want true for in-flight id")
	}

	<-done
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !resp.Success || string(resp.Data) != `"hello"` {
		t.Errorf("Send() resp = %+v, want success with data", resp)
	}
	if n := c.PendingCount(); n != 0 {
		t.Errorf("PendingCount() = %d, want 0", n)
	}
}

func TestSend_TimeoutLeavesCorrelatorUsable(t *testing.T) {
	c := New(nil)
	link := &fakeLink{id: "conn-1"}

	_, err := c.Send(context.Background(), link, &protocol.Message{Type: "get-selection"}, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Send() error = %v, want ErrTimeout", err)
	}

	// A late response for the timed-out id is dropped, not delivered.
	if c.Resolve(&protocol.Response{ID: link.lastID(), Success: true}) {
		t.Error("Resolve() = true for already-timed-out id, want false")
	}

	// The same link carries the next request to completion.
	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), link, &protocol.Message{Type: "get-selection"}, time.Second)
		done <- err
	}()
	id := waitForWrite2(t, link, 2)
	c.Resolve(&protocol.Response{ID: id, Success: true})
	if err := <-done; err != nil {
		t.Fatalf("second Send() error = %v", err)
	}
}

func TestFailLink_RejectsPendingImmediately(t *testing.T) {
	c := New(nil)
	link := &fakeLink{id: "conn-1"}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Send(context.Background(), link, &protocol.Message{Type: "get-selection"}, time.Hour)
			errs <- err
		}()
	}
	waitForPending(t, c, 2)

	start := time.Now()
	c.FailLink("conn-1", nil)
	for i := 0; i < 2; i++ {
		if err := <-errs; !errors.Is(err, ErrLinkClosed) {
			t.Fatalf("Send() error = %v, want ErrLinkClosed", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("rejection took %v, want immediate", elapsed)
	}
	if n := c.PendingCount(); n != 0 {
		t.Errorf("PendingCount() = %d, want 0", n)
	}

	// A response arriving after the rejection is not accepted.
	if c.Resolve(&protocol.Response{ID: link.lastID(), Success: true}) {
		t.Error("Resolve() = true after link failure, want false")
	}
}

func TestFailLink_SparesOtherLinks(t *testing.T) {
	c := New(nil)
	a := &fakeLink{id: "conn-a"}
	b := &fakeLink{id: "conn-b"}

	aErr := make(chan error, 1)
	bErr := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), a, &protocol.Message{Type: "get-selection"}, time.Hour)
		aErr <- err
	}()
	go func() {
		_, err := c.Send(context.Background(), b, &protocol.Message{Type: "get-selection"}, time.Hour)
		bErr <- err
	}()
	waitForPending(t, c, 2)

	c.FailLink("conn-a", nil)
	if err := <-aErr; !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("link a error = %v, want ErrLinkClosed", err)
	}
	if n := c.PendingCount(); n != 1 {
		t.Fatalf("PendingCount() = %d, want 1 surviving request", n)
	}

	c.Resolve(&protocol.Response{ID: b.lastID(), Success: true})
	if err := <-bErr; err != nil {
		t.Fatalf("link b error = %v, want nil", err)
	}
}

func TestResolve_UnknownIDDropped(t *testing.T) {
	c := New(nil)
	if c.Resolve(&protocol.Response{ID: "never-sent", Success: true}) {
		t.Error("Resolve() = true for unknown id, want false")
	}
}

func TestSend_WriteError(t *testing.T) {
	c := New(nil)
	link := &fakeLink{id: "conn-1", writeErr: errors.New("broken pipe")}

	_, err := c.Send(context.Background(), link, &protocol.Message{Type: "get-selection"}, time.Second)
	if err == nil || errors.Is(err, ErrTimeout) {
		t.Fatalf("Send() error = %v, want write failure", err)
	}
	if n := c.PendingCount(); n != 0 {
		t.Errorf("PendingCount() = %d, want 0", n)
	}
}

func TestSend_ContextCancel(t *testing.T) {
	c := New(nil)
	link := &fakeLink{id: "conn-1"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Send(ctx, link, &protocol.Message{Type: "get-selection"}, time.Hour)
		done <- err
	}()
	waitForPending(t, c, 1)

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Send() error = %v, want context.Canceled", err)
	}
	if n := c.PendingCount(); n != 0 {
		t.Errorf("PendingCount() = %d, want 0", n)
	}
}

func TestFailAll(t *testing.T) {
	c := New(nil)
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		link := &fakeLink{id: "conn"}
		go func() {
			_, err := c.Send(context.Background(), link, &protocol.Message{Type: "log"}, time.Hour)
			errs <- err
		}()
	}
	waitForPending(t, c, 3)

	c.FailAll(nil)
	for i := 0; i < 3; i++ {
		if err := <-errs; !errors.Is(err, ErrLinkClosed) {
			t.Fatalf("Send() error = %v, want ErrLinkClosed", err)
		}
	}
}

func TestSend_AssignsUniqueIDs(t *testing.T) {
	c := New(nil)
	link := &fakeLink{id: "conn-1"}

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		done := make(chan struct{})
		go func() {
			c.Send(context.Background(), link, &protocol.Message{Type: "log"}, time.Second)
			close(done)
		}()
		id := waitForWrite2(t, link, i+1)
		if id == "" || seen[id] {
			t.Fatalf("message id %q not unique", id)
		}
		seen[id] = true
		c.Resolve(&protocol.Response{ID: id, Success: true})
		<-done
	}
}

func waitForWrite(t *testing.T, link *fakeLink) string {
	t.Helper()
	return waitForWrite2(t, link, 1)
}

func waitForWrite2(t *testing.T, link *fakeLink, n int) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		link.mu.Lock()
		count := len(link.written)
		link.mu.Unlock()
		if count >= n {
			return link.lastID()
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d writes", n)
	return ""
}

func waitForPending(t *testing.T, c *Correlator, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.PendingCount() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d pending requests", n)
}
