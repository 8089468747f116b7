package presence

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errFakeClosed = errors.New("fake conn closed")

// fakeConn records every event and implements the Conn ordering contract.
type fakeConn struct {
	mu     sync.Mutex
	events []Event
	reason string
	closed bool

	inbox chan Event
	done  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox: make(chan Event, 64),
		done:  make(chan struct{}),
	}
}

func (c *fakeConn) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errFakeClosed
	}
	c.events = append(c.events, ev)
	c.inbox <- ev
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.reason = reason
	close(c.done)
	return nil
}

func (c *fakeConn) Done() <-chan struct{} {
	return c.done
}

func (c *fakeConn) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// next returns the next event delivered to c and checks its name.
func (c *fakeConn) next(t *testing.T, name string) Event {
	t.Helper()
	select {
	case ev := <-c.inbox:
		require.Equal(t, name, ev.Name, "unexpected event %v", ev)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", name)
		return Event{}
	}
}

// quiet asserts that nothing else is delivered for a short while.
func (c *fakeConn) quiet(t *testing.T) {
	t.Helper()
	select {
	case ev := <-c.inbox:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func (c *fakeConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("conn was not closed")
	}
}
