package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// errConn fails every write, simulating a peer that has gone away.
type errConn struct {
	fakeConn
}

func (e *errConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	return errors.New("connection reset")
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWritePump_DrainsQueuedPayloads(t *testing.T) {
	conn := newFakeConn()
	c := NewClient(context.Background(), conn, "10.0.0.1", testClientConfig())
	defer c.cancel()

	go c.WritePump()

	if !c.enqueue([]byte("one")) || !c.enqueue([]byte("two")) {
		t.Fatal("enqueue failed on live client")
	}

	waitFor(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.writes) == 2
	}, "write pump did not drain queued payloads")

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if string(conn.writes[0]) != "one" || string(conn.writes[1]) != "two" {
		t.Errorf("payloads written out of order: %q, %q", conn.writes[0], conn.writes[1])
	}
}

func TestWritePump_ExitsOnCancel(t *testing.T) {
	conn := newFakeConn()
	c := NewClient(context.Background(), conn, "10.0.0.1", testClientConfig())

	done := make(chan struct{})
	go func() {
		c.WritePump()
		close(done)
	}()

	c.cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write pump did not exit after cancel")
	}
}

func TestWritePump_CancelsClientOnWriteFailure(t *testing.T) {
	conn := &errConn{}
	conn.reads = make(chan []byte)
	c := NewClient(context.Background(), conn, "10.0.0.1", testClientConfig())

	done := make(chan struct{})
	go func() {
		c.WritePump()
		close(done)
	}()

	if !c.enqueue([]byte("doomed")) {
		t.Fatal("enqueue failed on live client")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write pump did not exit after write failure")
	}
	select {
	case <-c.ctx.Done():
	default:
		t.Error("client not cancelled after write failure")
	}
}

func TestEnqueue_FailsAfterCancel(t *testing.T) {
	c := NewClient(context.Background(), newFakeConn(), "10.0.0.1", testClientConfig())
	c.cancel()

	// The buffer has free slots, so a racy cancellation check would accept
	// some of these. Every attempt must refuse.
	for i := 0; i < 500; i++ {
		if c.enqueue([]byte("late")) {
			t.Fatalf("enqueue %d succeeded on cancelled client", i)
		}
	}
	if len(c.send) != 0 {
		t.Errorf("cancelled client buffered %d payloads", len(c.send))
	}
}
