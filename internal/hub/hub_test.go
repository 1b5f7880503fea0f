package hub

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"boardline/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []domain.Event
	in     chan domain.Event
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan domain.Event, 8), closed: make(chan struct{})}
}

func (c *fakeConn) Send(ev domain.Event) error {
	select {
	case <-c.closed:
		return errors.New("send on closed conn")
	default:
	}
	c.mu.Lock()
	c.sent = append(c.sent, ev)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Recv() (domain.Event, error) {
	select {
	case ev := <-c.in:
		return ev, nil
	case <-c.closed:
		return domain.Event{}, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeTransport struct {
	mu      sync.Mutex
	dials   int32
	failing int32
	conns   []*fakeConn
}

func (t *fakeTransport) setFailing(v bool) {
	if v {
		atomic.StoreInt32(&t.failing, 1)
	} else {
		atomic.StoreInt32(&t.failing, 0)
	}
}

func (t *fakeTransport) Dial(context.Context) (Conn, error) {
	atomic.AddInt32(&t.dials, 1)
	if atomic.LoadInt32(&t.failing) != 0 {
		return nil, errors.New("dial refused")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	c := newFakeConn()
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) dialCount() int { return int(atomic.LoadInt32(&t.dials)) }

func (t *fakeTransport) lastConn() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func taskEvent(projectID, taskID string) domain.Event {
	return domain.Event{
		Kind:      domain.TaskMoved,
		SubjectID: taskID,
		ProjectID: projectID,
		Actor:     "tester",
		TS:        "2024-01-01T00:00:00Z",
		Payload:   domain.NewTaskMoved(domain.TaskMovePayload{Status: "doing", TaskOrder: 3}),
	}
}

func TestPublishWhileConnectedDeliversOnce(t *testing.T) {
	tr := &fakeTransport{}
	h := New(tr, Options{ReconnectDelay: 10 * time.Millisecond})
	defer h.UnsubscribeAll()

	var got []domain.Event
	var mu sync.Mutex
	h.Subscribe("tasks:p1", func(ev domain.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	waitFor(t, "connect", func() bool { return h.State() == Connected })

	h.Publish(taskEvent("p1", "t1"))
	waitFor(t, "delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if got[0].SubjectID != "t1" {
		t.Fatalf("unexpected event %+v", got[0])
	}
	if tr.lastConn().sentCount() != 1 {
		t.Fatalf("expected one outbound send, got %d", tr.lastConn().sentCount())
	}
}

func TestPublishWhileDisconnectedDropsForGood(t *testing.T) {
	tr := &fakeTransport{}
	tr.setFailing(true)
	h := New(tr, Options{ReconnectDelay: 10 * time.Millisecond})
	defer h.UnsubscribeAll()

	var count int32
	h.Subscribe("tasks:p1", func(domain.Event) { atomic.AddInt32(&count, 1) })
	waitFor(t, "first dial failure", func() bool { return tr.dialCount() >= 1 })

	// Dropped: no connection and no queue.
	h.Publish(taskEvent("p1", "lost"))

	tr.setFailing(false)
	waitFor(t, "reconnect", func() bool { return h.State() == Connected })
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&count); n != 0 {
		t.Fatalf("dropped event was delivered %d times after reconnect", n)
	}

	// New publishes flow again.
	h.Publish(taskEvent("p1", "t2"))
	waitFor(t, "post-reconnect delivery", func() bool { return atomic.LoadInt32(&count) == 1 })
}

func TestMultipleCallbacksPerTopic(t *testing.T) {
	tr := &fakeTransport{}
	h := New(tr, Options{ReconnectDelay: 10 * time.Millisecond})
	defer h.UnsubscribeAll()

	var a, b int32
	h.Subscribe("projects", func(domain.Event) { atomic.AddInt32(&a, 1) })
	h.Subscribe("projects", func(domain.Event) { atomic.AddInt32(&b, 1) })
	h.Subscribe("tasks:other", func(domain.Event) { t.Error("wrong topic delivered") })
	waitFor(t, "connect", func() bool { return h.State() == Connected })

	h.Publish(domain.Event{Kind: domain.ProjectCreated, SubjectID: "p1", Actor: "tester", TS: "2024-01-01T00:00:00Z"})
	waitFor(t, "both callbacks", func() bool {
		return atomic.LoadInt32(&a) == 1 && atomic.LoadInt32(&b) == 1
	})
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	h := New(tr, Options{ReconnectDelay: 10 * time.Millisecond})
	defer h.UnsubscribeAll()

	var a, b int32
	unsubA := h.Subscribe("projects", func(domain.Event) { atomic.AddInt32(&a, 1) })
	h.Subscribe("projects", func(domain.Event) { atomic.AddInt32(&b, 1) })
	waitFor(t, "connect", func() bool { return h.State() == Connected })

	unsubA()
	unsubA() // second call is a no-op, must not disturb the other callback

	h.Publish(domain.Event{Kind: domain.ProjectUpdated, SubjectID: "p1", Actor: "tester", TS: "2024-01-01T00:00:00Z"})
	waitFor(t, "remaining callback", func() bool { return atomic.LoadInt32(&b) == 1 })
	if atomic.LoadInt32(&a) != 0 {
		t.Fatalf("unsubscribed callback still invoked")
	}
}

func TestIncomingFramesFanOut(t *testing.T) {
	tr := &fakeTransport{}
	h := New(tr, Options{ReconnectDelay: 10 * time.Millisecond})
	defer h.UnsubscribeAll()

	var got int32
	h.Subscribe("tasks:p9", func(ev domain.Event) {
		if ev.SubjectID == "remote" {
			atomic.AddInt32(&got, 1)
		}
	})
	waitFor(t, "connect", func() bool { return h.State() == Connected })

	tr.lastConn().in <- taskEvent("p9", "remote")
	waitFor(t, "remote delivery", func() bool { return atomic.LoadInt32(&got) == 1 })
}

func TestReconnectAfterDrop(t *testing.T) {
	tr := &fakeTransport{}
	h := New(tr, Options{ReconnectDelay: 10 * time.Millisecond})
	defer h.UnsubscribeAll()

	h.Subscribe("projects", func(domain.Event) {})
	waitFor(t, "connect", func() bool { return h.State() == Connected })

	tr.lastConn().Close()
	waitFor(t, "reconnect", func() bool { return tr.dialCount() == 2 && h.State() == Connected })
}

func TestUnsubscribeAllStopsReconnect(t *testing.T) {
	tr := &fakeTransport{}
	h := New(tr, Options{ReconnectDelay: 10 * time.Millisecond})

	h.Subscribe("projects", func(domain.Event) { t.Error("delivered after teardown") })
	waitFor(t, "connect", func() bool { return h.State() == Connected })
	conn := tr.lastConn()

	h.UnsubscribeAll()
	select {
	case <-conn.closed:
	case <-time.After(time.Second):
		t.Fatalf("transport not closed on teardown")
	}
	dials := tr.dialCount()
	time.Sleep(60 * time.Millisecond)
	if tr.dialCount() != dials {
		t.Fatalf("reconnect fired after UnsubscribeAll")
	}
	if h.State() != Disconnected {
		t.Fatalf("expected disconnected state, got %v", h.State())
	}
}

func TestEndpointURL(t *testing.T) {
	cases := []struct {
		origin, want string
	}{
		{"http://localhost:8181", "ws://localhost:8181/v0/sync"},
		{"https://board.example.com", "wss://board.example.com/v0/sync"},
	}
	for _, c := range cases {
		got, err := EndpointURL(c.origin, "/v0/sync")
		if err != nil {
			t.Fatalf("endpoint %s: %v", c.origin, err)
		}
		if got != c.want {
			t.Fatalf("endpoint %s: got %s want %s", c.origin, got, c.want)
		}
	}
	if _, err := EndpointURL("ftp://nope", "/v0/sync"); err == nil {
		t.Fatalf("expected error for non-http origin")
	}
}
