// Package hub fans mutation events out to topic subscribers over a single
// shared transport connection. Delivery is at-most-once: there is no outbound
// queue, and events published while the transport is down are dropped for
// good. Consumers needing a gapless view re-read current state after a
// reconnect instead of replaying events.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"boardline/internal/domain"
)

// State of the shared transport connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Transport dials the broadcast endpoint. Implementations must be safe to
// dial repeatedly; the hub owns at most one live Conn at a time.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one live transport connection. Recv blocks until a frame arrives
// or the connection dies.
type Conn interface {
	Send(domain.Event) error
	Recv() (domain.Event, error)
	Close() error
}

// Callback receives events for a subscribed topic.
type Callback func(domain.Event)

type subscription struct {
	topic   string
	fn      Callback
	removed bool
}

const defaultReconnectDelay = 2 * time.Second

type Options struct {
	// ReconnectDelay is the fixed pause between a drop and the next connect
	// attempt. Zero means the default.
	ReconnectDelay time.Duration
	Log            *slog.Logger
}

// Hub owns the transport connection and the per-topic subscriber registry.
// One instance per process/session, passed by reference to consumers; there
// is no package-global connection handle.
type Hub struct {
	mu        sync.Mutex
	transport Transport
	delay     time.Duration
	log       *slog.Logger

	state State
	conn  Conn
	gen   int
	subs  map[string][]*subscription
	// reconnect is the single outstanding timer; scheduling a new one always
	// stops its predecessor, and a connect attempt cancels it outright.
	reconnect *time.Timer
}

func New(t Transport, opts Options) *Hub {
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		transport: t,
		delay:     delay,
		log:       log,
		state:     Disconnected,
		subs:      map[string][]*subscription{},
	}
}

// State reports the current connection state.
func (h *Hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Subscribe registers fn for a topic and starts the connection on first use.
// The returned function removes exactly this registration and is a no-op
// when called again.
func (h *Hub) Subscribe(topic string, fn Callback) func() {
	sub := &subscription{topic: topic, fn: fn}
	h.mu.Lock()
	h.subs[topic] = append(h.subs[topic], sub)
	if h.state == Disconnected {
		h.startConnectLocked()
	}
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub.removed {
			return
		}
		sub.removed = true
		list := h.subs[sub.topic]
		for i, s := range list {
			if s == sub {
				h.subs[sub.topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(h.subs[sub.topic]) == 0 {
			delete(h.subs, sub.topic)
		}
	}
}

// Start opens the connection without waiting for a subscriber.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Disconnected {
		h.startConnectLocked()
	}
}

// Publish delivers one event: a single send attempt on the transport plus one
// dispatch per subscriber on the matching topic, in registration order. While
// the connection is not up the event is silently dropped; it is never queued
// or redelivered. Publish never returns an error to the mutating caller.
func (h *Hub) Publish(ev domain.Event) {
	h.mu.Lock()
	if h.state != Connected || h.conn == nil {
		h.mu.Unlock()
		return
	}
	conn := h.conn
	gen := h.gen
	callbacks := h.callbacksLocked(ev.Topic())
	h.mu.Unlock()

	if err := conn.Send(ev); err != nil {
		h.log.Warn("broadcast send failed", "kind", ev.Kind, "err", err)
		h.dropConn(gen)
		return
	}
	for _, fn := range callbacks {
		fn(ev)
	}
}

// UnsubscribeAll clears the registry and forcibly closes the transport. Safe
// to call from any goroutine, including page/process teardown.
func (h *Hub) UnsubscribeAll() {
	h.mu.Lock()
	for _, list := range h.subs {
		for _, s := range list {
			s.removed = true
		}
	}
	h.subs = map[string][]*subscription{}
	h.cancelReconnectLocked()
	conn := h.conn
	h.conn = nil
	h.gen++
	h.state = Disconnected
	h.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// startConnectLocked moves to Connecting and dials in the background. Any
// pending reconnect timer is canceled so only one attempt is ever in flight.
func (h *Hub) startConnectLocked() {
	h.cancelReconnectLocked()
	h.state = Connecting
	go h.dial()
}

func (h *Hub) dial() {
	conn, err := h.transport.Dial(context.Background())

	h.mu.Lock()
	if h.state != Connecting {
		// Torn down while dialing.
		h.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		h.state = Disconnected
		h.log.Warn("broadcast connect failed", "err", err)
		h.scheduleReconnectLocked()
		h.mu.Unlock()
		return
	}
	h.conn = conn
	h.gen++
	gen := h.gen
	h.state = Connected
	h.mu.Unlock()

	h.log.Debug("broadcast connected")
	go h.readLoop(conn, gen)
}

func (h *Hub) readLoop(conn Conn, gen int) {
	for {
		ev, err := conn.Recv()
		if err != nil {
			h.dropConn(gen)
			return
		}
		h.mu.Lock()
		callbacks := h.callbacksLocked(ev.Topic())
		h.mu.Unlock()
		for _, fn := range callbacks {
			fn(ev)
		}
	}
}

// dropConn tears down the connection of generation gen and schedules a
// reconnect. Stale generations are ignored so a late reader from a replaced
// connection cannot double-fire the timer.
func (h *Hub) dropConn(gen int) {
	h.mu.Lock()
	if gen != h.gen || h.state != Connected {
		h.mu.Unlock()
		return
	}
	conn := h.conn
	h.conn = nil
	h.state = Disconnected
	h.scheduleReconnectLocked()
	h.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// scheduleReconnectLocked arms the reconnect timer, replacing any pending
// one. Reconnects run only while at least one subscription remains.
func (h *Hub) scheduleReconnectLocked() {
	h.cancelReconnectLocked()
	if h.subscriberCountLocked() == 0 {
		return
	}
	h.reconnect = time.AfterFunc(h.delay, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.reconnect = nil
		if h.state == Disconnected && h.subscriberCountLocked() > 0 {
			h.startConnectLocked()
		}
	})
}

func (h *Hub) cancelReconnectLocked() {
	if h.reconnect != nil {
		h.reconnect.Stop()
		h.reconnect = nil
	}
}

func (h *Hub) subscriberCountLocked() int {
	n := 0
	for _, list := range h.subs {
		n += len(list)
	}
	return n
}

// callbacksLocked snapshots the topic's callbacks so they run without the
// hub lock held.
func (h *Hub) callbacksLocked(topic string) []Callback {
	list := h.subs[topic]
	if len(list) == 0 {
		return nil
	}
	out := make([]Callback, len(list))
	for i, s := range list {
		out[i] = s.fn
	}
	return out
}
