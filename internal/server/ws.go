package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"boardline/internal/domain"
)

const (
	peerSendBuffer = 32
	peerWriteWait  = 10 * time.Second
	peerPingPeriod = 60 * time.Second
)

// Relay is the server side of the sync endpoint. It implements the engine's
// Notifier: committed mutations fan out to every connected peer, and frames a
// peer sends in are rebroadcast to the others. There is no outbound queue
// beyond each peer's send buffer; a peer that cannot keep up loses frames.
type Relay struct {
	mu    sync.Mutex
	peers map[*peer]struct{}
	log   *slog.Logger
	upgr  websocket.Upgrader
}

type peer struct {
	wc   *websocket.Conn
	send chan domain.Event
}

func NewRelay(log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		peers: map[*peer]struct{}{},
		log:   log,
		upgr:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Publish fans one event to every connected peer. A full send buffer drops
// the frame for that peer rather than blocking the mutation.
func (rl *Relay) Publish(ev domain.Event) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for p := range rl.peers {
		select {
		case p.send <- ev:
		default:
			rl.log.Warn("sync peer send buffer full, dropping frame", "kind", ev.Kind)
		}
	}
}

// PeerCount reports the number of connected peers.
func (rl *Relay) PeerCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.peers)
}

// Handler upgrades requests to websocket peers.
func (rl *Relay) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wc, err := rl.upgr.Upgrade(w, r, nil)
		if err != nil {
			rl.log.Warn("sync upgrade failed", "err", err)
			return
		}
		p := &peer{wc: wc, send: make(chan domain.Event, peerSendBuffer)}
		rl.add(p)
		go rl.writeLoop(p)
		rl.readLoop(p)
		rl.remove(p)
	}
}

func (rl *Relay) add(p *peer) {
	rl.mu.Lock()
	rl.peers[p] = struct{}{}
	rl.mu.Unlock()
}

func (rl *Relay) remove(p *peer) {
	rl.mu.Lock()
	if _, ok := rl.peers[p]; ok {
		delete(rl.peers, p)
		close(p.send)
	}
	rl.mu.Unlock()
}

// readLoop consumes incoming frames and rebroadcasts them to the other peers.
func (rl *Relay) readLoop(p *peer) {
	for {
		var ev domain.Event
		if err := p.wc.ReadJSON(&ev); err != nil {
			return
		}
		rl.mu.Lock()
		for other := range rl.peers {
			if other == p {
				continue
			}
			select {
			case other.send <- ev:
			default:
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *Relay) writeLoop(p *peer) {
	t := time.NewTicker(peerPingPeriod)
	defer t.Stop()
	defer p.wc.Close()
	for {
		select {
		case ev, ok := <-p.send:
			if !ok {
				p.wc.SetWriteDeadline(time.Now().Add(peerWriteWait))
				p.wc.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			p.wc.SetWriteDeadline(time.Now().Add(peerWriteWait))
			if err := p.wc.WriteJSON(ev); err != nil {
				return
			}
		case <-t.C:
			p.wc.SetWriteDeadline(time.Now().Add(peerWriteWait))
			if err := p.wc.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
