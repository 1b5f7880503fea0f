package hub

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"boardline/internal/domain"
)

const writeTimeout = 10 * time.Second

// EndpointURL derives the websocket endpoint from an http(s) origin: the
// scheme switches to ws for http and wss for https, matching the caller's
// own security context.
func EndpointURL(origin, path string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("origin scheme %q is not http(s)", u.Scheme)
	}
	u.Path = path
	return u.String(), nil
}

// WSTransport dials the sync endpoint with gorilla/websocket.
type WSTransport struct {
	Origin string
	Path   string
	Dialer *websocket.Dialer
	Header http.Header
}

func (t *WSTransport) Dial(ctx context.Context) (Conn, error) {
	endpoint, err := EndpointURL(t.Origin, t.Path)
	if err != nil {
		return nil, err
	}
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	wc, _, err := dialer.DialContext(ctx, endpoint, t.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return &wsConn{wc: wc}, nil
}

type wsConn struct {
	wc *websocket.Conn
}

func (c *wsConn) Send(ev domain.Event) error {
	c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.wc.WriteJSON(ev)
}

func (c *wsConn) Recv() (domain.Event, error) {
	var ev domain.Event
	err := c.wc.ReadJSON(&ev)
	return ev, err
}

func (c *wsConn) Close() error {
	c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.wc.Close()
}
