package push

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/inbox/internal/model"
)

const writeWait = 5 * time.Second

// WebSocketDialer connects to the push endpoint of the data service.
type WebSocketDialer struct {
	// URL of the push endpoint, e.g. ws://localhost:9000/push.
	URL   string
	Token string
	Codec Codec
	// PingTimeout is how long the connection may stay silent. The server
	// pings more often than that; each ping extends the read deadline.
	PingTimeout time.Duration
}

// Dial opens a WebSocket for topic and negotiates the frame codec.
func (d *WebSocketDialer) Dial(ctx context.Context, topic model.Kind) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse push url: %w", err)
	}
	q := u.Query()
	q.Set("topic", string(topic))
	u.RawQuery = q.Encode()

	codec := d.Codec
	if codec == nil {
		codec = JSON
	}
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	dialer := *websocket.DefaultDialer
	dialer.Subprotocols = []string{codec.Subprotocol()}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket handshake: %w", err)
	}

	c := &wsConn{
		ws:          ws,
		codec:       CodecForSubprotocol(ws.Subprotocol()),
		pingTimeout: d.PingTimeout,
	}
	c.extend()
	ws.SetPingHandler(func(data string) error {
		c.extend()
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	return c, nil
}

type wsConn struct {
	ws          *websocket.Conn
	codec       Codec
	pingTimeout time.Duration
}

func (c *wsConn) extend() {
	if c.pingTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pingTimeout))
	}
}

func (c *wsConn) ReadEvent() (model.Event, error) {
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			return model.Event{}, err
		}
		c.extend()
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		evt, err := c.codec.Decode(data)
		if err != nil {
			return model.Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return evt, nil
	}
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
