// Package client sends device events to a logstore server, either over the
// producer WebSocket or through the REST endpoint.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coffersTech/logstore/internal/codec"
	"github.com/coffersTech/logstore/internal/model"
	"github.com/gorilla/websocket"
)

// ErrForbidden is returned by Dial when the server refuses the peer address.
var ErrForbidden = errors.New("connection refused by server allow-list")

// Ack is the server's response to one message.
type Ack struct {
	Status      string          `json:"status"`
	PayloadType string          `json:"payloadType"`
	Payload     json.RawMessage `json:"payload"`
}

// OK reports whether the server accepted the message.
func (a Ack) OK() bool { return a.Status == "SUCCESS" }

// Record returns the record echoed back in a success ack.
func (a Ack) Record() (model.LogRecord, error) {
	var rec model.LogRecord
	if !a.OK() {
		return rec, a.Err()
	}
	err := json.Unmarshal(a.Payload, &rec)
	return rec, err
}

// Err returns the server's error message, or nil for a success ack.
func (a Ack) Err() error {
	if a.OK() {
		return nil
	}
	var msg string
	if err := json.Unmarshal(a.Payload, &msg); err != nil {
		msg = string(a.Payload)
	}
	return fmt.Errorf("server rejected message: %s", msg)
}

// Conn is a producer connection. It is safe for concurrent use; sends are
// serialized so every ack pairs with its message.
//
// A background reader keeps answering server pings while no send is in flight.
type Conn struct {
	mu   sync.Mutex
	ws   *websocket.Conn
	acks chan Ack
	done chan struct{}
	err  error // read error, valid once done is closed
}

// Dial opens a producer connection to url, e.g. ws://localhost:8080/ws.
func Dial(ctx context.Context, url string) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Conn{
		ws:   ws,
		acks: make(chan Ack, 1),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// readLoop delivers acks. Pings are answered by the default handler while it reads.
func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		var ack Ack
		if err := c.ws.ReadJSON(&ack); err != nil {
			c.err = err
			return
		}
		c.acks <- ack
	}
}

// Send encodes rec and waits for its ack.
func (c *Conn) Send(ctx context.Context, rec model.LogRecord) (Ack, error) {
	return c.SendRaw(ctx, codec.Encode(rec))
}

// SendRaw sends an already encoded message and waits for its ack. If ctx ends
// first the connection is closed, since a late ack could no longer be paired.
func (c *Conn) SendRaw(ctx context.Context, data []byte) (Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}

	deadline, _ := ctx.Deadline()
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return Ack{}, err
	}

	select {
	case ack := <-c.acks:
		return ack, nil
	case <-c.done:
		return Ack{}, c.err
	case <-ctx.Done():
		c.ws.Close()
		return Ack{}, ctx.Err()
	}
}

// Close performs the closing handshake and releases the connection.
func (c *Conn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}
