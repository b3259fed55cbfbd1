// Package client is the session facade used by a single browser tab or
// bot process: it owns one websocket connection, exposes a
// subscribe/unsubscribe surface for named server events, and correlates
// send acknowledgments. It does not queue outbound events across a
// disconnect; an in-flight send during a drop surfaces an error and
// must be resubmitted by the caller.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"studybuddy/internal/models"

	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("connection closed")

// Handler receives the raw payload of a subscribed server event.
type Handler func(payload json.RawMessage)

type Options struct {
	// OnConnect fires once the websocket is established, before any
	// event is dispatched.
	OnConnect func()
	// OnDisconnect fires when the connection drops or is closed, with
	// the read error that ended it (nil on a clean Close).
	OnDisconnect func(err error)
}

// serverFrame mirrors models.ServerEvent with the payload left raw so
// subscribers can decode it into their own types.
type serverFrame struct {
	Event   string          `json:"event"`
	AckID   int64           `json:"ackId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Client struct {
	conn *websocket.Conn
	opts Options

	mu       sync.Mutex
	handlers map[string]map[int]Handler
	nextSub  int
	acks     map[int64]chan models.SendAck
	nextAck  int64
	closed   bool

	writeMu sync.Mutex
	done    chan struct{}
}

// Dial opens the connection for the given user. The claimed user ID is
// passed in the handshake query, matching the server's trust boundary.
func Dial(ctx context.Context, baseURL, wsPath, userID string, opts Options) (*Client, error) {
	if userID == "" {
		return nil, errors.New("userID is required")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = wsPath
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u.String(), err)
	}

	c := &Client{
		conn:     conn,
		opts:     opts,
		handlers: make(map[string]map[int]Handler),
		acks:     make(map[int64]chan models.SendAck),
		done:     make(chan struct{}),
	}

	if c.opts.OnConnect != nil {
		c.opts.OnConnect()
	}
	go c.readLoop()
	return c, nil
}

// On subscribes a handler to a named server event and returns an
// unsubscribe function.
func (c *Client) On(event models.ServerEventType, h Handler) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handlers[string(event)] == nil {
		c.handlers[string(event)] = make(map[int]Handler)
	}
	id := c.nextSub
	c.nextSub++
	c.handlers[string(event)][id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[string(event)], id)
	}
}

// Emit sends a fire-and-forget client event.
func (c *Client) Emit(event models.ClientEventType, payload any) error {
	return c.write(event, 0, payload)
}

// Send issues a dm:send and waits for the server's acknowledgment. The
// ack resolves independently of the dm:new broadcast, so the caller can
// settle optimistic state even if broadcasts are lost.
func (c *Client) Send(ctx context.Context, p models.SendMessagePayload) (models.SendAck, error) {
	ackCh := make(chan models.SendAck, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.SendAck{}, ErrClosed
	}
	c.nextAck++
	ackID := c.nextAck
	c.acks[ackID] = ackCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.acks, ackID)
		c.mu.Unlock()
	}()

	if err := c.write(models.ClientEventSend, ackID, p); err != nil {
		return models.SendAck{}, err
	}

	select {
	case ack := <-ackCh:
		return ack, nil
	case <-c.done:
		return models.SendAck{}, ErrClosed
	case <-ctx.Done():
		return models.SendAck{}, ctx.Err()
	}
}

// MarkRead tells the server the caller has read everything the friend
// sent them.
func (c *Client) MarkRead(friendID string) error {
	return c.Emit(models.ClientEventMarkRead, models.MarkReadPayload{FriendID: friendID})
}

// BulkDelete requests deletion of the caller's own messages. Failures
// arrive as an "error" server event, not a direct reply.
func (c *Client) BulkDelete(messageIDs []string) error {
	return c.Emit(models.ClientEventBulkDelete, models.BulkDeletePayload{MessageIDs: messageIDs})
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) write(event models.ClientEventType, ackID int64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(models.ClientEvent{
		Event:   event,
		AckID:   ackID,
		Payload: data,
	})
}

func (c *Client) readLoop() {
	var readErr error
	for {
		var frame serverFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			readErr = err
			break
		}
		c.dispatch(frame)
	}

	c.mu.Lock()
	wasClean := c.closed
	c.closed = true
	// Pending Send calls are failed through c.done, not their ack
	// channels, so a lost ack and a dropped connection look the same.
	clear(c.acks)
	c.mu.Unlock()

	close(c.done)
	_ = c.conn.Close()

	if c.opts.OnDisconnect != nil {
		if wasClean {
			c.opts.OnDisconnect(nil)
		} else {
			c.opts.OnDisconnect(readErr)
		}
	}
}

func (c *Client) dispatch(frame serverFrame) {
	if frame.Event == string(models.ServerEventAck) {
		var ack models.SendAck
		if err := json.Unmarshal(frame.Payload, &ack); err != nil {
			return
		}
		c.mu.Lock()
		ch, ok := c.acks[frame.AckID]
		delete(c.acks, frame.AckID)
		c.mu.Unlock()
		if ok {
			ch <- ack
		}
		return
	}

	c.mu.Lock()
	var hs []Handler
	for _, h := range c.handlers[frame.Event] {
		hs = append(hs, h)
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(frame.Payload)
	}
}
