package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"studybuddy/internal/models"
)

type mockWS struct {
	readCh      chan models.ClientEvent
	writeCh     chan any
	closeCh     chan struct{}
	closed      bool
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan models.ClientEvent, 10),
		writeCh: make(chan any, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closeCh)
	return nil
}

func (m *mockWS) WriteJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.writeCh <- v
	return nil
}

func (m *mockWS) ReadJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case ev, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*models.ClientEvent); ok {
			*ptr = ev
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

func (m *mockWS) awaitWrite(t *testing.T) any {
	t.Helper()
	select {
	case v := <-m.writeCh:
		return v
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for websocket write")
		return nil
	}
}

type mockHub struct {
	joinCh    chan string
	leaveCh   chan string
	userChans map[string]chan models.ServerEvent
}

func newMockHub() *mockHub {
	return &mockHub{
		joinCh:    make(chan string, 10),
		leaveCh:   make(chan string, 10),
		userChans: make(map[string]chan models.ServerEvent),
	}
}

func (m *mockHub) Join(userID string) chan models.ServerEvent {
	m.joinCh <- userID
	ch := make(chan models.ServerEvent, 10)
	m.userChans[userID] = ch
	return ch
}

func (m *mockHub) Leave(userID string, ch chan models.ServerEvent) {
	m.leaveCh <- userID
	if own, ok := m.userChans[userID]; ok && own == ch {
		close(own)
		delete(m.userChans, userID)
	}
}

type mockDispatcher struct {
	sends   chan models.SendMessagePayload
	reads   chan models.MarkReadPayload
	deletes chan models.BulkDeletePayload
	relays  chan models.UnreadUpdatePayload

	sendAck   models.SendAck
	deleteErr *models.ServerEvent
}

func newMockDispatcher() *mockDispatcher {
	return &mockDispatcher{
		sends:   make(chan models.SendMessagePayload, 10),
		reads:   make(chan models.MarkReadPayload, 10),
		deletes: make(chan models.BulkDeletePayload, 10),
		relays:  make(chan models.UnreadUpdatePayload, 10),
		sendAck: models.SendAck{OK: true},
	}
}

func (m *mockDispatcher) SendMessage(ctx context.Context, senderID string, p models.SendMessagePayload) models.SendAck {
	m.sends <- p
	return m.sendAck
}

func (m *mockDispatcher) MarkRead(ctx context.Context, userID string, p models.MarkReadPayload) {
	m.reads <- p
}

func (m *mockDispatcher) BulkDelete(ctx context.Context, userID string, p models.BulkDeletePayload) *models.ServerEvent {
	m.deletes <- p
	return m.deleteErr
}

func (m *mockDispatcher) RelayUnread(userID string, p models.UnreadUpdatePayload) {
	m.relays <- p
}

func clientEvent(t *testing.T, event models.ClientEventType, ackID int64, payload any) models.ClientEvent {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return models.ClientEvent{Event: event, AckID: ackID, Payload: raw}
}

func TestConnection_Lifecycle(t *testing.T) {
	hub := newMockHub()
	coord := newMockDispatcher()
	ws := newMockWS()
	userID := "user1"

	conn := NewConnection(hub, coord, ws, userID)

	select {
	case id := <-hub.joinCh:
		if id != userID {
			t.Errorf("expected Join with %s, got %s", userID, id)
		}
	default:
		t.Error("Join not called on NewConnection")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	// Client -> coordinator, with a direct ack back.
	ws.readCh <- clientEvent(t, models.ClientEventSend, 7, models.SendMessagePayload{
		ToUserID: "user2",
		Content:  "hello",
	})
	select {
	case p := <-coord.sends:
		if p.ToUserID != "user2" || p.Content != "hello" {
			t.Errorf("coordinator received wrong payload: %+v", p)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("coordinator did not receive the send")
	}
	written := ws.awaitWrite(t)
	ack, ok := written.(models.ServerEvent)
	if !ok {
		t.Fatalf("expected ServerEvent write, got %T", written)
	}
	if ack.Event != models.ServerEventAck || ack.AckID != 7 {
		t.Errorf("expected ack with id 7, got %+v", ack)
	}

	// Hub -> client.
	hub.userChans[userID] <- models.UnreadEvent("user2", 3)
	pushed, ok := ws.awaitWrite(t).(models.ServerEvent)
	if !ok || pushed.Event != models.ServerEventUnread {
		t.Errorf("expected unreadUpdate push, got %+v", pushed)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Handle did not return after cancel")
	}

	select {
	case id := <-hub.leaveCh:
		if id != userID {
			t.Errorf("expected Leave with %s, got %s", userID, id)
		}
	default:
		t.Error("Leave not called")
	}
	if !ws.closed {
		t.Error("WS Close not called")
	}
}

func TestConnection_Dispatch(t *testing.T) {
	hub := newMockHub()
	coord := newMockDispatcher()
	ws := newMockWS()

	conn := NewConnection(hub, coord, ws, "user1")
	<-hub.joinCh

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	ws.readCh <- clientEvent(t, models.ClientEventMarkRead, 0, models.MarkReadPayload{FriendID: "user2"})
	select {
	case p := <-coord.reads:
		if p.FriendID != "user2" {
			t.Errorf("wrong markRead payload: %+v", p)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("markRead not dispatched")
	}

	ws.readCh <- clientEvent(t, models.ClientEventUnreadRelay, 0, models.UnreadUpdatePayload{FriendID: "user2", Count: 4})
	select {
	case p := <-coord.relays:
		if p.Count != 4 {
			t.Errorf("wrong relay payload: %+v", p)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("unread relay not dispatched")
	}

	ws.readCh <- clientEvent(t, models.ClientEventBulkDelete, 0, models.BulkDeletePayload{MessageIDs: []string{"m1"}})
	select {
	case p := <-coord.deletes:
		if len(p.MessageIDs) != 1 {
			t.Errorf("wrong bulk delete payload: %+v", p)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("bulk delete not dispatched")
	}

	cancel()
	<-done
}

func TestConnection_BulkDeleteError(t *testing.T) {
	hub := newMockHub()
	coord := newMockDispatcher()
	errEv := models.ErrorEvent("Can only delete your own messages")
	coord.deleteErr = &errEv
	ws := newMockWS()

	conn := NewConnection(hub, coord, ws, "user1")
	<-hub.joinCh

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	ws.readCh <- clientEvent(t, models.ClientEventBulkDelete, 0, models.BulkDeletePayload{MessageIDs: []string{"m1"}})
	<-coord.deletes

	written, ok := ws.awaitWrite(t).(models.ServerEvent)
	if !ok || written.Event != models.ServerEventError {
		t.Errorf("expected error event back, got %+v", written)
	}

	cancel()
	<-done
}

func TestConnection_RejectsUnknownEvent(t *testing.T) {
	hub := newMockHub()
	coord := newMockDispatcher()
	ws := newMockWS()

	conn := NewConnection(hub, coord, ws, "user1")
	<-hub.joinCh

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	ws.readCh <- models.ClientEvent{Event: "rooms:join", Payload: json.RawMessage(`{}`)}

	written, ok := ws.awaitWrite(t).(models.ServerEvent)
	if !ok || written.Event != models.ServerEventError {
		t.Fatalf("expected protocol error, got %+v", written)
	}
	select {
	case p := <-coord.sends:
		t.Errorf("unknown event must not reach the coordinator: %+v", p)
	default:
	}

	cancel()
	<-done
}

func TestConnection_MalformedSendAcksError(t *testing.T) {
	hub := newMockHub()
	coord := newMockDispatcher()
	ws := newMockWS()

	conn := NewConnection(hub, coord, ws, "user1")
	<-hub.joinCh

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	// A dm:send with an ack id but unparsable payload fails through the
	// ack channel so the sender's optimistic UI can resolve.
	ws.readCh <- models.ClientEvent{
		Event:   models.ClientEventSend,
		AckID:   3,
		Payload: json.RawMessage(`{"toUserId":42}`),
	}

	written, ok := ws.awaitWrite(t).(models.ServerEvent)
	if !ok {
		t.Fatalf("expected ServerEvent, got %T", written)
	}
	if written.Event != models.ServerEventAck || written.AckID != 3 {
		t.Fatalf("expected failed ack with id 3, got %+v", written)
	}
	if ack := written.Payload.(models.SendAck); ack.OK {
		t.Error("malformed payload should produce a failed ack")
	}

	cancel()
	<-done
}

func TestConnection_WSError(t *testing.T) {
	hub := newMockHub()
	coord := newMockDispatcher()
	ws := newMockWS()

	conn := NewConnection(hub, coord, ws, "user2")
	<-hub.joinCh

	ws.errToReturn = errors.New("read error")

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error from Handle, got nil")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Handle did not return on error")
	}

	if !ws.closed {
		t.Error("WS Close not called")
	}
	select {
	case <-hub.leaveCh:
	default:
		t.Error("Leave not called")
	}
}
