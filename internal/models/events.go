package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names on the wire. Client and server events form two closed
// sets; anything outside them is rejected at the connection boundary.
type ClientEventType string

const (
	ClientEventSend        ClientEventType = "dm:send"
	ClientEventMarkRead    ClientEventType = "markRead"
	ClientEventBulkDelete  ClientEventType = "dm:bulk-delete"
	ClientEventUnreadRelay ClientEventType = "unreadUpdate"
)

type ServerEventType string

const (
	ServerEventOnlineSet   ServerEventType = "users:online-set"
	ServerEventNewMessage  ServerEventType = "dm:new"
	ServerEventUnread      ServerEventType = "unreadUpdate"
	ServerEventBulkDeleted ServerEventType = "dm:bulk-deleted"
	ServerEventError       ServerEventType = "error"
	ServerEventAck         ServerEventType = "ack"
)

// ClientEvent is the envelope for client-to-server frames. AckID is set
// by the client when it expects a direct acknowledgment (dm:send).
type ClientEvent struct {
	Event   ClientEventType `json:"event"`
	AckID   int64           `json:"ackId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerEvent is the envelope for server-to-client frames.
type ServerEvent struct {
	Event   ServerEventType `json:"event"`
	AckID   int64           `json:"ackId,omitempty"`
	Payload any             `json:"payload,omitempty"`
}

type SendMessagePayload struct {
	ToUserID string `json:"toUserId"`
	Content  string `json:"content,omitempty"`
	Media    *Media `json:"media,omitempty"`
}

type MarkReadPayload struct {
	FriendID string `json:"friendId"`
}

type BulkDeletePayload struct {
	MessageIDs []string `json:"messageIds"`
}

type UnreadUpdatePayload struct {
	FriendID string `json:"friendId"`
	Count    int    `json:"count"`
}

type SendAck struct {
	OK      bool     `json:"ok"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type ProtocolError struct {
	Message string `json:"message"`
}

// DecodePayload unmarshals the event payload into the typed payload
// struct matching the event name. Unknown events are rejected here so
// handlers only ever see members of the closed set.
func (e *ClientEvent) DecodePayload() (any, error) {
	var dst any
	switch e.Event {
	case ClientEventSend:
		dst = &SendMessagePayload{}
	case ClientEventMarkRead:
		dst = &MarkReadPayload{}
	case ClientEventBulkDelete:
		dst = &BulkDeletePayload{}
	case ClientEventUnreadRelay:
		dst = &UnreadUpdatePayload{}
	default:
		return nil, fmt.Errorf("unknown event %q", e.Event)
	}
	if len(e.Payload) == 0 {
		return nil, errors.New("missing payload")
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return nil, fmt.Errorf("malformed %s payload: %w", e.Event, err)
	}
	return dst, nil
}

func OnlineSetEvent(online []string) ServerEvent {
	return ServerEvent{Event: ServerEventOnlineSet, Payload: online}
}

func NewMessageEvent(msg Message) ServerEvent {
	return ServerEvent{Event: ServerEventNewMessage, Payload: msg}
}

func UnreadEvent(friendID string, count int) ServerEvent {
	return ServerEvent{
		Event:   ServerEventUnread,
		Payload: UnreadUpdatePayload{FriendID: friendID, Count: count},
	}
}

func BulkDeletedEvent(ids []string) ServerEvent {
	return ServerEvent{Event: ServerEventBulkDeleted, Payload: ids}
}

func ErrorEvent(message string) ServerEvent {
	return ServerEvent{Event: ServerEventError, Payload: ProtocolError{Message: message}}
}

func AckEvent(ackID int64, ack SendAck) ServerEvent {
	return ServerEvent{Event: ServerEventAck, AckID: ackID, Payload: ack}
}
