package models

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrNotOwned is returned when a bulk delete references a message
	// that is missing or does not belong to the requesting sender.
	ErrNotOwned = errors.New("message missing or not owned by sender")

	// ErrEmptyMessage is returned when a message has neither content nor media.
	ErrEmptyMessage = errors.New("message must contain content or media")
)

const (
	MaxContentLength   = 1000
	MaxMediaNameLength = 255
)

// User represents a user as seen by the messaging core. Accounts are
// owned by an external user service; only the fields needed to decorate
// messages are kept here.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type MediaType string

const (
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeDocument MediaType = "document"
	MediaTypeAudio    MediaType = "audio"
)

// Media describes an attachment stored in the blob store.
type Media struct {
	URL  string    `json:"url"`
	Type MediaType `json:"type"`
	Name string    `json:"name,omitempty"`
	Size int64     `json:"size,omitempty"`
}

func (m *Media) Validate() error {
	if m.URL == "" {
		return errors.New("media url is required")
	}
	switch m.Type {
	case MediaTypeImage, MediaTypeVideo, MediaTypeDocument, MediaTypeAudio:
	default:
		return errors.New("unknown media type")
	}
	if len(m.Name) > MaxMediaNameLength {
		return errors.New("media name too long")
	}
	return nil
}

// Message is a single direct communication unit between two users.
// Sender, receiver and creation time are immutable; the only mutations
// after creation are unread=true -> unread=false and deletion.
type Message struct {
	ID          string    `json:"_id"`
	SenderID    string    `json:"-"`
	ReceiverID  string    `json:"-"`
	Sender      User      `json:"sender"`
	Receiver    User      `json:"receiver"`
	Content     string    `json:"content,omitempty"`
	ContentHTML string    `json:"contentHtml,omitempty"`
	Media       *Media    `json:"media,omitempty"`
	Unread      bool      `json:"unread"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Validate normalizes the content and checks the content-or-media
// invariant. It mutates the message (trimming content).
func (m *Message) Validate() error {
	m.Content = strings.TrimSpace(m.Content)
	if m.Content == "" && m.Media == nil {
		return ErrEmptyMessage
	}
	if len(m.Content) > MaxContentLength {
		return errors.New("message content too long")
	}
	if m.Media != nil {
		if err := m.Media.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Conversation summarizes the most recent exchange with another user.
type Conversation struct {
	OtherUser    User    `json:"otherUser"`
	LastMessage  Message `json:"lastMessage"`
	MessageCount int     `json:"messageCount"`
}
