// Package chat implements the direct-messaging protocol handlers: send,
// read receipts and bulk deletion. Handlers are stateless relative to
// each other; all shared state lives in the message store and the
// presence registry.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"studybuddy/internal/content"
	"studybuddy/internal/models"

	"github.com/google/uuid"
)

const (
	// Bulk deletion batch bounds. Requests outside them are rejected
	// before touching storage.
	MaxBulkDelete = 100

	pushTimeout = 10 * time.Second
)

type MessageStore interface {
	CreateMessage(msg models.Message) error
	CountUnread(receiverID, senderID string) (int, error)
	MarkConversationRead(receiverID, senderID string) (int, error)
	DeleteFromSender(senderID string, ids []string) ([]models.Message, error)
}

// Emitter delivers server events to user channels. ToUser reaches every
// open connection of that user; Broadcast reaches every connection.
type Emitter interface {
	ToUser(userID string, ev models.ServerEvent)
	Broadcast(ev models.ServerEvent)
}

type UserFinder interface {
	FindByID(id string) (models.User, error)
}

type PresenceView interface {
	Online(userID string) bool
}

type BlobDeleter interface {
	Delete(url string) error
}

type OfflineNotifier interface {
	NotifyNewMessage(ctx context.Context, msg models.Message)
}

type Config struct {
	Store    MessageStore
	Users    UserFinder
	Emitter  Emitter
	Presence PresenceView
	// Optional collaborators. A nil Blobs skips attachment cleanup, a
	// nil Notifier skips offline push delivery.
	Blobs    BlobDeleter
	Notifier OfflineNotifier

	now func() time.Time
}

type Coordinator struct {
	cfg Config
}

func New(cfg Config) *Coordinator {
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Coordinator{cfg: cfg}
}

// SendMessage persists a new message and fans it out: the created
// message goes to both participants' channels, the receiver gets a
// fresh unread count, and the returned ack resolves the sender's
// optimistic UI state independently of the broadcasts.
func (c *Coordinator) SendMessage(ctx context.Context, senderID string, p models.SendMessagePayload) models.SendAck {
	msg := models.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: p.ToUserID,
		Content:    p.Content,
		Media:      p.Media,
		Unread:     true,
		CreatedAt:  c.cfg.now().UTC(),
	}
	if err := msg.Validate(); err != nil {
		return models.SendAck{OK: false, Error: err.Error()}
	}

	receiver, err := c.cfg.Users.FindByID(p.ToUserID)
	if errors.Is(err, models.ErrNotFound) {
		return models.SendAck{OK: false, Error: "recipient not found"}
	}
	if err != nil {
		slog.Error("recipient lookup failed", "user_id", p.ToUserID, "error", err)
		return models.SendAck{OK: false, Error: "failed to send message"}
	}

	if err := c.cfg.Store.CreateMessage(msg); err != nil {
		slog.Error("failed to persist message", "sender_id", senderID, "error", err)
		return models.SendAck{OK: false, Error: "failed to send message"}
	}

	msg.Receiver = receiver
	msg.Sender = c.lookupOrBare(senderID)
	if msg.Content != "" {
		rendered, err := content.RenderMarkdown(msg.Content)
		if err != nil {
			slog.Error("failed to render message content", "message_id", msg.ID, "error", err)
		} else {
			msg.ContentHTML = rendered
		}
	}

	c.cfg.Emitter.ToUser(p.ToUserID, models.NewMessageEvent(msg))
	c.cfg.Emitter.ToUser(senderID, models.NewMessageEvent(msg))

	if count, err := c.cfg.Store.CountUnread(p.ToUserID, senderID); err != nil {
		slog.Error("failed to count unread", "receiver_id", p.ToUserID, "sender_id", senderID, "error", err)
	} else {
		c.cfg.Emitter.ToUser(p.ToUserID, models.UnreadEvent(senderID, count))
	}

	if c.cfg.Notifier != nil && !c.cfg.Presence.Online(p.ToUserID) {
		// Detached from the connection's context: the push outlives
		// the frame that triggered it.
		go func() {
			pushCtx, cancel := context.WithTimeout(context.Background(), pushTimeout)
			defer cancel()
			c.cfg.Notifier.NotifyNewMessage(pushCtx, msg)
		}()
	}

	return models.SendAck{OK: true, Message: &msg}
}

// MarkRead clears the unread flag on everything the friend has sent to
// the caller, resets the caller's badge for that friend, and refreshes
// the friend's badge for the caller. Calling it with nothing unread is
// a no-op that still emits count zero.
func (c *Coordinator) MarkRead(ctx context.Context, userID string, p models.MarkReadPayload) {
	modified, err := c.cfg.Store.MarkConversationRead(userID, p.FriendID)
	if err != nil {
		slog.Error("mark read failed", "user_id", userID, "friend_id", p.FriendID, "error", err)
		return
	}
	slog.Debug("marked messages read", "user_id", userID, "friend_id", p.FriendID, "count", modified)

	c.cfg.Emitter.ToUser(userID, models.UnreadEvent(p.FriendID, 0))

	reverse, err := c.cfg.Store.CountUnread(p.FriendID, userID)
	if err != nil {
		slog.Error("failed to count reverse unread", "user_id", userID, "friend_id", p.FriendID, "error", err)
		return
	}
	c.cfg.Emitter.ToUser(p.FriendID, models.UnreadEvent(userID, reverse))
}

// BulkDelete removes a batch of the caller's own messages. The batch is
// all-or-nothing: any missing or non-owned ID rejects the whole request.
// On success the deleted IDs are broadcast to every connected client.
// A non-nil return is an error event for the originating connection.
func (c *Coordinator) BulkDelete(ctx context.Context, userID string, p models.BulkDeletePayload) *models.ServerEvent {
	if len(p.MessageIDs) == 0 {
		ev := models.ErrorEvent("No messages selected")
		return &ev
	}
	if len(p.MessageIDs) > MaxBulkDelete {
		ev := models.ErrorEvent("Too many messages selected (max 100)")
		return &ev
	}

	deleted, err := c.cfg.Store.DeleteFromSender(userID, p.MessageIDs)
	if errors.Is(err, models.ErrNotOwned) {
		ev := models.ErrorEvent("Can only delete your own messages")
		return &ev
	}
	if err != nil {
		slog.Error("bulk delete failed", "user_id", userID, "error", err)
		ev := models.ErrorEvent("Failed to delete messages")
		return &ev
	}

	// Attachment cleanup is best-effort: a dangling blob is preferable
	// to resurrecting a deleted message.
	if c.cfg.Blobs != nil {
		for _, msg := range deleted {
			if msg.Media == nil || msg.Media.URL == "" {
				continue
			}
			if err := c.cfg.Blobs.Delete(msg.Media.URL); err != nil {
				slog.Error("failed to delete attachment blob", "message_id", msg.ID, "url", msg.Media.URL, "error", err)
			}
		}
	}

	slog.Info("bulk deleted messages", "user_id", userID, "count", len(deleted))
	c.cfg.Emitter.Broadcast(models.BulkDeletedEvent(p.MessageIDs))
	return nil
}

// RelayUnread re-emits a client-computed unread count to the caller's
// own channel so their other tabs converge on the same badge state.
func (c *Coordinator) RelayUnread(userID string, p models.UnreadUpdatePayload) {
	c.cfg.Emitter.ToUser(userID, models.UnreadEvent(p.FriendID, p.Count))
}

func (c *Coordinator) lookupOrBare(userID string) models.User {
	user, err := c.cfg.Users.FindByID(userID)
	if err != nil {
		return models.User{ID: userID}
	}
	return user
}
