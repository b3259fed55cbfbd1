// Package push delivers web-push notifications to users who are not
// currently connected. Delivery is strictly best-effort: a failed push
// never fails the operation that triggered it.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"studybuddy/internal/models"
	"studybuddy/internal/storage"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const previewLength = 120

type SubscriptionStore interface {
	UpsertPushSubscription(sub storage.PushSubscription) error
	ListPushSubscriptions(userID string) ([]storage.PushSubscription, error)
	DeletePushSubscription(userID, endpoint string) error
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact URI required by the push services,
	// usually a mailto: address.
	Subscriber string
}

type Notifier struct {
	store SubscriptionStore
	cfg   Config
}

func NewNotifier(store SubscriptionStore, cfg Config) *Notifier {
	return &Notifier{store: store, cfg: cfg}
}

// Enabled reports whether VAPID keys were configured. When disabled the
// notifier silently drops everything.
func (n *Notifier) Enabled() bool {
	return n.cfg.VAPIDPublicKey != "" && n.cfg.VAPIDPrivateKey != ""
}

func (n *Notifier) Subscribe(sub storage.PushSubscription) error {
	if sub.Endpoint == "" {
		return fmt.Errorf("subscription missing endpoint")
	}
	return n.store.UpsertPushSubscription(sub)
}

type notificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag"`
}

// NotifyNewMessage pushes a preview of the message to every endpoint the
// receiver has registered. Dead endpoints (404/410) are pruned.
func (n *Notifier) NotifyNewMessage(ctx context.Context, msg models.Message) {
	if !n.Enabled() {
		return
	}

	subs, err := n.store.ListPushSubscriptions(msg.ReceiverID)
	if err != nil {
		slog.Error("failed to list push subscriptions", "user_id", msg.ReceiverID, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(notificationPayload{
		Title: msg.Sender.Username,
		Body:  preview(msg),
		Tag:   "dm:" + msg.SenderID,
	})
	if err != nil {
		slog.Error("failed to marshal push payload", "error", err)
		return
	}

	for _, sub := range subs {
		n.send(ctx, sub, payload)
	}
}

func (n *Notifier) send(ctx context.Context, sub storage.PushSubscription, payload []byte) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      n.cfg.Subscriber,
		VAPIDPublicKey:  n.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: n.cfg.VAPIDPrivateKey,
		TTL:             60,
	})
	if err != nil {
		slog.Error("push delivery failed", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		if err := n.store.DeletePushSubscription(sub.UserID, sub.Endpoint); err != nil {
			slog.Error("failed to prune dead push subscription", "endpoint", sub.Endpoint, "error", err)
		}
	}
}

func preview(msg models.Message) string {
	if msg.Content != "" {
		if len(msg.Content) > previewLength {
			return msg.Content[:previewLength]
		}
		return msg.Content
	}
	if msg.Media != nil {
		return "Sent a " + string(msg.Media.Type)
	}
	return "New message"
}
