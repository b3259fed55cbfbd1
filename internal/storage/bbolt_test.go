package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"studybuddy/internal/models"
)

func newTestStorage(t *testing.T) *BboltStorage {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "storage_test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	store, err := NewBboltStorage(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedMessage(t *testing.T, store *BboltStorage, id, sender, receiver, content string, at time.Time) models.Message {
	t.Helper()
	msg := models.Message{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		Unread:     true,
		CreatedAt:  at,
	}
	if err := store.CreateMessage(msg); err != nil {
		t.Fatalf("CreateMessage %s failed: %v", id, err)
	}
	return msg
}

func TestStorage_Messages(t *testing.T) {
	store := newTestStorage(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		seedMessage(t, store, fmt.Sprintf("m%d", i), "alice", "bob",
			fmt.Sprintf("msg %d", i), base.Add(time.Duration(i)*time.Second))
	}

	t.Run("OldestFirst", func(t *testing.T) {
		msgs, err := store.ConversationMessages("alice", "bob", 10, "")
		if err != nil {
			t.Fatalf("ConversationMessages failed: %v", err)
		}
		if len(msgs) != 5 {
			t.Fatalf("expected 5 messages, got %d", len(msgs))
		}
		for i, m := range msgs {
			if m.Content != fmt.Sprintf("msg %d", i) {
				t.Errorf("index %d: expected 'msg %d', got %q", i, i, m.Content)
			}
		}
		// Same conversation regardless of argument order.
		reversed, err := store.ConversationMessages("bob", "alice", 10, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(reversed) != 5 {
			t.Errorf("expected 5 messages via reversed pair, got %d", len(reversed))
		}
	})

	t.Run("Limit", func(t *testing.T) {
		msgs, err := store.ConversationMessages("alice", "bob", 2, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
		// The limit keeps the newest messages, still oldest-first.
		if msgs[0].Content != "msg 3" || msgs[1].Content != "msg 4" {
			t.Errorf("expected [msg 3, msg 4], got [%s, %s]", msgs[0].Content, msgs[1].Content)
		}
	})

	t.Run("BeforeCursor", func(t *testing.T) {
		msgs, err := store.ConversationMessages("alice", "bob", 10, "m2")
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages before m2, got %d", len(msgs))
		}
		if msgs[0].Content != "msg 0" || msgs[1].Content != "msg 1" {
			t.Errorf("expected [msg 0, msg 1], got [%s, %s]", msgs[0].Content, msgs[1].Content)
		}
	})

	t.Run("UnknownCursor", func(t *testing.T) {
		_, err := store.ConversationMessages("alice", "bob", 10, "nope")
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown cursor, got %v", err)
		}
	})

	t.Run("ByIDs", func(t *testing.T) {
		msgs, err := store.MessagesByIDs([]string{"m1", "missing", "m3"})
		if err != nil {
			t.Fatalf("MessagesByIDs failed: %v", err)
		}
		if len(msgs) != 2 {
			t.Fatalf("expected 2 resolved messages, got %d", len(msgs))
		}
		if msgs[0].ID != "m1" || msgs[1].ID != "m3" {
			t.Errorf("wrong messages resolved: %s, %s", msgs[0].ID, msgs[1].ID)
		}
	})

	t.Run("EmptyConversation", func(t *testing.T) {
		msgs, err := store.ConversationMessages("alice", "nobody", 10, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 0 {
			t.Errorf("expected no messages, got %d", len(msgs))
		}
	})
}

func TestStorage_Media(t *testing.T) {
	store := newTestStorage(t)

	msg := models.Message{
		ID:         "m1",
		SenderID:   "alice",
		ReceiverID: "bob",
		Media: &models.Media{
			URL:  "http://localhost:3000/api/files/abc",
			Type: models.MediaTypeImage,
			Name: "photo.png",
			Size: 1234,
		},
		Unread:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateMessage(msg); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	msgs, err := store.ConversationMessages("alice", "bob", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Media == nil {
		t.Fatal("media not round-tripped")
	}
	got := msgs[0].Media
	if got.URL != msg.Media.URL || got.Type != models.MediaTypeImage || got.Name != "photo.png" || got.Size != 1234 {
		t.Errorf("media mismatch: %+v", got)
	}
}

func TestStorage_Unread(t *testing.T) {
	store := newTestStorage(t)
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		seedMessage(t, store, fmt.Sprintf("b%d", i), "bob", "alice", "hi", base)
	}
	seedMessage(t, store, "a0", "alice", "bob", "yo", base)
	seedMessage(t, store, "c0", "carol", "alice", "unrelated", base)

	count, err := store.CountUnread("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("expected 3 unread from bob, got %d", count)
	}

	modified, err := store.MarkConversationRead("alice", "bob")
	if err != nil {
		t.Fatalf("MarkConversationRead failed: %v", err)
	}
	if modified != 3 {
		t.Errorf("expected 3 modified, got %d", modified)
	}

	count, _ = store.CountUnread("alice", "bob")
	if count != 0 {
		t.Errorf("expected 0 unread after mark read, got %d", count)
	}

	// Opposite direction in the same conversation is untouched.
	if count, _ = store.CountUnread("bob", "alice"); count != 1 {
		t.Errorf("expected bob's unread from alice to stay 1, got %d", count)
	}
	// Other conversations are untouched.
	if count, _ = store.CountUnread("alice", "carol"); count != 1 {
		t.Errorf("expected carol's unread to stay 1, got %d", count)
	}

	// Second call is a no-op.
	modified, err = store.MarkConversationRead("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if modified != 0 {
		t.Errorf("expected 0 modified on repeat, got %d", modified)
	}
}

func TestStorage_DeleteFromSender(t *testing.T) {
	store := newTestStorage(t)
	base := time.Now().UTC()

	seedMessage(t, store, "a1", "alice", "bob", "one", base)
	seedMessage(t, store, "a2", "alice", "bob", "two", base)
	seedMessage(t, store, "b1", "bob", "alice", "theirs", base)

	t.Run("NotOwned", func(t *testing.T) {
		_, err := store.DeleteFromSender("alice", []string{"a1", "b1"})
		if !errors.Is(err, models.ErrNotOwned) {
			t.Fatalf("expected ErrNotOwned, got %v", err)
		}
		// Nothing from the rejected batch was deleted.
		msgs, _ := store.ConversationMessages("alice", "bob", 10, "")
		if len(msgs) != 3 {
			t.Errorf("expected 3 messages to remain, got %d", len(msgs))
		}
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := store.DeleteFromSender("alice", []string{"a1", "ghost"})
		if !errors.Is(err, models.ErrNotOwned) {
			t.Fatalf("expected ErrNotOwned for missing id, got %v", err)
		}
	})

	t.Run("Owned", func(t *testing.T) {
		deleted, err := store.DeleteFromSender("alice", []string{"a1", "a2"})
		if err != nil {
			t.Fatalf("DeleteFromSender failed: %v", err)
		}
		if len(deleted) != 2 {
			t.Fatalf("expected 2 deleted, got %d", len(deleted))
		}

		msgs, _ := store.ConversationMessages("alice", "bob", 10, "")
		if len(msgs) != 1 || msgs[0].ID != "b1" {
			t.Errorf("expected only b1 to remain, got %v", msgs)
		}
		// The index entries are gone with the rows.
		if byID, _ := store.MessagesByIDs([]string{"a1", "a2"}); len(byID) != 0 {
			t.Errorf("deleted messages still resolvable by id: %v", byID)
		}
	})

	t.Run("DeletedIDRejectsBatch", func(t *testing.T) {
		_, err := store.DeleteFromSender("alice", []string{"a1"})
		if !errors.Is(err, models.ErrNotOwned) {
			t.Errorf("re-deleting a deleted id should reject, got %v", err)
		}
	})
}

func TestStorage_RecentConversations(t *testing.T) {
	store := newTestStorage(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seedMessage(t, store, "m1", "alice", "bob", "old", base)
	seedMessage(t, store, "m2", "bob", "alice", "newer", base.Add(time.Minute))
	seedMessage(t, store, "m3", "carol", "alice", "newest", base.Add(2*time.Minute))
	seedMessage(t, store, "m4", "bob", "carol", "not alice's", base.Add(3*time.Minute))

	convs, err := store.RecentConversations("alice", 10)
	if err != nil {
		t.Fatalf("RecentConversations failed: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].OtherUser.ID != "carol" || convs[1].OtherUser.ID != "bob" {
		t.Errorf("expected [carol, bob] newest first, got [%s, %s]",
			convs[0].OtherUser.ID, convs[1].OtherUser.ID)
	}
	if convs[0].LastMessage.Content != "newest" {
		t.Errorf("wrong last message: %q", convs[0].LastMessage.Content)
	}
	if convs[1].MessageCount != 2 {
		t.Errorf("expected 2 messages with bob, got %d", convs[1].MessageCount)
	}

	limited, err := store.RecentConversations("alice", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].OtherUser.ID != "carol" {
		t.Errorf("limit should keep the most recent conversation, got %v", limited)
	}
}

func TestStorage_Users(t *testing.T) {
	store := newTestStorage(t)

	user := models.User{ID: "u1", Username: "alice", Avatar: "http://example.com/a.png"}
	if err := store.UpsertUser(user); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	got, err := store.GetUser("u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got != user {
		t.Errorf("expected %+v, got %+v", user, got)
	}

	if _, err := store.GetUser("missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	user.Avatar = ""
	if err := store.UpsertUser(user); err != nil {
		t.Fatal(err)
	}
	users, err := store.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("upsert should not duplicate, got %d users", len(users))
	}
}

func TestStorage_PushSubscriptions(t *testing.T) {
	store := newTestStorage(t)

	sub := PushSubscription{
		UserID:   "u1",
		Endpoint: "https://push.example.com/abc",
		P256dh:   "key",
		Auth:     "auth",
	}
	if err := store.UpsertPushSubscription(sub); err != nil {
		t.Fatalf("UpsertPushSubscription failed: %v", err)
	}
	// Re-subscribing the same endpoint is idempotent.
	if err := store.UpsertPushSubscription(sub); err != nil {
		t.Fatal(err)
	}

	subs, err := store.ListPushSubscriptions("u1")
	if err != nil {
		t.Fatalf("ListPushSubscriptions failed: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(subs))
	}
	if subs[0] != sub {
		t.Errorf("expected %+v, got %+v", sub, subs[0])
	}

	if err := store.DeletePushSubscription("u1", sub.Endpoint); err != nil {
		t.Fatalf("DeletePushSubscription failed: %v", err)
	}
	subs, _ = store.ListPushSubscriptions("u1")
	if len(subs) != 0 {
		t.Errorf("expected subscription gone, got %d", len(subs))
	}

	// Deleting for an unknown user is a no-op.
	if err := store.DeletePushSubscription("ghost", "x"); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
}
