package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"studybuddy/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers        = []byte("users")
	bucketMessages     = []byte("messages")
	bucketMessageIndex = []byte("message_index")
	bucketPushSubs     = []byte("push_subscriptions")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketMessages, bucketMessageIndex, bucketPushSubs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// convKey builds the conversation bucket name for an unordered user
// pair. Both directions of a DM live in the same bucket.
func convKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}

// CreateMessage persists a new message, assigning it the next sequence
// number within its conversation and indexing it by ID.
func (s *BboltStorage) CreateMessage(msg models.Message) error {
	if msg.ID == "" {
		return errors.New("message missing ID")
	}
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return errors.New("message missing participants")
	}
	conv := convKey(msg.SenderID, msg.ReceiverID)

	return s.db.Update(func(tx *bbolt.Tx) error {
		convBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(conv))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		seq, err := convBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}

		row := messageToRow(msg, conv, seq)
		data, err := row.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := convBucket.Put(row.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		ref := DBMessageRef{ID: msg.ID, Conv: conv, Seq: seq}
		refData, err := ref.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMessageIndex).Put(ref.Key(), refData)
	})
}

// ConversationMessages returns up to limit messages between the two
// users ordered oldest-first. When beforeID is set, only messages older
// than that message are returned (cursor for history paging).
func (s *BboltStorage) ConversationMessages(userA, userB string, limit int, beforeID string) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	conv := convKey(userA, userB)

	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(conv))
		if convBucket == nil {
			return nil // no messages yet
		}

		c := convBucket.Cursor()
		k, v := c.Last()

		if beforeID != "" {
			ref, err := getRef(tx, beforeID)
			if err != nil {
				return err
			}
			if ref.Conv != conv {
				return fmt.Errorf("cursor %s not in conversation: %w", beforeID, models.ErrNotFound)
			}
			cursor := make([]byte, 8)
			binary.BigEndian.PutUint64(cursor, ref.Seq)
			// Position strictly before the cursor message.
			k, v = c.Seek(cursor)
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		}

		for ; k != nil && len(messages) < limit; k, v = c.Prev() {
			var row DBMessage
			if err := row.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, row.toModel())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Collected newest-first; callers want oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MessagesByIDs resolves messages through the ID index. Missing IDs are
// skipped; the caller compares lengths if it needs all of them.
func (s *BboltStorage) MessagesByIDs(ids []string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		for _, id := range ids {
			row, err := getMessageRow(tx, id)
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			messages = append(messages, row.toModel())
		}
		return nil
	})
	return messages, err
}

// CountUnread counts messages from senderID to receiverID that the
// receiver has not acknowledged yet.
func (s *BboltStorage) CountUnread(receiverID, senderID string) (int, error) {
	conv := convKey(receiverID, senderID)

	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(conv))
		if convBucket == nil {
			return nil
		}
		return convBucket.ForEach(func(k, v []byte) error {
			var row DBMessage
			if err := row.UnmarshalBinary(v); err != nil {
				return err
			}
			if row.Unread && row.SenderID == senderID && row.ReceiverID == receiverID {
				count++
			}
			return nil
		})
	})
	return count, err
}

// MarkConversationRead clears the unread flag on every message from
// senderID to receiverID and returns how many were modified.
func (s *BboltStorage) MarkConversationRead(receiverID, senderID string) (int, error) {
	conv := convKey(receiverID, senderID)

	modified := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(conv))
		if convBucket == nil {
			return nil
		}

		type pending struct {
			key  []byte
			data []byte
		}
		var updates []pending

		err := convBucket.ForEach(func(k, v []byte) error {
			var row DBMessage
			if err := row.UnmarshalBinary(v); err != nil {
				return err
			}
			if !row.Unread || row.SenderID != senderID || row.ReceiverID != receiverID {
				return nil
			}
			row.Unread = false
			data, err := row.MarshalBinary()
			if err != nil {
				return err
			}
			key := make([]byte, len(k))
			copy(key, k)
			updates = append(updates, pending{key: key, data: data})
			return nil
		})
		if err != nil {
			return err
		}

		for _, u := range updates {
			if err := convBucket.Put(u.key, u.data); err != nil {
				return err
			}
		}
		modified = len(updates)
		return nil
	})
	return modified, err
}

// DeleteFromSender deletes the given messages in a single transaction,
// but only if every referenced message exists and was sent by senderID.
// Any violation aborts the whole batch with ErrNotOwned. The deleted
// messages are returned so the caller can clean up attachments.
func (s *BboltStorage) DeleteFromSender(senderID string, ids []string) ([]models.Message, error) {
	var deleted []models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		type located struct {
			ref DBMessageRef
			row DBMessage
		}
		found := make([]located, 0, len(ids))

		for _, id := range ids {
			ref, err := getRef(tx, id)
			if errors.Is(err, models.ErrNotFound) {
				return models.ErrNotOwned
			}
			if err != nil {
				return err
			}
			row, err := getMessageRow(tx, id)
			if errors.Is(err, models.ErrNotFound) {
				return models.ErrNotOwned
			}
			if err != nil {
				return err
			}
			if row.SenderID != senderID {
				return models.ErrNotOwned
			}
			found = append(found, located{ref: *ref, row: row})
		}

		idx := tx.Bucket(bucketMessageIndex)
		for _, loc := range found {
			convBucket := tx.Bucket(bucketMessages).Bucket([]byte(loc.ref.Conv))
			if convBucket == nil {
				return models.ErrNotOwned
			}
			if err := convBucket.Delete(loc.row.Key()); err != nil {
				return err
			}
			if err := idx.Delete(loc.ref.Key()); err != nil {
				return err
			}
			deleted = append(deleted, loc.row.toModel())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// RecentConversations groups the user's messages by the other
// participant and returns the most recently active conversations,
// newest first. The other user carries only its ID; the caller
// decorates it through the directory.
func (s *BboltStorage) RecentConversations(userID string, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}

	var conversations []models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		msgBucket := tx.Bucket(bucketMessages)
		c := msgBucket.Cursor()
		for name, v := c.First(); name != nil; name, v = c.Next() {
			if v != nil {
				continue // not a nested conversation bucket
			}
			otherID, ok := otherParticipant(string(name), userID)
			if !ok {
				continue
			}
			convBucket := msgBucket.Bucket(name)
			_, last := convBucket.Cursor().Last()
			if last == nil {
				continue
			}
			var row DBMessage
			if err := row.UnmarshalBinary(last); err != nil {
				return err
			}
			conversations = append(conversations, models.Conversation{
				OtherUser:    models.User{ID: otherID},
				LastMessage:  row.toModel(),
				MessageCount: convBucket.Stats().KeyN,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].LastMessage.CreatedAt.After(conversations[j].LastMessage.CreatedAt)
	})
	if len(conversations) > limit {
		conversations = conversations[:limit]
	}
	return conversations, nil
}

func otherParticipant(conv, userID string) (string, bool) {
	a, b, ok := strings.Cut(conv, "|")
	if !ok {
		return "", false
	}
	switch userID {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

func getRef(tx *bbolt.Tx, id string) (*DBMessageRef, error) {
	data := tx.Bucket(bucketMessageIndex).Get([]byte(id))
	if data == nil {
		return nil, models.ErrNotFound
	}
	var ref DBMessageRef
	if err := ref.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &ref, nil
}

func getMessageRow(tx *bbolt.Tx, id string) (DBMessage, error) {
	var row DBMessage
	ref, err := getRef(tx, id)
	if err != nil {
		return row, err
	}
	convBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.Conv))
	if convBucket == nil {
		return row, models.ErrNotFound
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, ref.Seq)
	data := convBucket.Get(key)
	if data == nil {
		return row, models.ErrNotFound
	}
	if err := row.UnmarshalBinary(data); err != nil {
		return row, err
	}
	return row, nil
}

// UpsertUser stores a user record from the external user service.
func (s *BboltStorage) UpsertUser(user models.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		row := DBUser{ID: user.ID, Username: user.Username, Avatar: user.Avatar}
		data, err := row.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketUsers).Put(row.Key(), data)
	})
}

func (s *BboltStorage) GetUser(id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var row DBUser
		if err := row.UnmarshalBinary(data); err != nil {
			return err
		}
		user = models.User{ID: row.ID, Username: row.Username, Avatar: row.Avatar}
		return nil
	})
	return user, err
}

func (s *BboltStorage) ListUsers() ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var row DBUser
			if err := row.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, models.User{ID: row.ID, Username: row.Username, Avatar: row.Avatar})
			return nil
		})
	})
	return users, err
}
