package storage

import (
	"encoding"
	"encoding/binary"
	"time"

	"studybuddy/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID       string `msgpack:"id"`
	Username string `msgpack:"username"`
	Avatar   string `msgpack:"avatar"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBMedia struct {
	URL  string `msgpack:"url"`
	Type string `msgpack:"type"`
	Name string `msgpack:"name"`
	Size int64  `msgpack:"size"`
}

type DBMessage struct {
	ID         string   `msgpack:"id"`
	Seq        uint64   `msgpack:"seq"`
	Conv       string   `msgpack:"conv"`
	SenderID   string   `msgpack:"senderId"`
	ReceiverID string   `msgpack:"receiverId"`
	Content    string   `msgpack:"content"`
	Media      *DBMedia `msgpack:"media,omitempty"`
	Unread     bool     `msgpack:"unread"`
	CreatedAt  int64    `msgpack:"createdAt"` // Unix milliseconds
}

// Key orders messages within their conversation bucket by insertion
// sequence, which is also creation order.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Seq)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBMessageRef maps a message ID to its location (conversation bucket
// and sequence key) so that by-ID operations don't scan conversations.
type DBMessageRef struct {
	ID   string `msgpack:"id"`
	Conv string `msgpack:"conv"`
	Seq  uint64 `msgpack:"seq"`
}

func (r *DBMessageRef) Key() []byte {
	return []byte(r.ID)
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBPushSubscription struct {
	UserID   string `msgpack:"userId"`
	Endpoint string `msgpack:"endpoint"`
	P256dh   string `msgpack:"p256dh"`
	Auth     string `msgpack:"auth"`
}

func (s *DBPushSubscription) Key() []byte {
	return []byte(s.Endpoint)
}

func (s *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}

func (m *DBMessage) toModel() models.Message {
	msg := models.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Unread:     m.Unread,
		CreatedAt:  time.UnixMilli(m.CreatedAt).UTC(),
	}
	if m.Media != nil {
		msg.Media = &models.Media{
			URL:  m.Media.URL,
			Type: models.MediaType(m.Media.Type),
			Name: m.Media.Name,
			Size: m.Media.Size,
		}
	}
	return msg
}

func messageToRow(msg models.Message, conv string, seq uint64) DBMessage {
	row := DBMessage{
		ID:         msg.ID,
		Seq:        seq,
		Conv:       conv,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		Unread:     msg.Unread,
		CreatedAt:  msg.CreatedAt.UnixMilli(),
	}
	if msg.Media != nil {
		row.Media = &DBMedia{
			URL:  msg.Media.URL,
			Type: string(msg.Media.Type),
			Name: msg.Media.Name,
			Size: msg.Media.Size,
		}
	}
	return row
}
