package storage

import (
	"go.etcd.io/bbolt"
)

// PushSubscription is a browser push endpoint registered by one of the
// user's devices. A user may hold several (one per browser profile).
type PushSubscription struct {
	UserID   string `json:"userId"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// UpsertPushSubscription stores a subscription under the user's nested
// bucket, keyed by endpoint so re-subscribing is idempotent.
func (s *BboltStorage) UpsertPushSubscription(sub PushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket(bucketPushSubs).CreateBucketIfNotExists([]byte(sub.UserID))
		if err != nil {
			return err
		}
		row := DBPushSubscription{
			UserID:   sub.UserID,
			Endpoint: sub.Endpoint,
			P256dh:   sub.P256dh,
			Auth:     sub.Auth,
		}
		data, err := row.MarshalBinary()
		if err != nil {
			return err
		}
		return userBucket.Put(row.Key(), data)
	})
}

func (s *BboltStorage) ListPushSubscriptions(userID string) ([]PushSubscription, error) {
	var subs []PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketPushSubs).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			var row DBPushSubscription
			if err := row.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, PushSubscription{
				UserID:   row.UserID,
				Endpoint: row.Endpoint,
				P256dh:   row.P256dh,
				Auth:     row.Auth,
			})
			return nil
		})
	})
	return subs, err
}

// DeletePushSubscription drops a dead endpoint (e.g. after the push
// service answered 404/410).
func (s *BboltStorage) DeletePushSubscription(userID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketPushSubs).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.Delete([]byte(endpoint))
	})
}
