package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	messagesBucket   = []byte("messages")
	identitiesBucket = []byte("identities")
)

// Message is one persisted chat message. SentAt is the server receipt time.
type Message struct {
	UserID string
	Body   string
	SentAt time.Time
}

type messageEntry struct {
	UserID string `json:"userId"`
	Body   string `json:"message"`
	SentAt int64  `json:"sentAt"` // Unix nanoseconds
}

type identityEntry struct {
	UserID      string `json:"userId"`
	Origin      string `json:"ip"`
	FirstSeenAt int64  `json:"firstSeenAt"` // Unix seconds
}

// HistoryStore is a bbolt-backed store for the message log and the
// origin-to-identity registry.
type HistoryStore struct {
	db *bolt.DB
}

// NewHistoryStore creates or opens the history buckets in the given database.
func NewHistoryStore(db *bolt.DB) (*HistoryStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(messagesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(identitiesBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &HistoryStore{db: db}, nil
}

// SaveMessage appends a message to the log. Keys are the zero-padded receipt
// time in nanoseconds plus a uuid, so two messages landing in the same
// nanosecond still get distinct, chronologically sorted keys.
func (hs *HistoryStore) SaveMessage(identity, body string, sentAt time.Time) error {
	key := fmt.Sprintf("%019d:%s", sentAt.UnixNano(), uuid.NewString())
	data, err := json.Marshal(messageEntry{
		UserID: identity,
		Body:   body,
		SentAt: sentAt.UnixNano(),
	})
	if err != nil {
		return err
	}
	return hs.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(messagesBucket).Put([]byte(key), data)
	})
}

// RecentMessages returns up to limit of the newest messages in chronological
// (oldest-first) order. A non-positive limit returns an empty slice.
func (hs *HistoryStore) RecentMessages(limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []Message
	err := hs.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(messagesBucket).Cursor()
		// Walk backwards from the newest key, then reverse.
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var entry messageEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("decode message %q: %w", k, err)
			}
			out = append(out, Message{
				UserID: entry.UserID,
				Body:   entry.Body,
				SentAt: time.Unix(0, entry.SentAt).UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// FindIdentityByOrigin looks up the identity previously assigned to origin.
// The second return value reports whether one was found.
func (hs *HistoryStore) FindIdentityByOrigin(origin string) (string, bool, error) {
	var (
		identity string
		found    bool
	)
	err := hs.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(identitiesBucket).Get([]byte(origin))
		if data == nil {
			return nil
		}
		var entry identityEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("decode identity for %q: %w", origin, err)
		}
		identity = entry.UserID
		found = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return identity, found, nil
}

// SaveIdentity records identity for origin, overwriting any existing entry.
func (hs *HistoryStore) SaveIdentity(identity, origin string) error {
	data, err := json.Marshal(identityEntry{
		UserID:      identity,
		Origin:      origin,
		FirstSeenAt: time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return hs.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(identitiesBucket).Put([]byte(origin), data)
	})
}

// PutIdentityIfAbsent stores identity for origin unless the origin already
// has one, and returns whichever identity is bound after the call. The check
// and the write share one transaction, so concurrent first contacts from the
// same origin collapse to a single stored identity.
func (hs *HistoryStore) PutIdentityIfAbsent(identity, origin string) (string, error) {
	bound := identity
	err := hs.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(identitiesBucket)
		if data := b.Get([]byte(origin)); data != nil {
			var entry identityEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				return fmt.Errorf("decode identity for %q: %w", origin, err)
			}
			bound = entry.UserID
			return nil
		}
		data, err := json.Marshal(identityEntry{
			UserID:      identity,
			Origin:      origin,
			FirstSeenAt: time.Now().Unix(),
		})
		if err != nil {
			return err
		}
		return b.Put([]byte(origin), data)
	})
	if err != nil {
		return "", err
	}
	return bound, nil
}
