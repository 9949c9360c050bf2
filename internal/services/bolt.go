package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/divy-sh/breve/internal/models"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the backend's conversation and config storage on top of a BoltDB file. Every
// conversation is stored as a single JSON record, keyed by its ID, together with a revision number
// that orders conversations by their last update.
type BoltDB struct {
	db *bolt.DB
}

type conversationRecord struct {
	models.Conversation

	Revision  uint64    `json:"revision"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var (
	conversationsBucket = []byte("conversations")
	configBucket        = []byte("config")
)

// NewBoltDB opens (or creates, with 0600 permissions) the database at path and makes sure the
// required buckets exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{conversationsBucket, configBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, err
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// ConversationIDs returns the IDs of all stored conversations, most recently updated first.
func (b BoltDB) ConversationIDs(context.Context) ([]string, error) {
	var records []conversationRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(_, v []byte) error {
			var rec conversationRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(records, func(a, b conversationRecord) int {
		switch {
		case a.Revision > b.Revision:
			return -1
		case a.Revision < b.Revision:
			return 1
		}
		return 0
	})

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return ids, nil
}

// Conversation returns the conversation with the given ID, or nil if there is none.
func (b BoltDB) Conversation(_ context.Context, id string) (*models.Conversation, error) {
	var conv *models.Conversation
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(conversationsBucket).Get([]byte(id))
		if v == nil {
			return nil
		}
		var rec conversationRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal conversation %s: %w", id, err)
		}
		conv = &rec.Conversation
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// AddConversation stores a new, empty conversation with the given title and returns its
// generated ID.
func (b BoltDB) AddConversation(_ context.Context, title string) (string, error) {
	now := time.Now()
	conv := models.Conversation{
		ID:        uuid.New().String(),
		Title:     title,
		Messages:  []models.Message{},
		CreatedAt: &now,
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		return putConversation(tx.Bucket(conversationsBucket), conv, now)
	})
	if err != nil {
		return "", err
	}
	return conv.ID, nil
}

// UpdateConversation replaces the stored title and messages of an existing conversation and bumps
// its revision. If the conversation doesn't exist, the operation is silently ignored.
func (b BoltDB) UpdateConversation(_ context.Context, conv models.Conversation) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(conversationsBucket)
		v := bk.Get([]byte(conv.ID))
		if v == nil {
			return nil
		}

		var prev conversationRecord
		if err := json.Unmarshal(v, &prev); err != nil {
			return fmt.Errorf("failed to unmarshal conversation %s: %w", conv.ID, err)
		}
		// Creation time belongs to the store, callers can't rewrite it.
		conv.CreatedAt = prev.CreatedAt

		return putConversation(bk, conv, time.Now())
	})
}

// DeleteConversation removes a conversation and reports whether it existed.
func (b BoltDB) DeleteConversation(_ context.Context, id string) (bool, error) {
	var found bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(conversationsBucket)
		if bk.Get([]byte(id)) == nil {
			return nil
		}
		found = true
		return bk.Delete([]byte(id))
	})
	return found, err
}

// Config returns the value stored under key and whether it was present.
func (b BoltDB) Config(_ context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(configBucket).Get([]byte(key))
		if v != nil {
			value, found = string(v), true
		}
		return nil
	})
	return value, found, err
}

// SetConfig stores value under key, overwriting any previous value.
func (b BoltDB) SetConfig(_ context.Context, key, value string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(configBucket).Put([]byte(key), []byte(value))
	})
}

func putConversation(bk *bolt.Bucket, conv models.Conversation, updatedAt time.Time) error {
	rev, err := bk.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to get next sequence: %w", err)
	}

	v, err := json.Marshal(conversationRecord{
		Conversation: conv,
		Revision:     rev,
		UpdatedAt:    updatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	return bk.Put([]byte(conv.ID), v)
}
