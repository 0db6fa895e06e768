package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"meeting-server/domain"
)

type IMessageArchive interface {
	StoreMessage(message DiskMessage) error
	GetMessages(roomID domain.RoomID, cursor *string) ([]DiskMessage, *string, error)
	DropRoom(roomID domain.RoomID) error
}

// MessageArchive persists chat history in BadgerDB for paged reads.
// The room worker's in-memory list stays authoritative; the archive is
// wiped with the room.
type MessageArchive struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageArchive(db *badger.DB, log *slog.Logger, limitMessages *int) MessageArchive {
	return MessageArchive{db: db, log: log, limitMessages: limitMessages}
}

type DiskMessage struct {
	ID       uuid.UUID          `json:"id"`
	Room     domain.RoomID      `json:"room"`
	Author   string             `json:"author"`
	Name     string             `json:"name"`
	Body     string             `json:"body"`
	Kind     domain.MessageKind `json:"kind"`
	FileURL  string             `json:"fileUrl,omitempty"`
	FileName string             `json:"fileName,omitempty"`
	FileSize int64              `json:"fileSize,omitempty"`
	At       time.Time          `json:"at"`
}

func roomPrefix(roomID domain.RoomID) string {
	return fmt.Sprintf("msg:%s:", roomID)
}

// StoreMessage persists a message in BadgerDB.
// The key is formatted as "msg:{room_id}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two messages
//     arrive at the same nanosecond.
func (m MessageArchive) StoreMessage(message DiskMessage) error {
	key := fmt.Sprintf("%s%019d:%s",
		roomPrefix(message.Room),
		message.At.UnixNano(),
		message.ID,
	)
	bytes, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// GetMessages retrieves messages for a room using a reverse prefix
// scan, newest first. Thanks to the padded timestamp in the key the
// order is chronological, and the returned cursor resumes the page.
func (m MessageArchive) GetMessages(roomID domain.RoomID, cursor *string) ([]DiskMessage, *string, error) {
	var byteMessages [][]byte
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := roomPrefix(roomID)
		prefix := []byte(prefixStr)
		prefixLen := len(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past the newest possible key, then walk backwards.
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(byteMessages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", *m.limitMessages))
				break
			}
			item := it.Item()
			// Memorize cursor part of the actual key
			lastKey = string(item.Key()[prefixLen:])
			err := item.Value(func(value []byte) error {
				byteMessages = append(byteMessages, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	diskMessages := make([]DiskMessage, 0, len(byteMessages))
	for _, b := range byteMessages {
		var message DiskMessage
		if err = json.Unmarshal(b, &message); err != nil {
			return nil, nil, err
		}
		diskMessages = append(diskMessages, message)
	}
	// No rows scanned means no page to resume.
	if lastKey == "" {
		return diskMessages, nil, nil
	}
	return diskMessages, lo.ToPtr(lastKey), nil
}

// DropRoom deletes every archived message of a room. Chat history is
// room-scoped and goes away with the meeting.
func (m MessageArchive) DropRoom(roomID domain.RoomID) error {
	prefix := []byte(roomPrefix(roomID))
	var keys [][]byte
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	return m.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}
