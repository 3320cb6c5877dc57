//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IMessageRepository interface {
	StoreMessage(message ChatRecord) error
	ListRecent(limit int) ([]ChatRecord, error)
}

// ChatRecord is the durable form of a relayed message, user or bot.
type ChatRecord struct {
	ID         uuid.UUID `json:"id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	Bot        bool      `json:"bot"`
	At         time.Time `json:"at"`
}

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, log: log}
}

// messageKey formats "msg:{timestamp_padded}:{uuid}":
//  1. the 19-digit zero padding makes lexicographic order chronological;
//  2. the UUID disambiguates two messages landing on the same nanosecond.
func messageKey(m ChatRecord) []byte {
	return []byte(fmt.Sprintf("msg:%019d:%s", m.At.UnixNano(), m.ID))
}

func (r *MessageRepository) StoreMessage(message ChatRecord) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message), data)
	})
}

// ListRecent returns up to limit messages in chronological order, newest
// window last. A non-positive limit returns everything.
func (r *MessageRepository) ListRecent(limit int) ([]ChatRecord, error) {
	var records []ChatRecord
	prefix := []byte("msg:")

	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the newest possible key, then walk backwards.
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(records) == limit {
				r.log.Debug(fmt.Sprintf("maximum of %d messages reached", limit))
				break
			}
			var record ChatRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}
